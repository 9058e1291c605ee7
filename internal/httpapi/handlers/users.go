package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/matchcore/internal/common"
	"github.com/suPer8Hu/matchcore/internal/users"
)

type createUserReq struct {
	TelegramUserName string `json:"telegram_user_name"`
	TelegramID       int64  `json:"telegram_id"`
	Gender           int    `json:"gender" binding:"required"`
	Age              int    `json:"age"`
	TargetGender     int    `json:"target_gender"`
}

func failUser(c *gin.Context, err error) {
	switch {
	case errors.Is(err, users.ErrNotFound):
		common.Fail(c, http.StatusNotFound, 40401, "user not found")
	case errors.Is(err, users.ErrInvalidAge):
		common.Fail(c, http.StatusBadRequest, 10011, "age must be between 18 and 120")
	case errors.Is(err, users.ErrInvalidInput):
		common.Fail(c, http.StatusBadRequest, 10012, "invalid gender")
	default:
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
	}
}

func (h *Handler) CreateUser(c *gin.Context) {
	var req createUserReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	u, err := h.Users.Create(users.CreateInput{
		TelegramUserName: req.TelegramUserName,
		TelegramID:       req.TelegramID,
		Gender:           users.Gender(req.Gender),
		Age:              req.Age,
		TargetGender:     users.Gender(req.TargetGender),
	})
	if err != nil {
		failUser(c, err)
		return
	}
	common.OK(c, u)
}

func (h *Handler) GetUserByID(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	u, err := h.Users.Get(id)
	if err != nil {
		failUser(c, err)
		return
	}
	common.OK(c, u)
}

type updateUserReq struct {
	Age                *int    `json:"age"`
	TargetGender       *int    `json:"target_gender"`
	PersonalitySummary *string `json:"personality_summary"`
}

func (h *Handler) UpdateUser(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req updateUserReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if req.Age != nil {
		if err := h.Users.EditAge(id, *req.Age); err != nil {
			failUser(c, err)
			return
		}
	}
	if req.TargetGender != nil {
		if err := h.Users.EditTargetGender(id, users.Gender(*req.TargetGender)); err != nil {
			failUser(c, err)
			return
		}
	}
	if req.PersonalitySummary != nil {
		if err := h.Users.EditSummary(id, *req.PersonalitySummary); err != nil {
			failUser(c, err)
			return
		}
	}
	u, err := h.Users.Get(id)
	if err != nil {
		failUser(c, err)
		return
	}
	common.OK(c, u)
}

func (h *Handler) DeleteUser(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	rep, err := h.Users.Deactivate(c.Request.Context(), id)
	if err != nil {
		failUser(c, err)
		return
	}
	if h.Conversations != nil {
		h.Conversations.Forget(id)
	}
	common.OK(c, rep)
}

type blockReq struct {
	BlockedUserID int64 `json:"blocked_user_id" binding:"required"`
}

func (h *Handler) BlockUser(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req blockReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if err := h.Users.Block(id, req.BlockedUserID); err != nil {
		failUser(c, err)
		return
	}
	common.OK(c, gin.H{"blocked_user_id": req.BlockedUserID})
}

func (h *Handler) UserStats(c *gin.Context) {
	common.OK(c, h.Users.Statistics())
}

type auditEvent struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// UserEvents lists the domain events the worker recorded for a user. It
// reads the audit table directly, so deactivated users keep their history.
func (h *Handler) UserEvents(c *gin.Context) {
	if h.Audit == nil {
		common.Fail(c, http.StatusServiceUnavailable, 50303, "audit log disabled")
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	entries, err := h.Audit.ListByUser(c.Request.Context(), id, queryLimit(c, 50))
	if err != nil {
		log.Printf("[UserEvents] user=%d err=%v", id, err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	out := make([]auditEvent, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditEvent{ID: e.ID, Type: e.Type, Payload: e.Payload, OccurredAt: e.OccurredAt})
	}
	common.OK(c, gin.H{"user_id": id, "events": out})
}
