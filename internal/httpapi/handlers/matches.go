package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/matchcore/internal/chatrooms"
	"github.com/suPer8Hu/matchcore/internal/common"
	"github.com/suPer8Hu/matchcore/internal/matches"
)

type createMatchReq struct {
	UserID1            int64  `json:"user_id_1" binding:"required"`
	UserID2            int64  `json:"user_id_2" binding:"required"`
	DescriptionToUser1 string `json:"description_to_user_1"`
	DescriptionToUser2 string `json:"description_to_user_2"`
	Score              int    `json:"score"`
}

func failMatch(c *gin.Context, err error) {
	switch {
	case errors.Is(err, matches.ErrNotFound):
		common.Fail(c, http.StatusNotFound, 40402, "match not found")
	case errors.Is(err, matches.ErrNotParticipant):
		common.Fail(c, http.StatusForbidden, 40301, "user is not part of this match")
	case errors.Is(err, matches.ErrSameUser):
		common.Fail(c, http.StatusBadRequest, 10013, "cannot match a user with themselves")
	case errors.Is(err, chatrooms.ErrNotFound):
		common.Fail(c, http.StatusNotFound, 40403, "chat session not found")
	case errors.Is(err, chatrooms.ErrNotParticipant):
		common.Fail(c, http.StatusForbidden, 40302, "sender is not a participant")
	case errors.Is(err, chatrooms.ErrEmptyMessage):
		common.Fail(c, http.StatusBadRequest, 10014, "message is empty")
	default:
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
	}
}

func (h *Handler) CreateMatch(c *gin.Context) {
	var req createMatchReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	m, err := h.Matches.Create(matches.CreateInput{
		UserID1:            req.UserID1,
		UserID2:            req.UserID2,
		DescriptionToUser1: req.DescriptionToUser1,
		DescriptionToUser2: req.DescriptionToUser2,
		Score:              req.Score,
	})
	if err != nil {
		failMatch(c, err)
		return
	}
	common.OK(c, m)
}

// GetMatch returns the match as seen by the user_id query parameter.
func (h *Handler) GetMatch(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	uid, ok := queryID(c, "user_id")
	if !ok {
		return
	}
	v, err := h.Matches.ViewFor(uid, id)
	if err != nil {
		failMatch(c, err)
		return
	}
	common.OK(c, v)
}

func (h *Handler) ToggleLike(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	liked, err := h.Matches.ToggleLike(id)
	if err != nil {
		failMatch(c, err)
		return
	}
	common.OK(c, gin.H{"match_id": id, "liked": liked})
}

func (h *Handler) OpenChat(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	cs, err := h.Chats.OpenForMatch(id)
	if err != nil {
		failMatch(c, err)
		return
	}
	common.OK(c, gin.H{"chat_session_id": cs.ID, "match_id": cs.MatchID})
}

type appendMessageReq struct {
	Sender  int64  `json:"sender" binding:"required"`
	Content string `json:"content" binding:"required"`
}

func (h *Handler) AppendChatMessage(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req appendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	msg, err := h.Chats.Append(id, req.Sender, req.Content)
	if err != nil {
		failMatch(c, err)
		return
	}
	common.OK(c, msg)
}

func (h *Handler) ListChatMessages(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	msgs, err := h.Chats.History(id, queryLimit(c, 50))
	if err != nil {
		failMatch(c, err)
		return
	}
	common.OK(c, gin.H{"messages": msgs})
}
