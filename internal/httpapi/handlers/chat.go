package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/matchcore/internal/chat"
	"github.com/suPer8Hu/matchcore/internal/common"
	"github.com/suPer8Hu/matchcore/internal/conversation"
)

type aiChatReq struct {
	UserID  int64  `json:"user_id" binding:"required"`
	Message string `json:"message" binding:"required"`
}

// SendAIMessage runs one orchestrated turn. Provider outages never fail the
// request: the outcome then carries the fallback reply and success=false.
func (h *Handler) SendAIMessage(c *gin.Context) {
	var req aiChatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	out, err := h.Conversations.Send(c.Request.Context(), req.UserID, req.Message)
	if err != nil {
		switch {
		case errors.Is(err, conversation.ErrEmptyMessage):
			common.Fail(c, http.StatusBadRequest, 10014, "message is empty")
			return
		case errors.Is(err, conversation.ErrUnknownUser):
			common.Fail(c, http.StatusNotFound, 40401, "user not found")
			return
		}
		log.Printf("[SendAIMessage] user=%d err=%v", req.UserID, err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	common.OK(c, out)
}

func (h *Handler) AIHistory(c *gin.Context) {
	uid, ok := paramID(c, "user_id")
	if !ok {
		return
	}
	common.OK(c, gin.H{
		"user_id": uid,
		"state":   h.Conversations.State(uid),
		"turns":   h.Conversations.History(uid),
	})
}

func (h *Handler) ResetAIConversation(c *gin.Context) {
	uid, ok := paramID(c, "user_id")
	if !ok {
		return
	}
	common.OK(c, gin.H{"user_id": uid, "reset": h.Conversations.Reset(uid)})
}

// SendAIMessageAsync queues the send and returns the job id. A repeated
// Idempotency-Key header returns the original job.
func (h *Handler) SendAIMessageAsync(c *gin.Context) {
	if h.Jobs == nil {
		common.Fail(c, http.StatusServiceUnavailable, 50301, "async sends disabled")
		return
	}
	var req aiChatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if h.Users != nil && !h.Users.Exists(req.UserID) {
		common.Fail(c, http.StatusNotFound, 40401, "user not found")
		return
	}

	j, created, err := h.Jobs.Submit(c.Request.Context(), req.UserID, req.Message, c.GetHeader("Idempotency-Key"))
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrEmptyPrompt):
			common.Fail(c, http.StatusBadRequest, 10014, "message is empty")
		case errors.Is(err, chat.ErrQueueFull), errors.Is(err, chat.ErrClosed):
			common.Fail(c, http.StatusServiceUnavailable, 50302, "enqueue failed")
		default:
			log.Printf("[SendAIMessageAsync] user=%d err=%v", req.UserID, err)
			common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		}
		return
	}
	common.OK(c, gin.H{"job_id": j.ID, "created": created})
}

func (h *Handler) GetAIJob(c *gin.Context) {
	if h.Jobs == nil {
		common.Fail(c, http.StatusServiceUnavailable, 50301, "async sends disabled")
		return
	}
	uid, ok := queryID(c, "user_id")
	if !ok {
		return
	}
	jobID := c.Param("job_id")
	if jobID == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "job_id required")
		return
	}

	j, err := h.Jobs.Get(c.Request.Context(), uid, jobID)
	if err != nil {
		if errors.Is(err, chat.ErrJobNotFound) {
			common.Fail(c, http.StatusNotFound, 40404, "job not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	common.OK(c, gin.H{"job": j})
}
