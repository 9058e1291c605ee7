package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/matchcore/internal/chat"
	"github.com/suPer8Hu/matchcore/internal/chatrooms"
	"github.com/suPer8Hu/matchcore/internal/common"
	"github.com/suPer8Hu/matchcore/internal/conversation"
	"github.com/suPer8Hu/matchcore/internal/durable"
	"github.com/suPer8Hu/matchcore/internal/matches"
	"github.com/suPer8Hu/matchcore/internal/quiz"
	"github.com/suPer8Hu/matchcore/internal/users"
)

// Services are the in-memory domain services the handlers expose. Jobs and
// Audit are nil when the process runs without a database.
type Services struct {
	Users         *users.Service
	Matches       *matches.Service
	Chats         *chatrooms.Service
	Conversations *conversation.Orchestrator
	Quiz          *quiz.Service
	Jobs          *chat.Service
	Audit         *durable.AuditLog
}

type Handler struct {
	Services
}

func NewHandler(s Services) *Handler {
	return &Handler{Services: s}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

func paramID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		common.Fail(c, http.StatusBadRequest, 10004, "invalid "+name)
		return 0, false
	}
	return id, true
}

func queryID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Query(name), 10, 64)
	if err != nil || id <= 0 {
		common.Fail(c, http.StatusBadRequest, 10004, name+" required")
		return 0, false
	}
	return id, true
}

func queryLimit(c *gin.Context, def int) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil || n <= 0 {
		return def
	}
	if n > 200 {
		return 200
	}
	return n
}
