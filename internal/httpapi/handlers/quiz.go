package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/matchcore/internal/common"
	"github.com/suPer8Hu/matchcore/internal/quiz"
)

func failQuiz(c *gin.Context, err error) {
	switch {
	case errors.Is(err, quiz.ErrInvalidSession):
		common.Fail(c, http.StatusNotFound, 40405, "quiz session not found or not completed")
	case errors.Is(err, quiz.ErrInvalidAnswer):
		common.Fail(c, http.StatusBadRequest, 10015, "answer does not match the current question")
	default:
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
	}
}

type startQuizReq struct {
	UserID int64 `json:"user_id" binding:"required"`
}

func (h *Handler) StartQuiz(c *gin.Context) {
	var req startQuizReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	res, err := h.Quiz.Start(req.UserID)
	if err != nil {
		failQuiz(c, err)
		return
	}
	common.OK(c, res)
}

type answerQuizReq struct {
	SessionID  int64  `json:"session_id" binding:"required"`
	QuestionID string `json:"question_id" binding:"required"`
	Option     string `json:"option" binding:"required"`
}

func (h *Handler) AnswerQuiz(c *gin.Context) {
	var req answerQuizReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	res, err := h.Quiz.Answer(c.Request.Context(), req.SessionID, req.QuestionID, req.Option)
	if err != nil {
		failQuiz(c, err)
		return
	}
	common.OK(c, res)
}

func (h *Handler) QuizResult(c *gin.Context) {
	id, ok := paramID(c, "session_id")
	if !ok {
		return
	}
	out, err := h.Quiz.Result(id)
	if err != nil {
		failQuiz(c, err)
		return
	}
	common.OK(c, out)
}

func (h *Handler) QuizHistory(c *gin.Context) {
	uid, ok := paramID(c, "user_id")
	if !ok {
		return
	}
	limit := 10
	if n, err := strconv.Atoi(c.Query("limit")); err == nil && n > 0 {
		limit = n
	}
	common.OK(c, gin.H{"user_id": uid, "history": h.Quiz.History(uid, limit)})
}

func (h *Handler) QuizStats(c *gin.Context) {
	common.OK(c, h.Quiz.Stats())
}
