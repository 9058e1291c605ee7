package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/matchcore/internal/common"
	"github.com/suPer8Hu/matchcore/internal/httpapi/handlers"
	"github.com/suPer8Hu/matchcore/internal/httpapi/middleware"
	"github.com/suPer8Hu/matchcore/internal/metrics"
)

func NewRouter(s handlers.Services) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	h := handlers.NewHandler(s)

	r.GET("/ping", h.Ping)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	// users
	r.POST("/users", h.CreateUser)
	r.GET("/users/stats", h.UserStats)
	r.GET("/users/:id", h.GetUserByID)
	r.PATCH("/users/:id", h.UpdateUser)
	r.DELETE("/users/:id", h.DeleteUser)
	r.POST("/users/:id/block", h.BlockUser)
	r.GET("/users/:id/events", h.UserEvents)

	// matches and their chat rooms
	r.POST("/matches", h.CreateMatch)
	r.GET("/matches/:id", h.GetMatch)
	r.POST("/matches/:id/like", h.ToggleLike)
	r.POST("/matches/:id/chat", h.OpenChat)
	r.POST("/chat/:id/messages", h.AppendChatMessage)
	r.GET("/chat/:id/messages", h.ListChatMessages)

	// AI conversation
	r.POST("/ai/chat", h.SendAIMessage)
	r.POST("/ai/chat/async", h.SendAIMessageAsync)
	r.GET("/ai/jobs/:job_id", h.GetAIJob)
	r.GET("/ai/history/:user_id", h.AIHistory)
	r.POST("/ai/reset/:user_id", h.ResetAIConversation)

	// personality quiz
	r.POST("/quiz/start", h.StartQuiz)
	r.POST("/quiz/answer", h.AnswerQuiz)
	r.GET("/quiz/stats", h.QuizStats)
	r.GET("/quiz/history/:user_id", h.QuizHistory)
	r.GET("/quiz/:session_id/result", h.QuizResult)
	return r
}
