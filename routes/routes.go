package routes

import (
	"net/http"

	"quizrally/handlers"
	"quizrally/middleware"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(router *gin.Engine, roomHandler *handlers.RoomHandler, jwtSecret string) {
	api := router.Group("/api")
	{
		rooms := api.Group("/rooms")
		{
			// Host-facing
			rooms.POST("", roomHandler.CreateRoom)

			hostOnly := rooms.Group("/")
			hostOnly.Use(middleware.HostAuth(jwtSecret))
			{
				hostOnly.POST("/:id/start", roomHandler.StartRoom)
				hostOnly.POST("/:id/cancel", roomHandler.CancelRoom)
			}

			// Participant-facing; codes route here only when their length
			// matches this shard's tier.
			rooms.GET("/by-code/:code", roomHandler.GetRoomByCode)
			rooms.POST("/by-code/:code/join", roomHandler.JoinRoom)

			// Poll surface: every response is a full snapshot.
			rooms.GET("/:id/status", roomHandler.GetStatus)
			rooms.GET("/:id/players", roomHandler.GetPlayers)
			rooms.POST("/:id/answer", roomHandler.SubmitAnswer)
			rooms.POST("/:id/heartbeat", roomHandler.Heartbeat)
			rooms.GET("/:id/results", roomHandler.GetResults)
		}
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
