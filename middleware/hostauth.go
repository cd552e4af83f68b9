package middleware

import (
	"net/http"
	"strings"

	"quizrally/services"

	"github.com/gin-gonic/gin"
)

const HostRoomIDKey = "host_room_id"

// HostAuth guards room-control endpoints. The bearer token is the host token
// issued at room creation; handlers check it matches the room being driven.
func HostAuth(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "host token required", "code": "unauthorized",
			})
			return
		}
		roomID, err := services.ParseHostToken(jwtSecret, strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid host token", "code": "unauthorized",
			})
			return
		}
		c.Set(HostRoomIDKey, roomID)
		c.Next()
	}
}
