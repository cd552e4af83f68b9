package handlers

import (
	"errors"
	"net/http"

	"quizrally/services"
	"quizrally/sharding"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// handleServiceError maps service sentinels to HTTP responses. The "code"
// slug lets clients branch without parsing prose, in particular to tell
// wrong_shard from not_found and redirect.
func handleServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, sharding.ErrInvalidCode):
		errorResponse(c, http.StatusBadRequest, "invalid_code", err)
	case errors.Is(err, services.ErrInvalidRoomConfig),
		errors.Is(err, services.ErrInvalidPlayerName):
		errorResponse(c, http.StatusBadRequest, "invalid_request", err)
	case errors.Is(err, services.ErrWrongShard):
		errorResponse(c, http.StatusMisdirectedRequest, "wrong_shard", err)
	case errors.Is(err, services.ErrRoomNotFound), errors.Is(err, services.ErrPlayerNotFound):
		errorResponse(c, http.StatusNotFound, "not_found", err)
	case errors.Is(err, services.ErrRoomClosed):
		errorResponse(c, http.StatusGone, "room_closed", err)
	case errors.Is(err, services.ErrRoomFull):
		errorResponse(c, http.StatusConflict, "room_full", err)
	case errors.Is(err, services.ErrDuplicateName):
		errorResponse(c, http.StatusConflict, "duplicate_name", err)
	case errors.Is(err, services.ErrRoomNotJoinable):
		errorResponse(c, http.StatusConflict, "room_not_joinable", err)
	case errors.Is(err, services.ErrNoPlayers):
		errorResponse(c, http.StatusConflict, "no_players", err)
	case errors.Is(err, services.ErrNotFinished):
		errorResponse(c, http.StatusConflict, "not_finished", err)
	case errors.Is(err, services.ErrCapacityExhausted):
		errorResponse(c, http.StatusServiceUnavailable, "capacity_exhausted", err)
	default:
		logrus.WithError(err).Error("unhandled service error")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "an unexpected error occurred", "code": "internal_error",
		})
	}
}

func errorResponse(c *gin.Context, status int, code string, err error) {
	c.JSON(status, gin.H{"error": err.Error(), "code": code})
}
