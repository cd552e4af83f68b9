package handlers

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"

	"quizrally/middleware"
	"quizrally/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type RoomHandler struct {
	registry  *services.Registry
	jwtSecret string
	clock     services.Clock
}

func NewRoomHandler(registry *services.Registry, jwtSecret string, clock services.Clock) *RoomHandler {
	return &RoomHandler{registry: registry, jwtSecret: jwtSecret, clock: clock}
}

type JoinRequest struct {
	PlayerName string `json:"player_name" binding:"required"`
}

type AnswerRequest struct {
	PlayerID        uint `json:"player_id" binding:"required"`
	QuestionIndex   *int `json:"question_index" binding:"required"`
	IsCorrect       bool `json:"is_correct"`
	ResponseSeconds int  `json:"response_time_seconds"`
}

type HeartbeatRequest struct {
	PlayerID uint `json:"player_id" binding:"required"`
}

// CreateRoom opens a new room and hands the host a control token for it.
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	var cfg services.RoomConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "invalid_request"})
		return
	}

	room, err := h.registry.CreateRoom(c.Request.Context(), cfg)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	token, err := services.IssueHostToken(h.jwtSecret, room.ID, h.clock.Now())
	if err != nil {
		logrus.WithError(err).Error("failed to issue host token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue host token", "code": "internal_error"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"room": room, "host_token": token})
}

// GetRoomByCode is the code-routed lookup participants use before joining.
func (h *RoomHandler) GetRoomByCode(c *gin.Context) {
	room, err := h.registry.LookupByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": room})
}

func (h *RoomHandler) JoinRoom(c *gin.Context) {
	var req JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "invalid_request"})
		return
	}

	sess, err := h.registry.SessionByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		handleServiceError(c, err)
		return
	}
	player, err := sess.Join(c.Request.Context(), req.PlayerName)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	room := sess.Room()
	c.JSON(http.StatusOK, gin.H{"player": player, "room": room})
}

// GetStatus is the poll endpoint: always a complete snapshot, never a delta.
func (h *RoomHandler) GetStatus(c *gin.Context) {
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}
	snap, err := h.registry.Status(c.Request.Context(), roomID)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *RoomHandler) GetPlayers(c *gin.Context) {
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}
	sess, err := h.registry.Session(roomID)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"players": sess.Players()})
}

func (h *RoomHandler) StartRoom(c *gin.Context) {
	roomID, ok := h.authorizedRoomID(c)
	if !ok {
		return
	}
	sess, err := h.registry.Session(roomID)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	phase, err := sess.Start(c.Request.Context())
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"phase": phase})
}

func (h *RoomHandler) CancelRoom(c *gin.Context) {
	roomID, ok := h.authorizedRoomID(c)
	if !ok {
		return
	}
	if err := h.registry.CancelRoom(c.Request.Context(), roomID); err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"phase": services.PhaseCancelled})
}

// SubmitAnswer records an answer outcome. Late and duplicate submissions are
// acknowledged with accepted=false rather than treated as failures; they can
// never corrupt the aggregate score.
func (h *RoomHandler) SubmitAnswer(c *gin.Context) {
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}
	var req AnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "invalid_request"})
		return
	}
	if *req.QuestionIndex < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "question_index must be >= 0", "code": "invalid_request"})
		return
	}

	sess, err := h.registry.Session(roomID)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	record, err := sess.RecordAnswer(c.Request.Context(), req.PlayerID, *req.QuestionIndex, req.IsCorrect, req.ResponseSeconds)
	switch err {
	case nil:
		c.JSON(http.StatusOK, gin.H{"accepted": true, "points": record.Points, "is_correct": record.IsCorrect})
	case services.ErrQuestionClosed:
		c.JSON(http.StatusOK, gin.H{"accepted": false, "reason": "question_closed"})
	case services.ErrDuplicateAnswer:
		c.JSON(http.StatusOK, gin.H{"accepted": false, "reason": "duplicate_answer"})
	default:
		handleServiceError(c, err)
	}
}

func (h *RoomHandler) Heartbeat(c *gin.Context) {
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}
	var req HeartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "invalid_request"})
		return
	}
	// Heartbeats against unknown players or rooms no-op: a client with stale
	// state reconciles on its next status poll.
	if sess, err := h.registry.Session(roomID); err == nil {
		sess.Heartbeat(req.PlayerID)
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// GetResults serves the final ranking of a finished room, optionally as a
// delimited export for offline analysis.
func (h *RoomHandler) GetResults(c *gin.Context) {
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}
	results, err := h.registry.Results(c.Request.Context(), roomID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	if c.Query("format") == "csv" {
		writeResultsCSV(c, results)
		return
	}
	c.JSON(http.StatusOK, results)
}

func writeResultsCSV(c *gin.Context, results *services.RoomResults) {
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition",
		fmt.Sprintf("attachment; filename=%s-results.csv", results.Room.Code))

	w := csv.NewWriter(c.Writer)
	_ = w.Write([]string{"rank", "name", "score", "correct"})
	for _, e := range results.Entries {
		_ = w.Write([]string{
			strconv.Itoa(e.Rank),
			e.PlayerName,
			strconv.Itoa(e.TotalScore),
			strconv.Itoa(e.CorrectAnswers),
		})
	}
	w.Flush()
}

func roomIDParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id", "code": "invalid_request"})
		return 0, false
	}
	return uint(id), true
}

// authorizedRoomID checks the host token covers the room in the path.
func (h *RoomHandler) authorizedRoomID(c *gin.Context) (uint, bool) {
	roomID, ok := roomIDParam(c)
	if !ok {
		return 0, false
	}
	tokenRoom, exists := c.Get(middleware.HostRoomIDKey)
	if !exists || tokenRoom.(uint) != roomID {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "host token does not control this room", "code": "unauthorized"})
		return 0, false
	}
	return roomID, true
}
