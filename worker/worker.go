package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"quizrally/services"
	"quizrally/store"
	"quizrally/tasks"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// Server runs the background task processor in-process.
type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	log    *logrus.Entry
}

func NewServer(redisOpt asynq.RedisClientOpt, st store.Store, snaps *services.Snapshots, logger *logrus.Logger) *Server {
	logEntry := logger.WithField("component", "worker")

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 5,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logEntry.WithError(err).WithField("task_type", task.Type()).Error("task failed")
		}),
	})

	mux := asynq.NewServeMux()
	archive := &archiveHandler{store: st, snapshots: snaps, log: logEntry}
	mux.HandleFunc(tasks.TypeRoomArchive, archive.ProcessTask)

	return &Server{server: server, mux: mux, log: logEntry}
}

// Start blocks until Shutdown; run it in its own goroutine.
func (s *Server) Start() {
	s.log.Info("worker server starting")
	if err := s.server.Run(s.mux); err != nil {
		s.log.WithError(err).Error("worker server stopped")
	}
}

func (s *Server) Shutdown() {
	s.server.Shutdown()
	s.log.Info("worker server shut down")
}

// archiveHandler persists the frozen results of a terminal room and drops its
// redis snapshot; later polls are served from the store.
type archiveHandler struct {
	store     store.Store
	snapshots *services.Snapshots
	log       *logrus.Entry
}

func (h *archiveHandler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var payload tasks.RoomArchivePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal archive payload: %w", err)
	}

	if len(payload.Entries) > 0 {
		for i := range payload.Entries {
			payload.Entries[i].RoomID = payload.RoomID
		}
		if err := h.store.SaveResults(ctx, payload.RoomID, payload.Entries); err != nil {
			return fmt.Errorf("save results for room %d: %w", payload.RoomID, err)
		}
	}
	if h.snapshots != nil {
		if err := h.snapshots.Delete(ctx, payload.RoomID); err != nil {
			h.log.WithError(err).WithField("room_id", payload.RoomID).Warn("failed to drop snapshot")
		}
	}

	h.log.WithFields(logrus.Fields{
		"room_id": payload.RoomID,
		"status":  payload.Status,
		"entries": len(payload.Entries),
	}).Info("room archived")
	return nil
}
