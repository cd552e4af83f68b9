package tasks

import (
	"encoding/json"

	"quizrally/models"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

const TypeRoomArchive = "room:archive"

// RoomArchivePayload carries everything the worker needs, so archival does
// not depend on the session still being in memory.
type RoomArchivePayload struct {
	RoomID  uint                 `json:"room_id"`
	Status  string               `json:"status"`
	Entries []models.ResultEntry `json:"entries"`
}

func NewRoomArchiveTask(payload RoomArchivePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeRoomArchive, data), nil
}

// Enqueuer pushes archive tasks onto the queue. It satisfies the registry's
// Archiver dependency; a failed enqueue is logged and dropped since the
// authoritative store already holds the room's terminal status.
type Enqueuer struct {
	client *asynq.Client
	log    *logrus.Entry
}

func NewEnqueuer(client *asynq.Client, log *logrus.Logger) *Enqueuer {
	return &Enqueuer{client: client, log: log.WithField("component", "archive_enqueuer")}
}

func (e *Enqueuer) EnqueueArchive(roomID uint, status string, entries []models.ResultEntry) {
	task, err := NewRoomArchiveTask(RoomArchivePayload{RoomID: roomID, Status: status, Entries: entries})
	if err != nil {
		e.log.WithError(err).WithField("room_id", roomID).Error("failed to build archive task")
		return
	}
	if _, err := e.client.Enqueue(task, asynq.MaxRetry(5)); err != nil {
		e.log.WithError(err).WithField("room_id", roomID).Error("failed to enqueue archive task")
		return
	}
	e.log.WithField("room_id", roomID).Debug("archive task enqueued")
}
