package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// StatusSnapshot is the complete, self-consistent view a poll returns. Clients
// reconcile from it alone; there are no deltas.
type StatusSnapshot struct {
	RoomID               uint   `json:"room_id"`
	Code                 string `json:"code"`
	Phase                Phase  `json:"phase"`
	CurrentQuestionIndex int    `json:"current_question_index"` // -1 before the first question
	TimeRemaining        int    `json:"time_remaining"`
	TotalQuestions       int    `json:"total_questions"`
	PlayerCount          int    `json:"player_count"`
	IsActive             bool   `json:"is_active"`
}

const snapshotTTL = 2 * time.Hour

// Snapshots publishes each room's latest status to redis so polls can be
// answered even when the owning session is not in local memory anymore.
type Snapshots struct {
	rdb *redis.Client
	log *logrus.Entry
}

func NewSnapshots(rdb *redis.Client, log *logrus.Logger) *Snapshots {
	return &Snapshots{rdb: rdb, log: log.WithField("component", "snapshots")}
}

func snapshotKey(roomID uint) string {
	return fmt.Sprintf("room:%d:state", roomID)
}

func (s *Snapshots) Publish(ctx context.Context, snap StatusSnapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		s.log.WithError(err).Error("failed to marshal snapshot")
		return
	}
	if err := s.rdb.Set(ctx, snapshotKey(snap.RoomID), data, snapshotTTL).Err(); err != nil {
		// A missed publish only degrades the fallback path; the in-memory
		// session remains authoritative.
		s.log.WithError(err).WithField("room_id", snap.RoomID).Warn("failed to publish snapshot")
	}
}

func (s *Snapshots) Fetch(ctx context.Context, roomID uint) (*StatusSnapshot, error) {
	data, err := s.rdb.Get(ctx, snapshotKey(roomID)).Result()
	if err == redis.Nil {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	var snap StatusSnapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *Snapshots) Delete(ctx context.Context, roomID uint) error {
	return s.rdb.Del(ctx, snapshotKey(roomID)).Err()
}
