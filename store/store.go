// Package store is the persistence strategy behind the room registry. The
// backend is picked once at startup; the session layer stays authoritative
// for live state and treats the store as durable record-keeping.
package store

import (
	"context"
	"errors"
	"time"

	"quizrally/models"
)

var ErrRoomNotFound = errors.New("room not found")

type Store interface {
	CreateRoom(ctx context.Context, room *models.Room) error
	RoomByID(ctx context.Context, id uint) (*models.Room, error)
	// LatestRoomByCode matches case-insensitively and returns the most recent
	// room for the code regardless of status, so a released code can still be
	// told apart from one that never existed.
	LatestRoomByCode(ctx context.Context, code string) (*models.Room, error)
	// CodeInUse reports whether any waiting or active room holds the code.
	CodeInUse(ctx context.Context, code string) (bool, error)
	UpdateRoomStatus(ctx context.Context, id uint, status string, at time.Time) error

	CreatePlayer(ctx context.Context, player *models.Player) error
	UpdatePlayerProgress(ctx context.Context, id uint, totalScore, correctAnswers int) error
	SetPlayerConnected(ctx context.Context, id uint, connected bool) error

	CreateAnswer(ctx context.Context, answer *models.AnswerRecord) error

	SaveResults(ctx context.Context, roomID uint, entries []models.ResultEntry) error
	ResultsByRoom(ctx context.Context, roomID uint) ([]models.ResultEntry, error)
}
