package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	RoomStatusWaiting   = "waiting"
	RoomStatusActive    = "active"
	RoomStatusFinished  = "finished"
	RoomStatusCancelled = "cancelled"
)

type Room struct {
	ID              uint           `json:"id" gorm:"primaryKey"`
	Code            string         `json:"code" gorm:"index;not null"` // unique among non-finished rooms only
	Title           string         `json:"title" gorm:"not null"`
	Description     string         `json:"description"`
	MaxPlayers      int            `json:"max_players" gorm:"not null"`
	QuestionsCount  int            `json:"questions_count" gorm:"not null"`
	TimePerQuestion int            `json:"time_per_question" gorm:"not null"` // seconds
	Status          string         `json:"status" gorm:"not null;default:'waiting'"`
	CreatedAt       time.Time      `json:"created_at"`
	StartedAt       *time.Time     `json:"started_at"`
	FinishedAt      *time.Time     `json:"finished_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       gorm.DeletedAt `json:"-" gorm:"index"`

	// Relationships
	Players []Player       `json:"players,omitempty" gorm:"foreignKey:RoomID"`
	Answers []AnswerRecord `json:"answers,omitempty" gorm:"foreignKey:RoomID"`
}

// Open reports whether the room still occupies its code. Finished and
// cancelled rooms release the code for reuse.
func (r *Room) Open() bool {
	return r.Status == RoomStatusWaiting || r.Status == RoomStatusActive
}
