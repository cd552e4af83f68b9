package models

import (
	"time"

	"gorm.io/gorm"
)

// AnswerRecord is append-only: one row per (player, question) pair. The
// exercise module already judged the content; the core only keeps the outcome.
type AnswerRecord struct {
	ID            uint           `json:"id" gorm:"primaryKey"`
	RoomID        uint           `json:"room_id" gorm:"not null;index"`
	PlayerID      uint           `json:"player_id" gorm:"not null;index"`
	QuestionIndex int            `json:"question_index" gorm:"not null"`
	IsCorrect     bool           `json:"is_correct" gorm:"not null"`
	ResponseTime  int            `json:"response_time" gorm:"not null"` // seconds
	Points        int            `json:"points" gorm:"not null"`
	SubmittedAt   time.Time      `json:"submitted_at"`
	CreatedAt     time.Time      `json:"created_at"`
	DeletedAt     gorm.DeletedAt `json:"-" gorm:"index"`
}
