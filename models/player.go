package models

import (
	"time"

	"gorm.io/gorm"
)

type Player struct {
	ID             uint           `json:"id" gorm:"primaryKey"`
	RoomID         uint           `json:"room_id" gorm:"not null;index"`
	Name           string         `json:"name" gorm:"not null"`
	IsConnected    bool           `json:"is_connected" gorm:"not null;default:true"`
	TotalScore     int            `json:"total_score" gorm:"not null;default:0"`
	CorrectAnswers int            `json:"correct_answers" gorm:"not null;default:0"`
	JoinedAt       time.Time      `json:"joined_at"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `json:"-" gorm:"index"`
}
