package models

import "time"

// ResultEntry is one frozen ranking row of a finished room, archived by the
// background worker once the session terminates.
type ResultEntry struct {
	ID             uint      `json:"-" gorm:"primaryKey"`
	RoomID         uint      `json:"-" gorm:"not null;index"`
	Rank           int       `json:"rank" gorm:"not null"`
	PlayerID       uint      `json:"player_id" gorm:"not null"`
	PlayerName     string    `json:"player_name" gorm:"not null"`
	TotalScore     int       `json:"total_score" gorm:"not null"`
	CorrectAnswers int       `json:"correct_answers" gorm:"not null"`
	CreatedAt      time.Time `json:"-"`
}
