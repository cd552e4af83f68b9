package store

import (
	"context"
	"errors"
	"time"

	"quizrally/models"

	"gorm.io/gorm"
)

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate creates the schema for all core entities.
func (s *GormStore) Migrate() error {
	return s.db.AutoMigrate(
		&models.Room{},
		&models.Player{},
		&models.AnswerRecord{},
		&models.ResultEntry{},
	)
}

func (s *GormStore) CreateRoom(ctx context.Context, room *models.Room) error {
	return s.db.WithContext(ctx).Create(room).Error
}

func (s *GormStore) RoomByID(ctx context.Context, id uint) (*models.Room, error) {
	var room models.Room
	err := s.db.WithContext(ctx).First(&room, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (s *GormStore) LatestRoomByCode(ctx context.Context, code string) (*models.Room, error) {
	var room models.Room
	// Released codes go back to the pool, so several rooms may share one.
	// The newest row is the one the code currently refers to.
	err := s.db.WithContext(ctx).
		Where("UPPER(code) = UPPER(?)", code).
		Order("id DESC").
		First(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (s *GormStore) CodeInUse(ctx context.Context, code string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Room{}).
		Where("UPPER(code) = UPPER(?) AND status IN ?", code,
			[]string{models.RoomStatusWaiting, models.RoomStatusActive}).
		Count(&count).Error
	return count > 0, err
}

func (s *GormStore) UpdateRoomStatus(ctx context.Context, id uint, status string, at time.Time) error {
	updates := map[string]interface{}{"status": status}
	switch status {
	case models.RoomStatusActive:
		updates["started_at"] = at
	case models.RoomStatusFinished, models.RoomStatusCancelled:
		updates["finished_at"] = at
	}
	return s.db.WithContext(ctx).Model(&models.Room{}).Where("id = ?", id).Updates(updates).Error
}

func (s *GormStore) CreatePlayer(ctx context.Context, player *models.Player) error {
	return s.db.WithContext(ctx).Create(player).Error
}

func (s *GormStore) UpdatePlayerProgress(ctx context.Context, id uint, totalScore, correctAnswers int) error {
	return s.db.WithContext(ctx).Model(&models.Player{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"total_score":     totalScore,
			"correct_answers": correctAnswers,
		}).Error
}

func (s *GormStore) SetPlayerConnected(ctx context.Context, id uint, connected bool) error {
	return s.db.WithContext(ctx).Model(&models.Player{}).Where("id = ?", id).
		Update("is_connected", connected).Error
}

func (s *GormStore) CreateAnswer(ctx context.Context, answer *models.AnswerRecord) error {
	return s.db.WithContext(ctx).Create(answer).Error
}

func (s *GormStore) SaveResults(ctx context.Context, roomID uint, entries []models.ResultEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Archival is idempotent: a retried task replaces its own rows.
		if err := tx.Where("room_id = ?", roomID).Delete(&models.ResultEntry{}).Error; err != nil {
			return err
		}
		return tx.Create(&entries).Error
	})
}

func (s *GormStore) ResultsByRoom(ctx context.Context, roomID uint) ([]models.ResultEntry, error) {
	var entries []models.ResultEntry
	err := s.db.WithContext(ctx).Where("room_id = ?", roomID).Order("rank ASC").Find(&entries).Error
	return entries, err
}
