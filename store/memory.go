package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"quizrally/models"
)

// MemoryStore keeps everything in process memory. Used for tests and for
// single-node deployments that do not need durability.
type MemoryStore struct {
	mu      sync.RWMutex
	nextID  uint
	rooms   map[uint]*models.Room
	players map[uint]*models.Player
	answers []models.AnswerRecord
	results map[uint][]models.ResultEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID:  1,
		rooms:   make(map[uint]*models.Room),
		players: make(map[uint]*models.Player),
		results: make(map[uint][]models.ResultEntry),
	}
}

func (s *MemoryStore) allocID() uint {
	id := s.nextID
	s.nextID++
	return id
}

func (s *MemoryStore) CreateRoom(_ context.Context, room *models.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room.ID = s.allocID()
	room.CreatedAt = time.Now()
	cp := *room
	s.rooms[room.ID] = &cp
	return nil
}

func (s *MemoryStore) RoomByID(_ context.Context, id uint) (*models.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[id]
	if !ok {
		return nil, ErrRoomNotFound
	}
	cp := *room
	return &cp, nil
}

func (s *MemoryStore) LatestRoomByCode(_ context.Context, code string) (*models.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *models.Room
	for _, room := range s.rooms {
		if strings.EqualFold(room.Code, code) && (latest == nil || room.ID > latest.ID) {
			latest = room
		}
	}
	if latest == nil {
		return nil, ErrRoomNotFound
	}
	cp := *latest
	return &cp, nil
}

func (s *MemoryStore) CodeInUse(_ context.Context, code string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, room := range s.rooms {
		if strings.EqualFold(room.Code, code) && room.Open() {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) UpdateRoomStatus(_ context.Context, id uint, status string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[id]
	if !ok {
		return ErrRoomNotFound
	}
	room.Status = status
	switch status {
	case models.RoomStatusActive:
		t := at
		room.StartedAt = &t
	case models.RoomStatusFinished, models.RoomStatusCancelled:
		t := at
		room.FinishedAt = &t
	}
	return nil
}

func (s *MemoryStore) CreatePlayer(_ context.Context, player *models.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	player.ID = s.allocID()
	cp := *player
	s.players[player.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdatePlayerProgress(_ context.Context, id uint, totalScore, correctAnswers int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.players[id]; ok {
		p.TotalScore = totalScore
		p.CorrectAnswers = correctAnswers
	}
	return nil
}

func (s *MemoryStore) SetPlayerConnected(_ context.Context, id uint, connected bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.players[id]; ok {
		p.IsConnected = connected
	}
	return nil
}

func (s *MemoryStore) CreateAnswer(_ context.Context, answer *models.AnswerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	answer.ID = s.allocID()
	s.answers = append(s.answers, *answer)
	return nil
}

func (s *MemoryStore) SaveResults(_ context.Context, roomID uint, entries []models.ResultEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]models.ResultEntry, len(entries))
	copy(cp, entries)
	s.results[roomID] = cp
	return nil
}

func (s *MemoryStore) ResultsByRoom(_ context.Context, roomID uint) ([]models.ResultEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make([]models.ResultEntry, len(s.results[roomID]))
	copy(cp, s.results[roomID])
	return cp, nil
}
