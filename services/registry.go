package services

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"quizrally/models"
	"quizrally/sharding"
	"quizrally/store"

	"github.com/sirupsen/logrus"
)

const codeCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// maxCodeAttempts bounds the collision-retry loop; exhausting it means the
// code space for this tier is effectively full.
const maxCodeAttempts = 32

// Archiver accepts terminal rooms for background archival.
type Archiver interface {
	EnqueueArchive(roomID uint, status string, entries []models.ResultEntry)
}

type RegistryConfig struct {
	ShardID    string
	CodeLength int
	Timing     Timing
	// IdleRoomTTL expires rooms whose host never starts them. Zero disables
	// the expiry.
	IdleRoomTTL time.Duration
}

// RoomConfig is the host-supplied configuration for a new room.
type RoomConfig struct {
	Title           string `json:"title" binding:"required"`
	Description     string `json:"description"`
	MaxPlayers      int    `json:"max_players" binding:"required"`
	QuestionsCount  int    `json:"questions_count" binding:"required"`
	TimePerQuestion int    `json:"time_per_question" binding:"required"`
}

// RoomResults bundles the frozen ranking with the room metadata.
type RoomResults struct {
	Room    models.Room          `json:"room"`
	Entries []models.ResultEntry `json:"results"`
}

// Registry creates rooms, allocates codes for this shard's tier, and owns the
// map of live sessions. Terminal rooms leave the map; their polls are served
// from the snapshot cache and the store.
type Registry struct {
	mu          sync.RWMutex
	sessions    map[uint]*Session
	byCode      map[string]uint
	reserved    map[string]struct{} // codes held by in-flight CreateRoom calls
	closedCodes map[string]uint     // released codes of terminal rooms, for RoomClosed messaging

	cfg       RegistryConfig
	store     store.Store
	snapshots *Snapshots
	archiver  Archiver
	clock     Clock
	logger    *logrus.Logger
	log       *logrus.Entry
}

func NewRegistry(cfg RegistryConfig, st store.Store, snaps *Snapshots, archiver Archiver, clock Clock, logger *logrus.Logger) *Registry {
	return &Registry{
		sessions:    make(map[uint]*Session),
		byCode:      make(map[string]uint),
		reserved:    make(map[string]struct{}),
		closedCodes: make(map[string]uint),
		cfg:         cfg,
		store:       st,
		snapshots:   snaps,
		archiver:    archiver,
		clock:       clock,
		logger:      logger,
		log:         logger.WithField("component", "registry").WithField("shard", cfg.ShardID),
	}
}

// CreateRoom validates the config, allocates a free code for this shard's
// code length, and spins up the owning session. The store round-trips run
// outside the registry lock; the code is held by a reservation meanwhile.
func (r *Registry) CreateRoom(ctx context.Context, cfg RoomConfig) (*models.Room, error) {
	if cfg.MaxPlayers < 1 || cfg.QuestionsCount < 1 || cfg.TimePerQuestion < 1 {
		return nil, fmt.Errorf("%w: max_players, questions_count and time_per_question must all be >= 1", ErrInvalidRoomConfig)
	}

	code, err := r.reserveCode(ctx)
	if err != nil {
		return nil, err
	}

	room := models.Room{
		Code:            code,
		Title:           cfg.Title,
		Description:     cfg.Description,
		MaxPlayers:      cfg.MaxPlayers,
		QuestionsCount:  cfg.QuestionsCount,
		TimePerQuestion: cfg.TimePerQuestion,
		Status:          models.RoomStatusWaiting,
	}
	if err := r.store.CreateRoom(ctx, &room); err != nil {
		r.releaseReservation(code)
		r.log.WithError(err).Error("failed to persist room")
		return nil, err
	}

	sess := newSession(room, r.cfg.Timing, r.store, r.snapshots, r.clock, r.logger, r.releaseRoom)

	r.mu.Lock()
	delete(r.reserved, code)
	r.sessions[room.ID] = sess
	r.byCode[code] = room.ID
	delete(r.closedCodes, code)
	r.mu.Unlock()

	r.log.WithFields(logrus.Fields{"room_id": room.ID, "room_code": code}).Info("room created")
	return &room, nil
}

// reserveCode draws random codes until one is free in both the live maps and
// the store. The reservation keeps a concurrent CreateRoom from picking the
// same code while the store is consulted.
func (r *Registry) reserveCode(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := randomCode(r.cfg.CodeLength)
		if err != nil {
			return "", err
		}

		r.mu.Lock()
		_, live := r.byCode[code]
		_, held := r.reserved[code]
		if live || held {
			r.mu.Unlock()
			continue
		}
		r.reserved[code] = struct{}{}
		r.mu.Unlock()

		inUse, err := r.store.CodeInUse(ctx, code)
		if err != nil {
			r.releaseReservation(code)
			return "", err
		}
		if inUse {
			r.releaseReservation(code)
			continue
		}
		return code, nil
	}
	return "", ErrCapacityExhausted
}

func (r *Registry) releaseReservation(code string) {
	r.mu.Lock()
	delete(r.reserved, code)
	r.mu.Unlock()
}

func randomCode(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate room code: %w", err)
	}
	for i := range buf {
		buf[i] = codeCharset[int(buf[i])%len(codeCharset)]
	}
	return string(buf), nil
}

// releaseRoom runs when a session terminates: the code goes back to the pool
// (remembered for RoomClosed messaging), the session leaves local memory, and
// the frozen results are written through so later polls read them from the
// store. The archive task still runs for redis cleanup and durable retries.
func (r *Registry) releaseRoom(code string, roomID uint, status string, entries []models.ResultEntry) {
	r.mu.Lock()
	if r.byCode[code] == roomID {
		delete(r.byCode, code)
		r.closedCodes[code] = roomID
	}
	delete(r.sessions, roomID)
	r.mu.Unlock()

	if len(entries) > 0 {
		persisted := make([]models.ResultEntry, len(entries))
		copy(persisted, entries)
		for i := range persisted {
			persisted[i].RoomID = roomID
		}
		if err := r.store.SaveResults(context.Background(), roomID, persisted); err != nil {
			// The archive task retries the write.
			r.log.WithError(err).WithField("room_id", roomID).Warn("failed to write results through")
		}
	}

	if r.archiver != nil {
		r.archiver.EnqueueArchive(roomID, status, entries)
	}
	r.log.WithFields(logrus.Fields{"room_id": roomID, "status": status}).Info("room released")
}

// LookupByCode resolves a typed code to its room. Wrong-length-but-valid
// codes belong to the other shard and get ErrWrongShard so the caller can
// redirect instead of reporting "not found". Codes of rooms that existed but
// are now gone report ErrRoomClosed, even across a restart.
func (r *Registry) LookupByCode(ctx context.Context, code string) (*models.Room, error) {
	code = sharding.Normalize(code)
	if err := sharding.ValidateCode(code); err != nil {
		return nil, err
	}
	if len(code) != r.cfg.CodeLength {
		return nil, ErrWrongShard
	}

	r.mu.RLock()
	if id, ok := r.byCode[code]; ok {
		sess := r.sessions[id]
		r.mu.RUnlock()
		room := sess.Room()
		return &room, nil
	}
	_, closed := r.closedCodes[code]
	r.mu.RUnlock()
	if closed {
		return nil, ErrRoomClosed
	}

	room, err := r.store.LatestRoomByCode(ctx, code)
	if err == store.ErrRoomNotFound {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	if !room.Open() {
		return nil, ErrRoomClosed
	}
	return room, nil
}

// SessionByCode returns the live session owning a code.
func (r *Registry) SessionByCode(ctx context.Context, code string) (*Session, error) {
	room, err := r.LookupByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	return r.Session(room.ID)
}

// Session returns the live session for a room id.
func (r *Registry) Session(roomID uint) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return sess, nil
}

// Status serves the poll contract. The live session answers first; the redis
// snapshot covers rooms no longer in local memory; the store covers the rest.
func (r *Registry) Status(ctx context.Context, roomID uint) (StatusSnapshot, error) {
	if sess, err := r.Session(roomID); err == nil {
		return sess.Status(), nil
	}
	if r.snapshots != nil {
		if snap, err := r.snapshots.Fetch(ctx, roomID); err == nil {
			return *snap, nil
		}
	}
	room, err := r.store.RoomByID(ctx, roomID)
	if err == store.ErrRoomNotFound {
		return StatusSnapshot{}, ErrRoomNotFound
	}
	if err != nil {
		return StatusSnapshot{}, err
	}
	return staticSnapshot(room), nil
}

func staticSnapshot(room *models.Room) StatusSnapshot {
	phase := PhaseNotStarted
	switch room.Status {
	case models.RoomStatusFinished:
		phase = PhaseFinished
	case models.RoomStatusCancelled:
		phase = PhaseCancelled
	case models.RoomStatusActive:
		phase = PhaseStarting
	}
	return StatusSnapshot{
		RoomID:               room.ID,
		Code:                 room.Code,
		Phase:                phase,
		CurrentQuestionIndex: -1,
		TotalQuestions:       room.QuestionsCount,
		IsActive:             room.Status == models.RoomStatusActive,
	}
}

// CancelRoom is the host abort. Idempotent on already-terminal rooms.
func (r *Registry) CancelRoom(ctx context.Context, roomID uint) error {
	if sess, err := r.Session(roomID); err == nil {
		sess.Cancel()
		return nil
	}
	room, err := r.store.RoomByID(ctx, roomID)
	if err == store.ErrRoomNotFound {
		return ErrRoomNotFound
	}
	if err != nil {
		return err
	}
	if !room.Open() {
		return nil
	}
	return r.store.UpdateRoomStatus(ctx, roomID, models.RoomStatusCancelled, r.clock.Now())
}

// Results returns the frozen ranking of a finished room. Cancelled rooms
// answer ErrRoomClosed on both the live and the store path.
func (r *Registry) Results(ctx context.Context, roomID uint) (*RoomResults, error) {
	if sess, err := r.Session(roomID); err == nil {
		room := sess.Room()
		if room.Status == models.RoomStatusCancelled {
			return nil, ErrRoomClosed
		}
		entries, err := sess.Finalize()
		if err != nil {
			return nil, err
		}
		return &RoomResults{Room: room, Entries: entries}, nil
	}

	room, err := r.store.RoomByID(ctx, roomID)
	if err == store.ErrRoomNotFound {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	if room.Status == models.RoomStatusCancelled {
		return nil, ErrRoomClosed
	}
	if room.Status != models.RoomStatusFinished {
		return nil, ErrNotFinished
	}
	entries, err := r.store.ResultsByRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return &RoomResults{Room: *room, Entries: entries}, nil
}

// RunSweeper periodically flips stale players to disconnected and expires
// rooms whose host never started them. It is the owning process's job, never
// a client call.
func (r *Registry) RunSweeper(ctx context.Context, interval, threshold time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(threshold)
		}
	}
}

func (r *Registry) sweep(threshold time.Duration) {
	for _, sess := range r.liveSessions() {
		if n := sess.SweepStale(threshold); n > 0 {
			r.log.WithField("stale_players", n).Debug("liveness sweep")
		}
		if r.cfg.IdleRoomTTL > 0 && sess.ExpireIfIdle(r.cfg.IdleRoomTTL) {
			r.log.WithField("room_id", sess.Room().ID).Info("idle room expired")
		}
	}
}

func (r *Registry) liveSessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		out = append(out, sess)
	}
	return out
}

// Close stops every session driver. Room state is left as-is; a restart
// serves terminal rooms from the store and snapshots.
func (r *Registry) Close() {
	for _, sess := range r.liveSessions() {
		sess.Stop()
	}
}
