package services

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"quizrally/models"
	"quizrally/store"

	"github.com/sirupsen/logrus"
)

type Phase string

const (
	PhaseNotStarted   Phase = "not_started"
	PhaseStarting     Phase = "starting"
	PhaseQuestion     Phase = "question"
	PhaseAnswerReveal Phase = "answer_reveal"
	PhaseLeaderboard  Phase = "leaderboard"
	PhaseFinished     Phase = "finished"
	PhaseCancelled    Phase = "cancelled"
)

// Timing holds the fixed phase delays, in seconds.
type Timing struct {
	StartDelay       int
	RevealDelay      int
	LeaderboardDelay int
}

type playerState struct {
	id             uint
	name           string
	joinedAt       time.Time
	lastSeen       time.Time
	connected      bool
	totalScore     int
	correctAnswers int
}

type answerKey struct {
	playerID uint
	question int
}

// Session is the single authoritative owner of one room's mutable state. All
// mutations run under one mutex; different rooms proceed independently. The
// driver goroutine is the only thing that advances phases on the clock, so
// the timer-vs-all-answered race is always decided under the same lock.
type Session struct {
	mu sync.Mutex

	room      models.Room
	timing    Timing
	clock     Clock
	store     store.Store
	snapshots *Snapshots
	log       *logrus.Entry
	createdAt time.Time

	// onTerminal runs once, outside the lock, when the session reaches
	// finished or cancelled. The registry uses it to release the code and
	// enqueue archival.
	onTerminal func(code string, roomID uint, status string, entries []models.ResultEntry)

	phase         Phase
	questionIndex int
	timeRemaining int
	phaseTicks    int

	players map[uint]*playerState
	order   []uint
	answers map[answerKey]struct{}
	frozen  []models.ResultEntry

	done          chan struct{}
	stopped       bool
	driverStarted bool
	terminalFired bool
}

func newSession(room models.Room, timing Timing, st store.Store, snaps *Snapshots, clock Clock, log *logrus.Logger,
	onTerminal func(code string, roomID uint, status string, entries []models.ResultEntry)) *Session {
	return &Session{
		room:          room,
		timing:        timing,
		clock:         clock,
		store:         st,
		snapshots:     snaps,
		log:           log.WithFields(logrus.Fields{"room_id": room.ID, "room_code": room.Code}),
		createdAt:     clock.Now(),
		onTerminal:    onTerminal,
		phase:         PhaseNotStarted,
		questionIndex: -1,
		players:       make(map[uint]*playerState),
		answers:       make(map[answerKey]struct{}),
		done:          make(chan struct{}),
	}
}

// Room returns a copy of the room record with its live status.
func (s *Session) Room() models.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// Join adds a participant while the room is still waiting.
func (s *Session) Join(ctx context.Context, name string) (*models.Player, error) {
	trimmed := strings.TrimSpace(name)
	if n := utf8.RuneCountInString(trimmed); n < 2 || n > 20 {
		return nil, ErrInvalidPlayerName
	}

	s.mu.Lock()
	if s.phase != PhaseNotStarted {
		s.mu.Unlock()
		return nil, ErrRoomNotJoinable
	}
	if len(s.players) >= s.room.MaxPlayers {
		s.mu.Unlock()
		return nil, ErrRoomFull
	}
	for _, p := range s.players {
		if strings.EqualFold(p.name, trimmed) {
			s.mu.Unlock()
			return nil, ErrDuplicateName
		}
	}

	now := s.clock.Now()
	player := &models.Player{
		RoomID:      s.room.ID,
		Name:        trimmed,
		IsConnected: true,
		JoinedAt:    now,
	}
	// The store write stays under the room lock so a concurrent join cannot
	// slip past the capacity or name check.
	if err := s.store.CreatePlayer(ctx, player); err != nil {
		s.mu.Unlock()
		s.log.WithError(err).Error("failed to persist player")
		return nil, err
	}
	s.players[player.ID] = &playerState{
		id:        player.ID,
		name:      trimmed,
		joinedAt:  now,
		lastSeen:  now,
		connected: true,
	}
	s.order = append(s.order, player.ID)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.publish(snap)
	s.log.WithFields(logrus.Fields{"player_id": player.ID, "player_name": trimmed}).Info("player joined")
	return player, nil
}

// Heartbeat refreshes a player's liveness. Unknown ids no-op: the client may
// hold stale state and the next status poll will correct it.
func (s *Session) Heartbeat(playerID uint) {
	s.mu.Lock()
	p, ok := s.players[playerID]
	if !ok {
		s.mu.Unlock()
		return
	}
	p.lastSeen = s.clock.Now()
	reconnected := !p.connected
	p.connected = true
	s.mu.Unlock()

	if reconnected {
		if err := s.store.SetPlayerConnected(context.Background(), playerID, true); err != nil {
			s.log.WithError(err).WithField("player_id", playerID).Warn("failed to persist reconnect")
		}
	}
}

// SweepStale flips isConnected for players whose last heartbeat is older than
// the threshold. Disconnection is a liveness signal only: the player keeps
// their score and seat.
func (s *Session) SweepStale(threshold time.Duration) int {
	now := s.clock.Now()
	s.mu.Lock()
	var stale []uint
	for _, p := range s.players {
		if p.connected && now.Sub(p.lastSeen) > threshold {
			p.connected = false
			stale = append(stale, p.id)
		}
	}
	s.mu.Unlock()

	for _, id := range stale {
		if err := s.store.SetPlayerConnected(context.Background(), id, false); err != nil {
			s.log.WithError(err).WithField("player_id", id).Warn("failed to persist disconnect")
		}
	}
	return len(stale)
}

// Start moves not_started to starting. Repeated calls return the current
// phase without error so client retries are harmless.
func (s *Session) Start(ctx context.Context) (Phase, error) {
	s.mu.Lock()
	if s.phase != PhaseNotStarted {
		phase := s.phase
		s.mu.Unlock()
		return phase, nil
	}
	if len(s.players) == 0 {
		s.mu.Unlock()
		return PhaseNotStarted, ErrNoPlayers
	}

	s.phase = PhaseStarting
	s.phaseTicks = s.timing.StartDelay
	if s.phaseTicks <= 0 {
		s.enterQuestionLocked(0)
	}
	s.room.Status = models.RoomStatusActive
	startDriver := !s.driverStarted
	s.driverStarted = true
	phase := s.phase
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if startDriver {
		go s.run()
	}
	s.publish(snap)
	s.persistStatus(models.RoomStatusActive)
	s.log.Info("session started")
	return phase, nil
}

// RecordAnswer records one answer outcome for the currently open question.
// Exactly-once per (player, question); late or repeated submissions are
// rejected without touching scores.
func (s *Session) RecordAnswer(ctx context.Context, playerID uint, questionIndex int, isCorrect bool, responseSeconds int) (*models.AnswerRecord, error) {
	s.mu.Lock()
	p, ok := s.players[playerID]
	if !ok {
		s.mu.Unlock()
		return nil, ErrPlayerNotFound
	}
	if s.phase != PhaseQuestion || s.questionIndex != questionIndex {
		s.mu.Unlock()
		return nil, ErrQuestionClosed
	}
	key := answerKey{playerID: playerID, question: questionIndex}
	if _, dup := s.answers[key]; dup {
		s.mu.Unlock()
		return nil, ErrDuplicateAnswer
	}

	now := s.clock.Now()
	points := scorePoints(isCorrect, responseSeconds, s.room.TimePerQuestion)
	s.answers[key] = struct{}{}
	p.totalScore += points
	if isCorrect {
		p.correctAnswers++
	}
	p.lastSeen = now
	p.connected = true

	record := &models.AnswerRecord{
		RoomID:        s.room.ID,
		PlayerID:      playerID,
		QuestionIndex: questionIndex,
		IsCorrect:     isCorrect,
		ResponseTime:  responseSeconds,
		Points:        points,
		SubmittedAt:   now,
	}
	totalScore, correct := p.totalScore, p.correctAnswers

	// All-answered closes the question immediately rather than on the next
	// tick, so a fast room never waits out the timer. With zero phase delays
	// this can cascade straight to finished, so the terminal hand-off lives
	// here as well as in tick.
	closed := s.allAnsweredLocked()
	if closed {
		s.enterRevealLocked()
	}
	fireTerminal := s.terminalLocked() && !s.terminalFired
	if fireTerminal {
		s.terminalFired = true
		s.stopLocked()
	}
	status := s.room.Status
	frozen := s.frozen
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if err := s.store.CreateAnswer(ctx, record); err != nil {
		s.log.WithError(err).WithField("player_id", playerID).Warn("failed to persist answer")
	}
	if err := s.store.UpdatePlayerProgress(ctx, playerID, totalScore, correct); err != nil {
		s.log.WithError(err).WithField("player_id", playerID).Warn("failed to persist score")
	}
	if closed {
		s.publish(snap)
	}
	if fireTerminal {
		s.finishSideEffects(status, frozen)
	}
	return record, nil
}

// ExpireIfIdle cancels a room whose host never started it within ttl.
// Reports whether the room was expired by this call. The check and the
// cancel share the lock so a concurrent Start cannot slip in between.
func (s *Session) ExpireIfIdle(ttl time.Duration) bool {
	s.mu.Lock()
	if s.phase != PhaseNotStarted || s.clock.Now().Sub(s.createdAt) <= ttl {
		s.mu.Unlock()
		return false
	}
	snap := s.cancelLocked()
	s.mu.Unlock()

	s.publish(snap)
	s.finishSideEffects(models.RoomStatusCancelled, nil)
	s.log.Info("room never started, expired")
	return true
}

// Cancel aborts the session from any non-terminal state.
func (s *Session) Cancel() Phase {
	s.mu.Lock()
	if s.terminalLocked() {
		phase := s.phase
		s.mu.Unlock()
		return phase
	}
	snap := s.cancelLocked()
	s.mu.Unlock()

	s.publish(snap)
	s.finishSideEffects(models.RoomStatusCancelled, nil)
	s.log.Info("session cancelled")
	return PhaseCancelled
}

func (s *Session) cancelLocked() StatusSnapshot {
	s.phase = PhaseCancelled
	s.room.Status = models.RoomStatusCancelled
	s.terminalFired = true
	s.stopLocked()
	return s.snapshotLocked()
}

// Status returns the full poll snapshot. Never blocks on IO and never causes
// a transition.
func (s *Session) Status() StatusSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Players lists participants in join order with live connection flags.
func (s *Session) Players() []models.Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Player, 0, len(s.order))
	for _, id := range s.order {
		p := s.players[id]
		out = append(out, models.Player{
			ID:             p.id,
			RoomID:         s.room.ID,
			Name:           p.name,
			IsConnected:    p.connected,
			TotalScore:     p.totalScore,
			CorrectAnswers: p.correctAnswers,
			JoinedAt:       p.joinedAt,
		})
	}
	return out
}

// Standings returns the current ranking. After finish it returns the frozen
// result set.
func (s *Session) Standings() []models.ResultEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen != nil {
		return copyEntries(s.frozen)
	}
	return rankPlayers(s.playerListLocked())
}

// Finalize returns the frozen result snapshot. Only valid once finished, and
// repeated calls return the identical set regardless of stray late writes.
func (s *Session) Finalize() ([]models.ResultEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseFinished {
		return nil, ErrNotFinished
	}
	return copyEntries(s.frozen), nil
}

// Stop halts the driver without changing room state. Used on shutdown.
func (s *Session) Stop() {
	s.mu.Lock()
	s.stopLocked()
	s.mu.Unlock()
}

func (s *Session) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.clock.After(time.Second):
			if s.tick() {
				return
			}
		}
	}
}

// tick advances the machine by one second. It is the only place phase timers
// move, so "all answered" and "timer expired" are evaluated atomically; if
// both hold at once the question closes.
func (s *Session) tick() bool {
	s.mu.Lock()
	switch s.phase {
	case PhaseStarting:
		s.phaseTicks--
		if s.phaseTicks <= 0 {
			s.enterQuestionLocked(0)
		}
	case PhaseQuestion:
		if s.timeRemaining > 0 {
			s.timeRemaining--
		}
		if s.timeRemaining <= 0 || s.allAnsweredLocked() {
			s.enterRevealLocked()
		}
	case PhaseAnswerReveal:
		s.phaseTicks--
		if s.phaseTicks <= 0 {
			s.enterLeaderboardLocked()
		}
	case PhaseLeaderboard:
		s.phaseTicks--
		if s.phaseTicks <= 0 {
			if s.questionIndex+1 < s.room.QuestionsCount {
				s.enterQuestionLocked(s.questionIndex + 1)
			} else {
				s.finishLocked()
			}
		}
	}

	terminal := s.terminalLocked()
	fireTerminal := terminal && !s.terminalFired
	if fireTerminal {
		s.terminalFired = true
		s.stopLocked()
	}
	status := s.room.Status
	frozen := s.frozen
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.publish(snap)
	if fireTerminal {
		s.finishSideEffects(status, frozen)
	}
	return terminal
}

func (s *Session) enterQuestionLocked(index int) {
	s.phase = PhaseQuestion
	s.questionIndex = index
	s.timeRemaining = s.room.TimePerQuestion
}

func (s *Session) enterRevealLocked() {
	s.phase = PhaseAnswerReveal
	s.timeRemaining = 0
	s.phaseTicks = s.timing.RevealDelay
	if s.phaseTicks <= 0 {
		s.enterLeaderboardLocked()
	}
}

func (s *Session) enterLeaderboardLocked() {
	s.phase = PhaseLeaderboard
	s.phaseTicks = s.timing.LeaderboardDelay
	if s.phaseTicks <= 0 {
		if s.questionIndex+1 < s.room.QuestionsCount {
			s.enterQuestionLocked(s.questionIndex + 1)
		} else {
			s.finishLocked()
		}
	}
}

func (s *Session) finishLocked() {
	s.phase = PhaseFinished
	s.room.Status = models.RoomStatusFinished
	s.frozen = rankPlayers(s.playerListLocked())
}

// allAnsweredLocked reports whether every currently-connected player has
// answered the open question. An empty connected set never closes a question
// early; the timer rules there.
func (s *Session) allAnsweredLocked() bool {
	connected := 0
	for _, p := range s.players {
		if !p.connected {
			continue
		}
		connected++
		if _, ok := s.answers[answerKey{playerID: p.id, question: s.questionIndex}]; !ok {
			return false
		}
	}
	return connected > 0
}

func (s *Session) playerListLocked() []*playerState {
	out := make([]*playerState, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.players[id])
	}
	return out
}

func (s *Session) snapshotLocked() StatusSnapshot {
	active := s.phase == PhaseStarting || s.phase == PhaseQuestion ||
		s.phase == PhaseAnswerReveal || s.phase == PhaseLeaderboard
	return StatusSnapshot{
		RoomID:               s.room.ID,
		Code:                 s.room.Code,
		Phase:                s.phase,
		CurrentQuestionIndex: s.questionIndex,
		TimeRemaining:        s.timeRemaining,
		TotalQuestions:       s.room.QuestionsCount,
		PlayerCount:          len(s.players),
		IsActive:             active,
	}
}

func (s *Session) terminalLocked() bool {
	return s.phase == PhaseFinished || s.phase == PhaseCancelled
}

func (s *Session) stopLocked() {
	if !s.stopped {
		s.stopped = true
		close(s.done)
	}
}

func (s *Session) publish(snap StatusSnapshot) {
	if s.snapshots != nil {
		s.snapshots.Publish(context.Background(), snap)
	}
}

func (s *Session) persistStatus(status string) {
	if err := s.store.UpdateRoomStatus(context.Background(), s.room.ID, status, s.clock.Now()); err != nil {
		s.log.WithError(err).WithField("status", status).Warn("failed to persist room status")
	}
}

func (s *Session) finishSideEffects(status string, frozen []models.ResultEntry) {
	s.persistStatus(status)
	if s.onTerminal != nil {
		s.onTerminal(s.room.Code, s.room.ID, status, frozen)
	}
}

func copyEntries(entries []models.ResultEntry) []models.ResultEntry {
	out := make([]models.ResultEntry, len(entries))
	copy(out, entries)
	return out
}
