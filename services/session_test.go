package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"quizrally/models"
	"quizrally/store"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock gives tests full control of session time. After returns a channel
// that never fires, so the driver goroutine idles and tests advance the
// machine by calling tick directly.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(time.Duration) <-chan time.Time {
	return make(chan time.Time)
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func newTestRegistry(t *testing.T) (*Registry, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	reg := newTestRegistryWithStore(clock, store.NewMemoryStore())
	return reg, clock
}

func newTestRegistryWithStore(clock Clock, st store.Store) *Registry {
	return NewRegistry(RegistryConfig{
		ShardID:     "shard-5",
		CodeLength:  5,
		Timing:      Timing{StartDelay: 3, RevealDelay: 5, LeaderboardDelay: 5},
		IdleRoomTTL: 30 * time.Minute,
	}, st, nil, nil, clock, testLogger())
}

func createTestRoom(t *testing.T, reg *Registry, questions, timePerQuestion, maxPlayers int) (*models.Room, *Session) {
	t.Helper()
	room, err := reg.CreateRoom(context.Background(), RoomConfig{
		Title:           "Geography sprint",
		MaxPlayers:      maxPlayers,
		QuestionsCount:  questions,
		TimePerQuestion: timePerQuestion,
	})
	require.NoError(t, err)
	sess, err := reg.Session(room.ID)
	require.NoError(t, err)
	return room, sess
}

// advanceToQuestion ticks through the starting delay.
func advanceToQuestion(t *testing.T, sess *Session) {
	t.Helper()
	for i := 0; i < sess.timing.StartDelay; i++ {
		sess.tick()
	}
	require.Equal(t, PhaseQuestion, sess.Status().Phase)
}

func TestCreateRoomValidation(t *testing.T) {
	reg, _ := newTestRegistry(t)

	_, err := reg.CreateRoom(context.Background(), RoomConfig{Title: "x", MaxPlayers: 0, QuestionsCount: 3, TimePerQuestion: 10})
	assert.ErrorIs(t, err, ErrInvalidRoomConfig)

	room, _ := createTestRoom(t, reg, 3, 10, 8)
	assert.Len(t, room.Code, 5)
	assert.Equal(t, models.RoomStatusWaiting, room.Status)
}

func TestLookupByCode(t *testing.T) {
	reg, _ := newTestRegistry(t)
	room, _ := createTestRoom(t, reg, 3, 10, 8)

	found, err := reg.LookupByCode(context.Background(), room.Code)
	require.NoError(t, err)
	assert.Equal(t, room.ID, found.ID)

	// Case-insensitive.
	found, err = reg.LookupByCode(context.Background(), "  "+strings.ToLower(room.Code)+" ")
	require.NoError(t, err)
	assert.Equal(t, room.ID, found.ID)

	// 4 chars never reaches a lookup.
	_, err = reg.LookupByCode(context.Background(), "AB12")
	assert.Error(t, err)

	// A valid 6-char code belongs to the other shard.
	_, err = reg.LookupByCode(context.Background(), "AB1234")
	assert.ErrorIs(t, err, ErrWrongShard)

	// Valid length, no such room.
	_, err = reg.LookupByCode(context.Background(), "ZZZZ9")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestCancelledRoomReportsClosedNotMissing(t *testing.T) {
	reg, _ := newTestRegistry(t)
	room, sess := createTestRoom(t, reg, 3, 10, 8)

	sess.Cancel()

	_, err := reg.LookupByCode(context.Background(), room.Code)
	assert.ErrorIs(t, err, ErrRoomClosed)

	snap, err := reg.Status(context.Background(), room.ID)
	require.NoError(t, err)
	assert.Equal(t, PhaseCancelled, snap.Phase)
	assert.False(t, snap.IsActive)
}

func TestJoinLimits(t *testing.T) {
	reg, _ := newTestRegistry(t)
	_, sess := createTestRoom(t, reg, 3, 10, 2)
	ctx := context.Background()

	_, err := sess.Join(ctx, "x")
	assert.ErrorIs(t, err, ErrInvalidPlayerName)

	_, err = sess.Join(ctx, "alice")
	require.NoError(t, err)

	_, err = sess.Join(ctx, "  ALICE ")
	assert.ErrorIs(t, err, ErrDuplicateName)

	_, err = sess.Join(ctx, "bob")
	require.NoError(t, err)

	_, err = sess.Join(ctx, "carol")
	assert.ErrorIs(t, err, ErrRoomFull)

	_, err = sess.Start(ctx)
	require.NoError(t, err)
	_, err = sess.Join(ctx, "dave")
	assert.ErrorIs(t, err, ErrRoomNotJoinable)
}

func TestStartRequiresPlayersAndIsIdempotent(t *testing.T) {
	reg, _ := newTestRegistry(t)
	_, sess := createTestRoom(t, reg, 3, 10, 8)
	ctx := context.Background()

	_, err := sess.Start(ctx)
	assert.ErrorIs(t, err, ErrNoPlayers)

	_, err = sess.Join(ctx, "alice")
	require.NoError(t, err)

	first, err := sess.Start(ctx)
	require.NoError(t, err)
	second, err := sess.Start(ctx)
	require.NoError(t, err)

	// The room transitioned at most once and both calls see the same phase.
	assert.Equal(t, PhaseStarting, first)
	assert.Equal(t, first, second)
}

func TestAllAnsweredClosesQuestionEarly(t *testing.T) {
	reg, clock := newTestRegistry(t)
	_, sess := createTestRoom(t, reg, 3, 10, 8)
	ctx := context.Background()

	alice, err := sess.Join(ctx, "alice")
	require.NoError(t, err)
	bob, err := sess.Join(ctx, "bob")
	require.NoError(t, err)

	_, err = sess.Start(ctx)
	require.NoError(t, err)
	advanceToQuestion(t, sess)

	clock.advance(2 * time.Second)
	rec, err := sess.RecordAnswer(ctx, alice.ID, 0, true, 2)
	require.NoError(t, err)
	assert.Equal(t, 140, rec.Points) // 100 base + 50*8/10 speed bonus
	assert.Equal(t, PhaseQuestion, sess.Status().Phase, "one of two answered, question stays open")

	_, err = sess.RecordAnswer(ctx, bob.ID, 0, true, 2)
	require.NoError(t, err)
	assert.Equal(t, PhaseAnswerReveal, sess.Status().Phase, "all connected answered, no need to wait out the timer")

	// Late submission is rejected and does not move scores.
	before := sess.Standings()
	_, err = sess.RecordAnswer(ctx, alice.ID, 0, true, 1)
	assert.ErrorIs(t, err, ErrQuestionClosed)
	assert.Equal(t, before, sess.Standings())
}

func TestTimerExpiryClosesQuestion(t *testing.T) {
	reg, _ := newTestRegistry(t)
	_, sess := createTestRoom(t, reg, 3, 10, 8)
	ctx := context.Background()

	alice, err := sess.Join(ctx, "alice")
	require.NoError(t, err)
	_, err = sess.Join(ctx, "bob")
	require.NoError(t, err)

	_, err = sess.Start(ctx)
	require.NoError(t, err)
	advanceToQuestion(t, sess)

	_, err = sess.RecordAnswer(ctx, alice.ID, 0, true, 1)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		assert.Equal(t, PhaseQuestion, sess.Status().Phase)
		sess.tick()
	}
	snap := sess.Status()
	assert.Equal(t, PhaseAnswerReveal, snap.Phase)
	assert.Equal(t, 0, snap.TimeRemaining)
}

func TestDuplicateAnswerRejected(t *testing.T) {
	reg, _ := newTestRegistry(t)
	_, sess := createTestRoom(t, reg, 3, 10, 8)
	ctx := context.Background()

	alice, err := sess.Join(ctx, "alice")
	require.NoError(t, err)
	_, err = sess.Join(ctx, "bob")
	require.NoError(t, err)
	_, err = sess.Start(ctx)
	require.NoError(t, err)
	advanceToQuestion(t, sess)

	_, err = sess.RecordAnswer(ctx, alice.ID, 0, true, 3)
	require.NoError(t, err)
	_, err = sess.RecordAnswer(ctx, alice.ID, 0, false, 4)
	assert.ErrorIs(t, err, ErrDuplicateAnswer)

	standings := sess.Standings()
	require.Len(t, standings, 2)
	assert.Equal(t, 1, standings[0].CorrectAnswers, "second submission must not touch the aggregate")
}

func TestFullGameFreezesResults(t *testing.T) {
	reg, _ := newTestRegistry(t)
	room, sess := createTestRoom(t, reg, 1, 10, 8)
	ctx := context.Background()

	alice, err := sess.Join(ctx, "alice")
	require.NoError(t, err)
	bob, err := sess.Join(ctx, "bob")
	require.NoError(t, err)

	_, err = sess.Start(ctx)
	require.NoError(t, err)
	advanceToQuestion(t, sess)

	_, err = sess.RecordAnswer(ctx, alice.ID, 0, true, 2)
	require.NoError(t, err)
	_, err = sess.RecordAnswer(ctx, bob.ID, 0, false, 3)
	require.NoError(t, err)
	require.Equal(t, PhaseAnswerReveal, sess.Status().Phase)

	for i := 0; i < 5; i++ { // reveal delay
		sess.tick()
	}
	require.Equal(t, PhaseLeaderboard, sess.Status().Phase)
	for i := 0; i < 5; i++ { // leaderboard delay, last question ends the game
		sess.tick()
	}
	require.Equal(t, PhaseFinished, sess.Status().Phase)

	first, err := sess.Finalize()
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "alice", first[0].PlayerName)
	assert.Equal(t, 1, first[0].Rank)

	// A stray late write between finalize calls changes nothing.
	_, err = sess.RecordAnswer(ctx, bob.ID, 0, true, 1)
	assert.ErrorIs(t, err, ErrQuestionClosed)

	second, err := sess.Finalize()
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// The finished room left local memory; the registry still serves the
	// frozen set from the store and the code reads as closed.
	_, err = reg.Session(room.ID)
	assert.ErrorIs(t, err, ErrRoomNotFound)
	results, err := reg.Results(ctx, room.ID)
	require.NoError(t, err)
	got := results.Entries
	for i := range got {
		got[i].RoomID = 0
	}
	assert.Equal(t, first, got)
	snap, err := reg.Status(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, PhaseFinished, snap.Phase)
	_, err = reg.LookupByCode(ctx, room.Code)
	assert.ErrorIs(t, err, ErrRoomClosed)
}

func TestResultsBeforeFinishRejected(t *testing.T) {
	reg, _ := newTestRegistry(t)
	room, sess := createTestRoom(t, reg, 3, 10, 8)
	ctx := context.Background()

	_, err := sess.Join(ctx, "alice")
	require.NoError(t, err)
	_, err = reg.Results(ctx, room.ID)
	assert.ErrorIs(t, err, ErrNotFinished)
}

func TestSweepStaleFlipsConnectionOnly(t *testing.T) {
	reg, clock := newTestRegistry(t)
	_, sess := createTestRoom(t, reg, 3, 10, 8)
	ctx := context.Background()

	alice, err := sess.Join(ctx, "alice")
	require.NoError(t, err)
	bob, err := sess.Join(ctx, "bob")
	require.NoError(t, err)

	clock.advance(20 * time.Second)
	sess.Heartbeat(alice.ID)
	sess.Heartbeat(99999) // unknown id no-ops

	n := sess.SweepStale(15 * time.Second)
	assert.Equal(t, 1, n)

	players := sess.Players()
	require.Len(t, players, 2)
	assert.True(t, players[0].IsConnected)
	assert.False(t, players[1].IsConnected)
	assert.Equal(t, bob.ID, players[1].ID, "player keeps seat and score when stale")
}

func TestDisconnectedPlayersDoNotHoldQuestionOpen(t *testing.T) {
	reg, clock := newTestRegistry(t)
	_, sess := createTestRoom(t, reg, 3, 10, 8)
	ctx := context.Background()

	alice, err := sess.Join(ctx, "alice")
	require.NoError(t, err)
	_, err = sess.Join(ctx, "bob")
	require.NoError(t, err)
	_, err = sess.Start(ctx)
	require.NoError(t, err)
	advanceToQuestion(t, sess)

	// Bob goes stale; Alice is the only connected player left.
	clock.advance(20 * time.Second)
	sess.Heartbeat(alice.ID)
	sess.SweepStale(15 * time.Second)

	_, err = sess.RecordAnswer(ctx, alice.ID, 0, true, 2)
	require.NoError(t, err)
	assert.Equal(t, PhaseAnswerReveal, sess.Status().Phase)
}

func TestCancelMidQuestion(t *testing.T) {
	reg, _ := newTestRegistry(t)
	_, sess := createTestRoom(t, reg, 3, 10, 8)
	ctx := context.Background()

	alice, err := sess.Join(ctx, "alice")
	require.NoError(t, err)
	_, err = sess.Start(ctx)
	require.NoError(t, err)
	advanceToQuestion(t, sess)

	sess.Cancel()
	snap := sess.Status()
	assert.Equal(t, PhaseCancelled, snap.Phase)
	assert.False(t, snap.IsActive)

	_, err = sess.RecordAnswer(ctx, alice.ID, 0, true, 1)
	assert.ErrorIs(t, err, ErrQuestionClosed)

	// Cancel is idempotent and the machine stays put.
	assert.Equal(t, PhaseCancelled, sess.Cancel())
	sess.tick()
	assert.Equal(t, PhaseCancelled, sess.Status().Phase)
}

func TestIdleRoomExpires(t *testing.T) {
	reg, clock := newTestRegistry(t)
	idle, idleSess := createTestRoom(t, reg, 3, 10, 8)
	started, startedSess := createTestRoom(t, reg, 3, 10, 8)
	ctx := context.Background()

	_, err := startedSess.Join(ctx, "alice")
	require.NoError(t, err)
	_, err = startedSess.Start(ctx)
	require.NoError(t, err)

	// Fresh rooms survive the sweep.
	reg.sweep(15 * time.Second)
	assert.Equal(t, PhaseNotStarted, idleSess.Status().Phase)

	clock.advance(31 * time.Minute)
	reg.sweep(15 * time.Second)

	// The never-started room is gone; its code reads as closed.
	assert.Equal(t, PhaseCancelled, idleSess.Status().Phase)
	_, err = reg.Session(idle.ID)
	assert.ErrorIs(t, err, ErrRoomNotFound)
	_, err = reg.LookupByCode(ctx, idle.Code)
	assert.ErrorIs(t, err, ErrRoomClosed)

	// The started room only loses liveness flags, never its seat in memory.
	_, err = reg.Session(started.ID)
	require.NoError(t, err)
	assert.NotEqual(t, PhaseCancelled, startedSess.Status().Phase)
}

func TestCancelledRoomResultsReportClosed(t *testing.T) {
	reg, _ := newTestRegistry(t)
	room, sess := createTestRoom(t, reg, 3, 10, 8)
	ctx := context.Background()

	_, err := sess.Join(ctx, "alice")
	require.NoError(t, err)
	sess.Cancel()

	_, err = reg.Results(ctx, room.ID)
	assert.ErrorIs(t, err, ErrRoomClosed)

	// Same answer during the window where the session is still registered.
	reg.mu.Lock()
	reg.sessions[room.ID] = sess
	reg.mu.Unlock()
	_, err = reg.Results(ctx, room.ID)
	assert.ErrorIs(t, err, ErrRoomClosed)
}

func TestClosedCodeSurvivesRestart(t *testing.T) {
	st := store.NewMemoryStore()
	clock := newFakeClock()
	reg := newTestRegistryWithStore(clock, st)
	ctx := context.Background()

	cancelled, cancelledSess := createTestRoom(t, reg, 3, 10, 8)
	open, _ := createTestRoom(t, reg, 3, 10, 8)
	cancelledSess.Cancel()

	// A fresh registry over the same store starts with empty code maps.
	restarted := newTestRegistryWithStore(clock, st)

	_, err := restarted.LookupByCode(ctx, cancelled.Code)
	assert.ErrorIs(t, err, ErrRoomClosed)

	found, err := restarted.LookupByCode(ctx, open.Code)
	require.NoError(t, err)
	assert.Equal(t, open.ID, found.ID)

	_, err = restarted.LookupByCode(ctx, "ZZZZ9")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

// flakyStore fails room inserts on demand; everything else delegates.
type flakyStore struct {
	store.Store
	failCreate bool
}

func (f *flakyStore) CreateRoom(ctx context.Context, room *models.Room) error {
	if f.failCreate {
		return errors.New("insert failed")
	}
	return f.Store.CreateRoom(ctx, room)
}

func TestCreateRoomRollsBackCodeReservation(t *testing.T) {
	st := &flakyStore{Store: store.NewMemoryStore(), failCreate: true}
	reg := newTestRegistryWithStore(newFakeClock(), st)
	ctx := context.Background()
	cfg := RoomConfig{Title: "Geography sprint", MaxPlayers: 8, QuestionsCount: 3, TimePerQuestion: 10}

	_, err := reg.CreateRoom(ctx, cfg)
	require.Error(t, err)

	reg.mu.RLock()
	held := len(reg.reserved)
	reg.mu.RUnlock()
	assert.Zero(t, held, "failed create must not keep the code reserved")

	st.failCreate = false
	room, err := reg.CreateRoom(ctx, cfg)
	require.NoError(t, err)
	assert.Len(t, room.Code, 5)
}
