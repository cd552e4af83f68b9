package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestScorePointsRewardsSpeed(t *testing.T) {
	assert.Equal(t, 0, scorePoints(false, 1, 10), "incorrect answers score zero")
	assert.Equal(t, 150, scorePoints(true, 0, 10))
	assert.Equal(t, 100, scorePoints(true, 10, 10))

	// Faster correct answers never score less than slower ones.
	prev := scorePoints(true, 0, 30)
	for sec := 1; sec <= 30; sec++ {
		p := scorePoints(true, sec, 30)
		assert.LessOrEqual(t, p, prev, "points at %ds should not exceed points at %ds", sec, sec-1)
		prev = p
	}

	// Out-of-range response times clamp instead of over- or under-scoring.
	assert.Equal(t, scorePoints(true, 0, 10), scorePoints(true, -3, 10))
	assert.Equal(t, scorePoints(true, 10, 10), scorePoints(true, 99, 10))
}

func TestRankPlayersTieBreak(t *testing.T) {
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	players := []*playerState{
		{id: 3, name: "carol", totalScore: 10, correctAnswers: 1, joinedAt: base},
		{id: 2, name: "bob", totalScore: 10, correctAnswers: 3, joinedAt: base.Add(2 * time.Second)},
		{id: 1, name: "alice", totalScore: 10, correctAnswers: 3, joinedAt: base.Add(1 * time.Second)},
	}

	entries := rankPlayers(players)

	// Score tie broken by correct answers, then by earlier join.
	assert.Equal(t, []string{"alice", "bob", "carol"},
		[]string{entries[0].PlayerName, entries[1].PlayerName, entries[2].PlayerName})
	assert.Equal(t, []int{1, 2, 3}, []int{entries[0].Rank, entries[1].Rank, entries[2].Rank})

	// Stable across repeated calls.
	assert.Equal(t, entries, rankPlayers(players))
}
