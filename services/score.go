package services

import (
	"sort"

	"quizrally/models"
)

const (
	basePoints    = 100
	maxSpeedBonus = 50
)

// scorePoints rewards correctness first and speed second: a faster correct
// answer never scores less than a slower one, incorrect answers score zero.
func scorePoints(isCorrect bool, responseSeconds, timeLimit int) int {
	if !isCorrect {
		return 0
	}
	if responseSeconds < 0 {
		responseSeconds = 0
	}
	if responseSeconds > timeLimit {
		responseSeconds = timeLimit
	}
	bonus := maxSpeedBonus * (timeLimit - responseSeconds) / timeLimit
	return basePoints + bonus
}

// rankPlayers produces the standings: score descending, correct answers
// descending, then join time ascending so full ties resolve to the earlier
// joiner. The sort is deterministic across repeated calls.
func rankPlayers(players []*playerState) []models.ResultEntry {
	ranked := make([]*playerState, len(players))
	copy(ranked, players)

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.totalScore != b.totalScore {
			return a.totalScore > b.totalScore
		}
		if a.correctAnswers != b.correctAnswers {
			return a.correctAnswers > b.correctAnswers
		}
		return a.joinedAt.Before(b.joinedAt)
	})

	entries := make([]models.ResultEntry, len(ranked))
	for i, p := range ranked {
		entries[i] = models.ResultEntry{
			Rank:           i + 1,
			PlayerID:       p.id,
			PlayerName:     p.name,
			TotalScore:     p.totalScore,
			CorrectAnswers: p.correctAnswers,
		}
	}
	return entries
}
