package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostTokenRoundTrip(t *testing.T) {
	now := time.Now()
	token, err := IssueHostToken("secret", 42, now)
	require.NoError(t, err)

	roomID, err := ParseHostToken("secret", token)
	require.NoError(t, err)
	assert.Equal(t, uint(42), roomID)

	_, err = ParseHostToken("other-secret", token)
	assert.ErrorIs(t, err, ErrInvalidHostToken)

	_, err = ParseHostToken("secret", "not-a-token")
	assert.ErrorIs(t, err, ErrInvalidHostToken)
}
