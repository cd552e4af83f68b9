// Package sharding declares the room-code routing policy: the length of a
// code decides which backend shard owns the room. Keeping the rule in one
// table lets both the server and the poll client share it instead of
// re-deriving it from string lengths at every call site.
package sharding

import (
	"errors"
	"fmt"
	"strings"
)

// Valid code lengths. 5-char codes and 6-char codes live on different shards;
// anything else never leaves the client.
const (
	MinCodeLength = 5
	MaxCodeLength = 6
)

var (
	ErrInvalidCode  = errors.New("room code must be 5 or 6 alphanumeric characters")
	ErrUnknownShard = errors.New("no shard registered for this code length")
)

type Shard struct {
	ID         string
	BaseURL    string
	CodeLength int
}

type Table struct {
	byLength map[int]Shard
}

func NewTable(shards ...Shard) (Table, error) {
	t := Table{byLength: make(map[int]Shard, len(shards))}
	for _, s := range shards {
		if s.CodeLength < MinCodeLength || s.CodeLength > MaxCodeLength {
			return Table{}, fmt.Errorf("shard %q: unsupported code length %d", s.ID, s.CodeLength)
		}
		if _, dup := t.byLength[s.CodeLength]; dup {
			return Table{}, fmt.Errorf("duplicate shard for code length %d", s.CodeLength)
		}
		t.byLength[s.CodeLength] = s
	}
	return t, nil
}

// Resolve maps a validated code to its owning shard.
func (t Table) Resolve(code string) (Shard, error) {
	if err := ValidateCode(code); err != nil {
		return Shard{}, err
	}
	shard, ok := t.byLength[len(code)]
	if !ok {
		return Shard{}, ErrUnknownShard
	}
	return shard, nil
}

// For returns the shard registered for a code length, if any.
func (t Table) For(length int) (Shard, bool) {
	shard, ok := t.byLength[length]
	return shard, ok
}

// ValidateCode rejects malformed codes before any lookup is attempted.
// Codes are case-insensitive; Normalize gives the canonical form.
func ValidateCode(code string) error {
	if len(code) < MinCodeLength || len(code) > MaxCodeLength {
		return ErrInvalidCode
	}
	for _, r := range code {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		default:
			return ErrInvalidCode
		}
	}
	return nil
}

func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
