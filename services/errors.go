package services

import "errors"

// Sentinel errors for the session core. Handlers map these to HTTP statuses;
// everything else is treated as an internal error and logged.
var (
	ErrRoomNotFound      = errors.New("room not found")
	ErrRoomClosed        = errors.New("room is closed")
	ErrWrongShard        = errors.New("room code belongs to a different shard")
	ErrRoomFull          = errors.New("room is full")
	ErrDuplicateName     = errors.New("player name already taken")
	ErrRoomNotJoinable   = errors.New("room is not accepting players")
	ErrNoPlayers         = errors.New("cannot start a room with no players")
	ErrPlayerNotFound    = errors.New("player not found in room")
	ErrDuplicateAnswer   = errors.New("answer already submitted for this question")
	ErrQuestionClosed    = errors.New("question is no longer accepting answers")
	ErrNotFinished       = errors.New("room has not finished")
	ErrCapacityExhausted = errors.New("no free room codes available")
	ErrInvalidRoomConfig = errors.New("invalid room configuration")
	ErrInvalidPlayerName = errors.New("player name must be 2-20 characters")
)
