// Package client implements the polling side of the synchronization protocol
// for front-ends: resolve a typed code to its shard, join, then poll full
// snapshots on whatever interval the caller likes. A failed poll is expected
// and harmless; callers retry the next one.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"quizrally/sharding"
)

var (
	// ErrShardUnavailable marks transport failures: the shard is unreachable
	// or too slow. Distinct from every application error so callers can show
	// "service unavailable" instead of "room not found".
	ErrShardUnavailable = errors.New("shard unavailable")

	ErrNotFound   = errors.New("room not found")
	ErrRoomClosed = errors.New("room is closed")
	ErrWrongShard = errors.New("room code belongs to a different shard")
)

// defaultTimeout keeps join attempts against a dead shard bounded; a human is
// waiting behind the code prompt.
const defaultTimeout = 5 * time.Second

// APIError is any other application-level rejection (room full, duplicate
// name, and the rest of the taxonomy).
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

type RoomSummary struct {
	ID              uint   `json:"id"`
	Code            string `json:"code"`
	Title           string `json:"title"`
	Description     string `json:"description"`
	MaxPlayers      int    `json:"max_players"`
	QuestionsCount  int    `json:"questions_count"`
	TimePerQuestion int    `json:"time_per_question"`
	Status          string `json:"status"`
}

type Player struct {
	ID             uint      `json:"id"`
	Name           string    `json:"name"`
	IsConnected    bool      `json:"is_connected"`
	TotalScore     int       `json:"total_score"`
	CorrectAnswers int       `json:"correct_answers"`
	JoinedAt       time.Time `json:"joined_at"`
}

type StatusSnapshot struct {
	RoomID               uint   `json:"room_id"`
	Code                 string `json:"code"`
	Phase                string `json:"phase"`
	CurrentQuestionIndex int    `json:"current_question_index"`
	TimeRemaining        int    `json:"time_remaining"`
	TotalQuestions       int    `json:"total_questions"`
	PlayerCount          int    `json:"player_count"`
	IsActive             bool   `json:"is_active"`
}

type AnswerAck struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason"`
	Points   int    `json:"points"`
}

type ResultEntry struct {
	Rank           int    `json:"rank"`
	PlayerID       uint   `json:"player_id"`
	PlayerName     string `json:"player_name"`
	TotalScore     int    `json:"total_score"`
	CorrectAnswers int    `json:"correct_answers"`
}

type Results struct {
	Room    RoomSummary   `json:"room"`
	Entries []ResultEntry `json:"results"`
}

type Client struct {
	table sharding.Table
	http  *http.Client
}

func New(table sharding.Table) *Client {
	return &Client{table: table, http: &http.Client{Timeout: defaultTimeout}}
}

// NewWithHTTPClient lets callers supply their own transport (tests, custom
// timeouts).
func NewWithHTTPClient(table sharding.Table, hc *http.Client) *Client {
	return &Client{table: table, http: hc}
}

// RoomByCode validates the code locally, picks the owning shard and looks the
// room up. Bad-length codes never reach the network.
func (c *Client) RoomByCode(ctx context.Context, code string) (*RoomSummary, error) {
	code = sharding.Normalize(code)
	shard, err := c.table.Resolve(code)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Room RoomSummary `json:"room"`
	}
	if err := c.do(ctx, shard.BaseURL, http.MethodGet, "/api/rooms/by-code/"+code, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Room, nil
}

// Join enters a room and returns a handle bound to the owning shard for all
// later polls.
func (c *Client) Join(ctx context.Context, code, playerName string) (*RoomHandle, error) {
	code = sharding.Normalize(code)
	shard, err := c.table.Resolve(code)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Player Player      `json:"player"`
		Room   RoomSummary `json:"room"`
	}
	body := map[string]string{"player_name": playerName}
	if err := c.do(ctx, shard.BaseURL, http.MethodPost, "/api/rooms/by-code/"+code+"/join", body, &resp); err != nil {
		return nil, err
	}
	return &RoomHandle{
		client:  c,
		baseURL: shard.BaseURL,
		RoomID:  resp.Room.ID,
		Room:    resp.Room,
		Player:  resp.Player,
	}, nil
}

// RoomHandle polls one room on its shard.
type RoomHandle struct {
	client  *Client
	baseURL string
	RoomID  uint
	Room    RoomSummary
	Player  Player
}

func (h *RoomHandle) Status(ctx context.Context) (*StatusSnapshot, error) {
	var snap StatusSnapshot
	if err := h.client.do(ctx, h.baseURL, http.MethodGet, h.path("status"), nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (h *RoomHandle) Players(ctx context.Context) ([]Player, error) {
	var resp struct {
		Players []Player `json:"players"`
	}
	if err := h.client.do(ctx, h.baseURL, http.MethodGet, h.path("players"), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Players, nil
}

func (h *RoomHandle) Heartbeat(ctx context.Context) error {
	body := map[string]uint{"player_id": h.Player.ID}
	return h.client.do(ctx, h.baseURL, http.MethodPost, h.path("heartbeat"), body, nil)
}

func (h *RoomHandle) SubmitAnswer(ctx context.Context, questionIndex int, isCorrect bool, responseSeconds int) (*AnswerAck, error) {
	body := map[string]interface{}{
		"player_id":             h.Player.ID,
		"question_index":        questionIndex,
		"is_correct":            isCorrect,
		"response_time_seconds": responseSeconds,
	}
	var ack AnswerAck
	if err := h.client.do(ctx, h.baseURL, http.MethodPost, h.path("answer"), body, &ack); err != nil {
		return nil, err
	}
	return &ack, nil
}

func (h *RoomHandle) Results(ctx context.Context) (*Results, error) {
	var results Results
	if err := h.client.do(ctx, h.baseURL, http.MethodGet, h.path("results"), nil, &results); err != nil {
		return nil, err
	}
	return &results, nil
}

func (h *RoomHandle) path(op string) string {
	return fmt.Sprintf("/api/rooms/%d/%s", h.RoomID, op)
}

func (c *Client) do(ctx context.Context, baseURL, method, path string, body, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrShardUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(out)
	}
	if resp.StatusCode >= 500 && resp.StatusCode != http.StatusServiceUnavailable {
		return fmt.Errorf("%w: shard returned %d", ErrShardUnavailable, resp.StatusCode)
	}

	var apiErr struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&apiErr)
	switch apiErr.Code {
	case "not_found":
		return ErrNotFound
	case "room_closed":
		return ErrRoomClosed
	case "wrong_shard":
		return ErrWrongShard
	}
	return &APIError{StatusCode: resp.StatusCode, Code: apiErr.Code, Message: apiErr.Error}
}
