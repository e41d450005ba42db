package ws

import (
	"encoding/json"

	"impostor-draw-server/session"
)

// InboundEnvelope is the generic envelope for all client-to-server messages.
// The Type field is used for routing; Raw holds the full JSON payload.
type InboundEnvelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements custom unmarshaling to capture the raw payload.
func (e *InboundEnvelope) UnmarshalJSON(data []byte) error {
	type typeOnly struct {
		Type string `json:"type"`
	}
	var t typeOnly
	if err := json.Unmarshal(data, &t); err != nil {
		return err
	}
	e.Type = t.Type
	e.Raw = json.RawMessage(data)
	return nil
}

// Client-to-server message types.
const (
	TypeCreateRoom   = "create_room"
	TypeJoinRoom     = "join_room"
	TypeResume       = "resume"
	TypeStartGame    = "start_game"
	TypeRevealCard   = "reveal_card"
	TypeStartDrawing = "start_drawing"
	TypeFinishTurn   = "finish_turn"
	TypeCastVote     = "cast_vote"
	TypeEndVoting    = "end_voting"
	TypeNewGame      = "new_game"
	TypeLeave        = "leave"
)

// Server-to-client message types.
const (
	TypeJoined    = "joined"
	TypeRoomState = "room_state"
	TypeEvicted   = "evicted"
	TypeError     = "error"
)

// --- Client-to-Server message payloads ---

// CreateRoomMsg opens a new room with the sender as its first player.
// An empty Category picks the default one.
type CreateRoomMsg struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	Avatar   string `json:"avatar"`
	Category string `json:"category"`
}

// JoinRoomMsg seats the sender in a waiting room.
type JoinRoomMsg struct {
	Type   string `json:"type"`
	Code   string `json:"code"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

// ResumeMsg reattaches a connection to a seat it was given earlier.
type ResumeMsg struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// FinishTurnMsg ends the sender's drawing turn. Drawing is an image data URL
// and may be empty.
type FinishTurnMsg struct {
	Type    string `json:"type"`
	Drawing string `json:"drawing"`
}

// CastVoteMsg votes for the player suspected of being the impostor.
type CastVoteMsg struct {
	Type     string `json:"type"`
	PlayerID string `json:"playerId"`
}

// --- Server-to-Client messages ---

// JoinedMsg confirms a seat. Token lets the client resume after a reconnect.
type JoinedMsg struct {
	Type     string `json:"type"`
	RoomID   string `json:"roomId"`
	Code     string `json:"code"`
	PlayerID string `json:"playerId"`
	Token    string `json:"token"`
}

// RoomStateMsg carries the sender's current view of the room.
type RoomStateMsg struct {
	Type string `json:"type"`
	session.View
}

// EvictedMsg is sent when the room went away and did not come back.
type EvictedMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
}

// ErrorMsg is sent when a client message could not be carried out.
type ErrorMsg struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}
