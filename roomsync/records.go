package roomsync

import (
	"fmt"
	"math"
	"time"

	"impostor-draw-server/game"
	"impostor-draw-server/roomerrors"
	"impostor-draw-server/storage"
)

// Drawing is one submitted image: a single attempt by a single player.
type Drawing struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"roomId"`
	PlayerID  string    `json:"playerId"`
	Round     int       `json:"round"`
	Attempt   int       `json:"attempt"`
	Data      string    `json:"data"` // data URL
	CreatedAt time.Time `json:"createdAt"`
}

// field reads typed columns out of a record, remembering the first problem.
type field struct {
	table string
	rec   storage.Record
	err   error
}

func (f *field) fail(key, format string, args ...any) {
	if f.err == nil {
		f.err = fmt.Errorf("%w: %s.%s %s", roomerrors.ErrMalformedRecord, f.table, key, fmt.Sprintf(format, args...))
	}
}

func (f *field) get(key string) (any, bool) {
	v, ok := f.rec[key]
	if !ok || v == nil {
		f.fail(key, "is missing")
		return nil, false
	}
	return v, true
}

func (f *field) str(key string) string {
	v, ok := f.get(key)
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		f.fail(key, "has type %T, want string", v)
	}
	return s
}

func (f *field) integer(key string) int {
	v, ok := f.get(key)
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case int16:
		return int(n)
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		if n != math.Trunc(n) {
			f.fail(key, "is not an integer: %v", n)
			return 0
		}
		return int(n)
	}
	f.fail(key, "has type %T, want integer", v)
	return 0
}

func (f *field) boolean(key string) bool {
	v, ok := f.get(key)
	if !ok {
		return false
	}
	b, ok := v.(bool)
	if !ok {
		f.fail(key, "has type %T, want bool", v)
	}
	return b
}

// timestamp is lenient: created_at is informational only.
func (f *field) timestamp(key string) time.Time {
	switch v := f.rec[key].(type) {
	case time.Time:
		return v
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err == nil {
			return t
		}
	}
	return time.Time{}
}

// decodeRoom maps a game_rooms record onto a Room without players or votes.
func decodeRoom(rec storage.Record) (*game.Room, error) {
	f := &field{table: storage.TableRooms, rec: rec}
	room := &game.Room{
		ID:                 f.str("id"),
		Code:               f.str("code"),
		Phase:              game.Phase(f.str("phase")),
		Round:              f.integer("round"),
		CurrentPlayerIndex: f.integer("current_player_index"),
		SelectedCategory:   f.str("selected_category"),
		ImpostorWord:       f.str("impostor_word"),
		NormalWord:         f.str("normal_word"),
		TimeLeft:           f.integer("time_left"),
		MaxAttempts:        f.integer("max_attempts"),
		IsGameStarted:      f.boolean("is_game_started"),
		IsVotingPhase:      f.boolean("is_voting_phase"),
		VotingTimeLeft:     f.integer("voting_time_left"),
		Players:            []game.Player{},
		Votes:              map[string]string{},
	}
	if f.err != nil {
		return nil, f.err
	}
	if !room.Phase.Valid() {
		return nil, fmt.Errorf("%w: %s.phase %q", roomerrors.ErrMalformedRecord, storage.TableRooms, room.Phase)
	}
	return room, nil
}

func decodePlayer(rec storage.Record) (game.Player, error) {
	f := &field{table: storage.TablePlayers, rec: rec}
	p := game.Player{
		ID:          f.str("id"),
		Name:        f.str("name"),
		Avatar:      f.str("avatar"),
		IsImpostor:  f.boolean("is_impostor"),
		HasSeenCard: f.boolean("has_seen_card"),
		Attempts:    f.integer("attempts"),
		IsActive:    f.boolean("is_active"),
	}
	return p, f.err
}

func decodeVote(rec storage.Record) (voter, voted string, err error) {
	f := &field{table: storage.TableVotes, rec: rec}
	voter = f.str("voter_id")
	voted = f.str("voted_player_id")
	return voter, voted, f.err
}

func decodeDrawing(rec storage.Record) (Drawing, error) {
	f := &field{table: storage.TableDrawings, rec: rec}
	d := Drawing{
		ID:        f.str("id"),
		RoomID:    f.str("room_id"),
		PlayerID:  f.str("player_id"),
		Round:     f.integer("round"),
		Attempt:   f.integer("attempt"),
		Data:      f.str("drawing_data"),
		CreatedAt: f.timestamp("created_at"),
	}
	return d, f.err
}

// compose assembles the composite room from its three record sets.
func compose(roomRec storage.Record, playerRecs, voteRecs []storage.Record) (*game.Room, error) {
	room, err := decodeRoom(roomRec)
	if err != nil {
		return nil, err
	}
	for _, rec := range playerRecs {
		p, err := decodePlayer(rec)
		if err != nil {
			return nil, err
		}
		room.Players = append(room.Players, p)
	}
	for _, rec := range voteRecs {
		voter, voted, err := decodeVote(rec)
		if err != nil {
			return nil, err
		}
		room.Votes[voter] = voted
	}
	return room, nil
}

// roomFields is every mutable game_rooms column of r.
func roomFields(r *game.Room) storage.Record {
	return storage.Record{
		"code":                 r.Code,
		"phase":                string(r.Phase),
		"round":                r.Round,
		"current_player_index": r.CurrentPlayerIndex,
		"selected_category":    r.SelectedCategory,
		"impostor_word":        r.ImpostorWord,
		"normal_word":          r.NormalWord,
		"time_left":            r.TimeLeft,
		"max_attempts":         r.MaxAttempts,
		"is_game_started":      r.IsGameStarted,
		"is_voting_phase":      r.IsVotingPhase,
		"voting_time_left":     r.VotingTimeLeft,
	}
}

func playerFields(p game.Player) storage.Record {
	return storage.Record{
		"name":          p.Name,
		"avatar":        p.Avatar,
		"is_impostor":   p.IsImpostor,
		"has_seen_card": p.HasSeenCard,
		"attempts":      p.Attempts,
		"is_active":     p.IsActive,
	}
}

// changed returns the entries of next whose value differs from prev.
func changed(prev, next storage.Record) storage.Record {
	out := storage.Record{}
	for k, v := range next {
		if pv, ok := prev[k]; !ok || pv != v {
			out[k] = v
		}
	}
	return out
}
