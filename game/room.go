package game

import (
	"fmt"
	"maps"
	"slices"
)

// Phase is the room's stage in the game lifecycle.
type Phase string

const (
	PhaseWaiting    Phase = "waiting"
	PhaseCardReveal Phase = "cardReveal"
	PhaseDrawing    Phase = "drawing"
	PhaseVoting     Phase = "voting"
	PhaseResults    Phase = "results"
)

// ImpostorWord is the literal word handed to the impostor.
const ImpostorWord = "impostor"

var phaseOrder = []Phase{PhaseWaiting, PhaseCardReveal, PhaseDrawing, PhaseVoting, PhaseResults}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	return slices.Contains(phaseOrder, p)
}

// CanTransitionTo reports whether target directly follows p. The only edges
// are the forward chain and results → waiting.
func (p Phase) CanTransitionTo(target Phase) bool {
	i := slices.Index(phaseOrder, p)
	if i < 0 {
		return false
	}
	return phaseOrder[(i+1)%len(phaseOrder)] == target
}

// Room is the composite room state: the game_rooms record plus its players
// (in join order) and its votes.
type Room struct {
	ID                 string            `json:"id"`
	Code               string            `json:"code"`
	Players            []Player          `json:"players"`
	CurrentPlayerIndex int               `json:"currentPlayerIndex"`
	Round              int               `json:"round"`
	Phase              Phase             `json:"phase"`
	SelectedCategory   string            `json:"selectedCategory"`
	ImpostorWord       string            `json:"impostorWord"`
	NormalWord         string            `json:"normalWord"`
	TimeLeft           int               `json:"timeLeft"`
	MaxAttempts        int               `json:"maxAttempts"`
	IsGameStarted      bool              `json:"isGameStarted"`
	IsVotingPhase      bool              `json:"isVotingPhase"`
	Votes              map[string]string `json:"votes"` // voter id -> voted player id
	VotingTimeLeft     int               `json:"votingTimeLeft"`
}

// NewRoom returns a room in the waiting phase with no players.
func NewRoom(id, code, category string, rules Rules) *Room {
	return &Room{
		ID:               id,
		Code:             code,
		Players:          []Player{},
		Round:            1,
		Phase:            PhaseWaiting,
		SelectedCategory: category,
		TimeLeft:         rules.DrawingTime,
		MaxAttempts:      rules.MaxAttempts,
		Votes:            map[string]string{},
		VotingTimeLeft:   rules.VotingTime,
	}
}

// Clone returns a deep copy.
func (r *Room) Clone() *Room {
	c := *r
	c.Players = slices.Clone(r.Players)
	if c.Players == nil {
		c.Players = []Player{}
	}
	c.Votes = maps.Clone(r.Votes)
	if c.Votes == nil {
		c.Votes = map[string]string{}
	}
	return &c
}

// PlayerIndex returns the seat of the player with id, or -1.
func (r *Room) PlayerIndex(id string) int {
	return slices.IndexFunc(r.Players, func(p Player) bool { return p.ID == id })
}

// Player returns the player with id.
func (r *Room) Player(id string) (Player, bool) {
	i := r.PlayerIndex(id)
	if i < 0 {
		return Player{}, false
	}
	return r.Players[i], true
}

// Impostor returns the impostor, if one has been assigned.
func (r *Room) Impostor() (Player, bool) {
	i := slices.IndexFunc(r.Players, func(p Player) bool { return p.IsImpostor })
	if i < 0 {
		return Player{}, false
	}
	return r.Players[i], true
}

// CurrentPlayer returns the drawer. Only meaningful in the drawing phase.
func (r *Room) CurrentPlayer() (Player, bool) {
	if r.CurrentPlayerIndex < 0 || r.CurrentPlayerIndex >= len(r.Players) {
		return Player{}, false
	}
	return r.Players[r.CurrentPlayerIndex], true
}

// AllVoted reports whether every player has a vote on record.
func (r *Room) AllVoted() bool {
	if len(r.Players) == 0 {
		return false
	}
	for _, p := range r.Players {
		if _, ok := r.Votes[p.ID]; !ok {
			return false
		}
	}
	return true
}

// WordFor returns the secret word shown to the given player, or "" before the
// game has started or for an unknown player.
func (r *Room) WordFor(playerID string) string {
	p, ok := r.Player(playerID)
	if !ok || !r.IsGameStarted {
		return ""
	}
	if p.IsImpostor {
		return r.ImpostorWord
	}
	return r.NormalWord
}

// Validate checks the room invariants. Composite states reloaded from the
// Store may transiently fail this while a peer's writes are still landing.
func (r *Room) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("room has no id")
	}
	if !ValidRoomCode(r.Code) {
		return fmt.Errorf("room code %q is not %d uppercase alphanumerics", r.Code, RoomCodeLength)
	}
	if !r.Phase.Valid() {
		return fmt.Errorf("unknown phase %q", r.Phase)
	}
	if r.Round < 1 {
		return fmt.Errorf("round %d < 1", r.Round)
	}

	impostors := 0
	seen := make(map[string]bool, len(r.Players))
	for _, p := range r.Players {
		if p.ID == "" {
			return fmt.Errorf("player %q has no id", p.Name)
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate player id %s", p.ID)
		}
		seen[p.ID] = true
		if p.IsImpostor {
			impostors++
		}
		if p.Attempts < 0 || (r.MaxAttempts > 0 && p.Attempts > r.MaxAttempts) {
			return fmt.Errorf("player %s has %d attempts (max %d)", p.ID, p.Attempts, r.MaxAttempts)
		}
	}
	switch {
	case r.IsGameStarted && impostors != 1:
		return fmt.Errorf("started game has %d impostors", impostors)
	case !r.IsGameStarted && impostors != 0:
		return fmt.Errorf("game not started but %d impostors assigned", impostors)
	}

	if r.Phase == PhaseDrawing && (r.CurrentPlayerIndex < 0 || r.CurrentPlayerIndex >= len(r.Players)) {
		return fmt.Errorf("current player index %d out of range [0,%d)", r.CurrentPlayerIndex, len(r.Players))
	}

	if len(r.Votes) > len(r.Players) {
		return fmt.Errorf("%d votes for %d players", len(r.Votes), len(r.Players))
	}
	for voter, voted := range r.Votes {
		if !seen[voter] || !seen[voted] {
			return fmt.Errorf("vote %s -> %s references an unknown player", voter, voted)
		}
	}
	return nil
}
