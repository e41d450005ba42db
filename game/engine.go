package game

import (
	"math/rand/v2"
	"unicode/utf8"

	"impostor-draw-server/roomerrors"
	"impostor-draw-server/words"
)

// Rand is the source of randomness for impostor selection, word draws and
// room codes. *rand.Rand from math/rand/v2 satisfies it.
type Rand interface {
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

// Rules holds the tunables of a game. Times are in seconds.
type Rules struct {
	DrawingTime   int
	VotingTime    int
	MaxAttempts   int
	MaxRounds     int
	MinPlayers    int
	MaxPlayers    int
	MaxNameLength int
}

// DefaultRules returns the stock game settings.
func DefaultRules() Rules {
	return Rules{
		DrawingTime:   15,
		VotingTime:    20,
		MaxAttempts:   3,
		MaxRounds:     3,
		MinPlayers:    3,
		MaxPlayers:    8,
		MaxNameLength: 20,
	}
}

// Engine holds the phase transition functions. Every transition takes the
// current room, leaves it untouched and returns the next room, or a
// *roomerrors.ValidationError when its precondition does not hold.
type Engine struct {
	Rules Rules
	rand  Rand
}

// NewEngine returns an engine. A nil r uses the goroutine-safe global source.
func NewEngine(rules Rules, r Rand) *Engine {
	if r == nil {
		r = globalRand{}
	}
	return &Engine{Rules: rules, rand: r}
}

func requirePhase(op string, room *Room, want Phase) error {
	if room.Phase != want {
		return roomerrors.Invalid(op, "requires phase %s, room is in %s", want, room.Phase)
	}
	return nil
}

// requireTransition rejects an operation that would move the room along an
// edge its phase does not have.
func requireTransition(op string, room *Room, to Phase) error {
	if !room.Phase.CanTransitionTo(to) {
		return roomerrors.Invalid(op, "cannot move from %s to %s", room.Phase, to)
	}
	return nil
}

// AddPlayer seats p at the end of the turn order. Joining is only possible
// while the room is waiting and not full. p.ID may still be empty when the
// caller is only validating a join before the Store assigns an id.
func (e *Engine) AddPlayer(room *Room, p Player) (*Room, error) {
	const op = "addPlayer"
	if err := requirePhase(op, room, PhaseWaiting); err != nil {
		return nil, err
	}
	if e.Rules.MaxPlayers > 0 && len(room.Players) >= e.Rules.MaxPlayers {
		return nil, roomerrors.Invalid(op, "room is full (%d players)", e.Rules.MaxPlayers)
	}
	n := utf8.RuneCountInString(p.Name)
	if n < 1 || n > e.Rules.MaxNameLength {
		return nil, roomerrors.Invalid(op, "name must be between 1 and %d characters", e.Rules.MaxNameLength)
	}
	if !ValidAvatar(p.Avatar) {
		return nil, roomerrors.Invalid(op, "unknown avatar %q", p.Avatar)
	}
	if p.ID != "" && room.PlayerIndex(p.ID) >= 0 {
		return nil, roomerrors.Invalid(op, "player %s already in room", p.ID)
	}

	next := room.Clone()
	p.IsImpostor = false
	p.HasSeenCard = false
	p.Attempts = 0
	next.Players = append(next.Players, p)
	return next, nil
}

// StartGame picks the impostor and the secret words and moves to card reveal.
func (e *Engine) StartGame(room *Room) (*Room, error) {
	const op = "startGame"
	if err := requireTransition(op, room, PhaseCardReveal); err != nil {
		return nil, err
	}
	if len(room.Players) < e.Rules.MinPlayers {
		return nil, roomerrors.Invalid(op, "need at least %d players, have %d", e.Rules.MinPlayers, len(room.Players))
	}
	list, ok := words.Lookup(room.SelectedCategory)
	if !ok || len(list) == 0 {
		return nil, roomerrors.Invalid(op, "unknown category %q", room.SelectedCategory)
	}

	next := room.Clone()
	impostor := e.rand.IntN(len(next.Players))
	for i := range next.Players {
		next.Players[i].IsImpostor = i == impostor
	}
	next.NormalWord = list[e.rand.IntN(len(list))]
	next.ImpostorWord = ImpostorWord
	next.Phase = PhaseCardReveal
	next.IsGameStarted = true
	return next, nil
}

// RevealCard records that a player has looked at their card. Repeating it is
// harmless.
func (e *Engine) RevealCard(room *Room, playerID string) (*Room, error) {
	const op = "revealCard"
	if err := requirePhase(op, room, PhaseCardReveal); err != nil {
		return nil, err
	}
	i := room.PlayerIndex(playerID)
	if i < 0 {
		return nil, roomerrors.Invalid(op, "unknown player %s", playerID)
	}
	next := room.Clone()
	next.Players[i].HasSeenCard = true
	return next, nil
}

// StartDrawing hands the first turn to the first player to join.
func (e *Engine) StartDrawing(room *Room) (*Room, error) {
	if err := requireTransition("startDrawing", room, PhaseDrawing); err != nil {
		return nil, err
	}
	next := room.Clone()
	next.Phase = PhaseDrawing
	next.CurrentPlayerIndex = 0
	next.TimeLeft = e.Rules.DrawingTime
	return next, nil
}

// AdvanceTurn ends the current drawer's attempt. It is the only way a turn
// ends: countdown expiry and "done drawing" both land here. Completing a lap
// bumps the round; voting opens once every player has used all attempts or
// the round limit is exceeded.
func (e *Engine) AdvanceTurn(room *Room) (*Room, error) {
	const op = "advanceTurn"
	if err := requirePhase(op, room, PhaseDrawing); err != nil {
		return nil, err
	}
	if len(room.Players) == 0 {
		return nil, roomerrors.Invalid(op, "room has no players")
	}
	if room.CurrentPlayerIndex < 0 || room.CurrentPlayerIndex >= len(room.Players) {
		return nil, roomerrors.Invalid(op, "current player index %d out of range", room.CurrentPlayerIndex)
	}

	next := room.Clone()
	next.Players[next.CurrentPlayerIndex].Attempts++
	next.CurrentPlayerIndex = (next.CurrentPlayerIndex + 1) % len(next.Players)
	next.TimeLeft = e.Rules.DrawingTime

	if next.CurrentPlayerIndex == 0 {
		next.Round++
		if e.allAttemptsUsed(next) || next.Round > e.Rules.MaxRounds {
			next.Phase = PhaseVoting
			next.IsVotingPhase = true
			next.VotingTimeLeft = e.Rules.VotingTime
		}
	}
	return next, nil
}

func (e *Engine) allAttemptsUsed(room *Room) bool {
	limit := room.MaxAttempts
	if limit <= 0 {
		limit = e.Rules.MaxAttempts
	}
	for _, p := range room.Players {
		if p.Attempts < limit {
			return false
		}
	}
	return true
}

// CastVote records voterID's accusation of votedID, replacing any earlier
// vote by the same voter.
func (e *Engine) CastVote(room *Room, voterID, votedID string) (*Room, error) {
	const op = "castVote"
	if err := requirePhase(op, room, PhaseVoting); err != nil {
		return nil, err
	}
	if room.PlayerIndex(voterID) < 0 {
		return nil, roomerrors.Invalid(op, "unknown voter %s", voterID)
	}
	if room.PlayerIndex(votedID) < 0 {
		return nil, roomerrors.Invalid(op, "unknown suspect %s", votedID)
	}
	next := room.Clone()
	next.Votes[voterID] = votedID
	return next, nil
}

// EndVoting closes the vote. Every client may detect the end of voting on its
// own, so calling this on a room already showing results returns an unchanged
// copy instead of failing.
func (e *Engine) EndVoting(room *Room) (*Room, error) {
	if room.Phase == PhaseResults {
		return room.Clone(), nil
	}
	if err := requireTransition("endVoting", room, PhaseResults); err != nil {
		return nil, err
	}
	next := room.Clone()
	next.Phase = PhaseResults
	return next, nil
}

// ResetForNewGame returns the room to waiting with the same roster and
// category.
func (e *Engine) ResetForNewGame(room *Room) (*Room, error) {
	if err := requireTransition("resetForNewGame", room, PhaseWaiting); err != nil {
		return nil, err
	}
	next := room.Clone()
	next.Votes = map[string]string{}
	for i := range next.Players {
		next.Players[i].Attempts = 0
		next.Players[i].HasSeenCard = false
		next.Players[i].IsImpostor = false
	}
	next.Phase = PhaseWaiting
	next.IsGameStarted = false
	next.IsVotingPhase = false
	next.Round = 1
	next.CurrentPlayerIndex = 0
	next.TimeLeft = e.Rules.DrawingTime
	next.VotingTimeLeft = e.Rules.VotingTime
	return next, nil
}
