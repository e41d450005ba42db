package session

import (
	"impostor-draw-server/game"
)

// PlayerView is one seat as seen by the viewing player.
type PlayerView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Avatar      string `json:"avatar"`
	HasSeenCard bool   `json:"hasSeenCard"`
	Attempts    int    `json:"attempts"`
	IsActive    bool   `json:"isActive"`
	IsDrawer    bool   `json:"isDrawer,omitempty"`
	HasVoted    bool   `json:"hasVoted,omitempty"`
	// Only filled in the results phase.
	Votes      int  `json:"votes,omitempty"`
	IsImpostor bool `json:"isImpostor,omitempty"`
}

// ResultsView is the outcome of a vote.
type ResultsView struct {
	Accused    PlayerView `json:"accused"`
	VoteCount  int        `json:"voteCount"`
	Impostor   PlayerView `json:"impostor"`
	Correct    bool       `json:"correct"`
	NormalWord string     `json:"normalWord"`
}

// Failure describes why the last action did not go through.
type Failure struct {
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// View is what one player sees of the room. It never carries another
// player's word or the impostor's identity before the results.
type View struct {
	State       string       `json:"state"`
	RoomID      string       `json:"roomId,omitempty"`
	Code        string       `json:"code,omitempty"`
	Phase       game.Phase   `json:"phase,omitempty"`
	Category    string       `json:"category,omitempty"`
	Round       int          `json:"round,omitempty"`
	MaxRounds   int          `json:"maxRounds,omitempty"`
	MaxAttempts int          `json:"maxAttempts,omitempty"`
	Players     []PlayerView `json:"players,omitempty"`
	You         string       `json:"you"`

	Word       string `json:"word,omitempty"`
	IsImpostor bool   `json:"isImpostor,omitempty"`

	CanStart     bool `json:"canStart,omitempty"`
	AllCardsSeen bool `json:"allCardsSeen,omitempty"`

	Drawer   string `json:"drawer,omitempty"`
	YourTurn bool   `json:"yourTurn,omitempty"`
	TimeLeft int    `json:"timeLeft,omitempty"`

	VotingTimeLeft int    `json:"votingTimeLeft,omitempty"`
	MyVote         string `json:"myVote,omitempty"`
	VotesCast      int    `json:"votesCast,omitempty"`

	Results *ResultsView `json:"results,omitempty"`
	Error   *Failure     `json:"error,omitempty"`
}

func seat(p game.Player) PlayerView {
	return PlayerView{
		ID:          p.ID,
		Name:        p.Name,
		Avatar:      p.Avatar,
		HasSeenCard: p.HasSeenCard,
		Attempts:    p.Attempts,
		IsActive:    p.IsActive,
	}
}

// BuildView renders room for playerID.
func BuildView(room *game.Room, playerID string, rules game.Rules, state State) View {
	v := View{State: state.String(), You: playerID}
	if room == nil {
		return v
	}
	v.RoomID = room.ID
	v.Code = room.Code
	v.Phase = room.Phase
	v.Category = room.SelectedCategory
	v.Round = room.Round
	v.MaxRounds = rules.MaxRounds
	v.MaxAttempts = room.MaxAttempts

	var tally map[string]int
	if room.Phase == game.PhaseResults {
		res := game.ComputeResults(room)
		tally = make(map[string]int, len(res.Tally))
		for _, t := range res.Tally {
			tally[t.PlayerID] = t.Votes
		}
		v.Results = &ResultsView{
			Accused:    seat(res.Accused),
			VoteCount:  res.VoteCount,
			Impostor:   seat(res.Impostor),
			Correct:    res.Correct,
			NormalWord: room.NormalWord,
		}
		v.Results.Accused.IsImpostor = res.Accused.IsImpostor
		v.Results.Impostor.IsImpostor = true
	}

	allSeen := len(room.Players) > 0
	v.Players = make([]PlayerView, len(room.Players))
	for i, p := range room.Players {
		pv := seat(p)
		_, pv.HasVoted = room.Votes[p.ID]
		if room.Phase == game.PhaseDrawing && i == room.CurrentPlayerIndex {
			pv.IsDrawer = true
			v.Drawer = p.ID
		}
		if tally != nil {
			pv.Votes = tally[p.ID]
			pv.IsImpostor = p.IsImpostor
		}
		if !p.HasSeenCard {
			allSeen = false
		}
		v.Players[i] = pv
	}

	if me, ok := room.Player(playerID); ok && room.IsGameStarted {
		v.Word = room.WordFor(playerID)
		v.IsImpostor = me.IsImpostor
	}

	switch room.Phase {
	case game.PhaseWaiting:
		v.CanStart = len(room.Players) >= rules.MinPlayers
	case game.PhaseCardReveal:
		v.AllCardsSeen = allSeen
	case game.PhaseDrawing:
		v.TimeLeft = room.TimeLeft
		v.YourTurn = v.Drawer == playerID
	case game.PhaseVoting:
		v.VotingTimeLeft = room.VotingTimeLeft
		v.MyVote = room.Votes[playerID]
		v.VotesCast = len(room.Votes)
	case game.PhaseResults:
		v.MyVote = room.Votes[playerID]
		v.VotesCast = len(room.Votes)
	}
	return v
}
