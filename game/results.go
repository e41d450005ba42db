package game

// Tally is the number of votes one player received.
type Tally struct {
	PlayerID string `json:"playerId"`
	Votes    int    `json:"votes"`
}

// Results is the outcome of a vote.
type Results struct {
	Accused   Player  `json:"accused"`
	VoteCount int     `json:"voteCount"`
	Impostor  Player  `json:"impostor"`
	Correct   bool    `json:"correct"`
	Tally     []Tally `json:"tally"`
}

// ComputeResults counts the votes per player. The accused is the player with
// the most votes; on a tie the one seated first keeps it, and with no votes at
// all that is the first player. A room without players yields the zero value.
func ComputeResults(room *Room) Results {
	if len(room.Players) == 0 {
		return Results{}
	}

	counts := make(map[string]int, len(room.Players))
	for _, voted := range room.Votes {
		counts[voted]++
	}

	res := Results{
		Accused: room.Players[0],
		Tally:   make([]Tally, 0, len(room.Players)),
	}
	for _, p := range room.Players {
		n := counts[p.ID]
		res.Tally = append(res.Tally, Tally{PlayerID: p.ID, Votes: n})
		if n > res.VoteCount {
			res.VoteCount = n
			res.Accused = p
		}
	}

	if imp, ok := room.Impostor(); ok {
		res.Impostor = imp
		res.Correct = res.Accused.ID == imp.ID
	}
	return res
}
