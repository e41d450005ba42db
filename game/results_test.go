package game

import "testing"

func TestComputeResults_TieGoesToFirstSeat(t *testing.T) {
	room := testRoom("A", "B", "C", "D")
	room.IsGameStarted = true
	room.Players[2].IsImpostor = true
	room.Votes = map[string]string{"A": "C", "B": "B", "C": "B", "D": "C"}

	res := ComputeResults(room)
	if res.Accused.ID != "B" {
		t.Errorf("expected B (earlier seat) to win the tie, got %s", res.Accused.ID)
	}
	if res.VoteCount != 2 {
		t.Errorf("expected 2 votes, got %d", res.VoteCount)
	}
	if res.Impostor.ID != "C" || res.Correct {
		t.Errorf("expected impostor C and an incorrect accusation, got %s correct=%v", res.Impostor.ID, res.Correct)
	}
}

func TestComputeResults_NoVotes(t *testing.T) {
	room := testRoom("A", "B", "C")
	room.IsGameStarted = true
	room.Players[0].IsImpostor = true

	res := ComputeResults(room)
	if res.Accused.ID != "A" || res.VoteCount != 0 {
		t.Errorf("expected first player with 0 votes, got %s with %d", res.Accused.ID, res.VoteCount)
	}
	if !res.Correct {
		t.Error("first seat is the impostor, so the default accusation is correct")
	}
	if len(res.Tally) != 3 {
		t.Errorf("expected a tally row per player, got %d", len(res.Tally))
	}
}

func TestComputeResults_CorrectAccusation(t *testing.T) {
	room := testRoom("A", "B", "C")
	room.IsGameStarted = true
	room.Players[1].IsImpostor = true
	room.Votes = map[string]string{"A": "B", "C": "B", "B": "A"}

	res := ComputeResults(room)
	if !res.Correct || res.Accused.ID != "B" || res.VoteCount != 2 {
		t.Errorf("unexpected results: %+v", res)
	}
}

func TestComputeResults_EmptyRoom(t *testing.T) {
	res := ComputeResults(&Room{})
	if res.Accused.ID != "" || res.Tally != nil {
		t.Errorf("expected zero results, got %+v", res)
	}
}
