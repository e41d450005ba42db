package game

import (
	"math/rand/v2"
	"testing"
)

func TestGenerateRoomCode(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 200; i++ {
		code := GenerateRoomCode(r)
		if !ValidRoomCode(code) {
			t.Fatalf("generated invalid code %q", code)
		}
	}
	if !ValidRoomCode(GenerateRoomCode(nil)) {
		t.Error("nil source should fall back to the global one")
	}
}

func TestValidRoomCode(t *testing.T) {
	tests := map[string]bool{
		"ABC123":  true,
		"ZZZZZZ":  true,
		"abc123":  false,
		"ABC12":   false,
		"ABC1234": false,
		"ABC-23":  false,
		"":        false,
	}
	for code, want := range tests {
		if got := ValidRoomCode(code); got != want {
			t.Errorf("ValidRoomCode(%q) = %v, want %v", code, got, want)
		}
	}
}
