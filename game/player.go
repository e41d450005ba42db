package game

import (
	"slices"
	"strings"
)

// Avatars is the set of avatar tokens a player may pick.
var Avatars = []string{
	"🐶", "🐱", "🐭", "🐹", "🐰", "🦊", "🐻", "🐼",
	"🐨", "🐯", "🦁", "🐮", "🐷", "🐸", "🐵", "🐔",
	"🐧", "🐦", "🐤", "🐣", "🐥", "🦆", "🦅", "🦉",
	"🦇", "🐺", "🐗", "🐴", "🦄", "🐝", "🐛", "🦋",
}

// Player is one participant of a room. Players are anonymous; ID is whatever
// the Store generated when the player record was inserted.
type Player struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Avatar      string `json:"avatar"`
	IsImpostor  bool   `json:"isImpostor"`
	HasSeenCard bool   `json:"hasSeenCard"`
	Attempts    int    `json:"attempts"`
	IsActive    bool   `json:"isActive"`
}

// NewPlayer returns an active player with a trimmed name and no id yet.
func NewPlayer(name, avatar string) Player {
	return Player{
		Name:     strings.TrimSpace(name),
		Avatar:   avatar,
		IsActive: true,
	}
}

// ValidAvatar reports whether avatar is one of Avatars.
func ValidAvatar(avatar string) bool {
	return slices.Contains(Avatars, avatar)
}
