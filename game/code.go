package game

const (
	// RoomCodeLength is the length of a room join code.
	RoomCodeLength = 6

	roomCodeChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// GenerateRoomCode returns a random join code. Codes are not checked for
// uniqueness against existing rooms.
func GenerateRoomCode(r Rand) string {
	if r == nil {
		r = globalRand{}
	}
	code := make([]byte, RoomCodeLength)
	for i := range code {
		code[i] = roomCodeChars[r.IntN(len(roomCodeChars))]
	}
	return string(code)
}

// ValidRoomCode reports whether code has the join code shape.
func ValidRoomCode(code string) bool {
	if len(code) != RoomCodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		if !(c >= 'A' && c <= 'Z') && !(c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}
