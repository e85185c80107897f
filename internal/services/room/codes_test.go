package room

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Codes are base32 with the lookalike letters I and O removed.
var codePattern = regexp.MustCompile(`^[A-HJ-NP-Z2-7]{6}$`)

func TestNewRoomCodeFormat(t *testing.T) {
	for i := 0; i < 200; i++ {
		code, err := NewRoomCode()
		require.NoError(t, err)
		assert.Regexp(t, codePattern, code)
	}
}

func TestNewRoomCodeUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		code, err := NewRoomCode()
		require.NoError(t, err)
		assert.False(t, seen[code], "duplicate code %s", code)
		seen[code] = true
	}
}
