package room

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"fmt"
	"strings"
	"time"
)

// codeLength is the length of a room join code.
const codeLength = 6

// ambiguousChars are stripped from codes so they survive being read aloud or
// copied by hand.
const ambiguousChars = "0O1I"

// NewRoomCode derives a short join code by hashing the current time with a
// random salt, base32-encoding the digest and dropping ambiguous characters.
// Uniqueness is enforced by the durable store; callers regenerate on a code
// conflict.
func NewRoomCode() (string, error) {
	for {
		salt := make([]byte, 8)
		if _, err := rand.Read(salt); err != nil {
			return "", err
		}

		seed := fmt.Sprintf("%d:%x", time.Now().UnixNano(), salt)
		digest := sha256.Sum256([]byte(seed))
		encoded := base32.StdEncoding.EncodeToString(digest[:])

		var b strings.Builder
		for _, c := range encoded {
			if strings.ContainsRune(ambiguousChars, c) || c == '=' {
				continue
			}
			b.WriteRune(c)
			if b.Len() == codeLength {
				return b.String(), nil
			}
		}
		// Not enough usable characters survived; hash again with a new salt.
	}
}
