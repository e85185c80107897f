// Package auth verifies the bearer tokens minted by the upstream identity
// service. The engine never stores credentials; it only checks signatures
// and extracts the caller's identity.
package auth

import (
	"github.com/google/uuid"
)

// Provider defines the interface for token operations.
type Provider interface {
	// GenerateToken creates a signed token for a user.
	GenerateToken(userID uuid.UUID, username string) (string, error)

	// ValidateToken verifies a token and returns the claims.
	ValidateToken(token string) (*Claims, error)
}

// Claims is the verified identity carried by a token.
type Claims struct {
	// UserID is the caller's ID.
	UserID uuid.UUID `json:"userId"`

	// Username is the caller's display name.
	Username string `json:"username"`
}
