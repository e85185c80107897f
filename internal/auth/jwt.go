package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"norelock.dev/syncroom/backend/internal/models"
	"norelock.dev/syncroom/backend/internal/utils"
)

// JWTConfig contains configuration for the JWT provider.
type JWTConfig struct {
	// Secret is the signing key shared with the identity service.
	Secret string `validate:"required"`

	// Issuer is the expected issuer claim.
	Issuer string `validate:"required"`

	// Audience is the expected audience claim.
	Audience string `validate:"required"`

	// AccessTokenDuration is how long generated tokens stay valid.
	AccessTokenDuration time.Duration `validate:"required"`
}

// JWTClaims extends the standard JWT claims with the engine's identity
// fields.
type JWTClaims struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`

	jwt.RegisteredClaims
}

// JWTProvider implements the Provider interface using HS256 tokens.
type JWTProvider struct {
	config    JWTConfig
	validator *jwt.Validator
	logger    *utils.Logger
}

// NewJWTProvider creates a new JWT provider.
func NewJWTProvider(config JWTConfig, logger *utils.Logger) *JWTProvider {
	return &JWTProvider{
		config: config,
		validator: jwt.NewValidator(
			jwt.WithLeeway(time.Second),
			jwt.WithIssuer(config.Issuer),
			jwt.WithAudience(config.Audience),
		),
		logger: logger.Named("jwt_provider"),
	}
}

// GenerateToken creates a signed token for a user.
func (p *JWTProvider) GenerateToken(userID uuid.UUID, username string) (string, error) {
	now := time.Now()

	claims := JWTClaims{
		UserID:   userID.String(),
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    p.config.Issuer,
			Subject:   userID.String(),
			Audience:  jwt.ClaimStrings{p.config.Audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(p.config.AccessTokenDuration)),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        fmt.Sprintf("%d", now.UnixNano()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenString, err := token.SignedString([]byte(p.config.Secret))
	if err != nil {
		p.logger.Error("Failed to sign token", err, "userId", userID)
		return "", models.NewInternal(err, "token generation failed")
	}

	return tokenString, nil
}

// ValidateToken verifies a token's signature and registered claims and
// returns the caller identity.
func (p *JWTProvider) ValidateToken(tokenString string) (*Claims, error) {
	var jwtClaims JWTClaims
	token, err := jwt.ParseWithClaims(tokenString, &jwtClaims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(p.config.Secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, models.NewUnauthorized(models.ErrTokenExpired, "token expired")
		}
		return nil, models.NewUnauthorized(models.ErrInvalidToken, "invalid token")
	}
	if token == nil || !token.Valid {
		return nil, models.NewUnauthorized(models.ErrInvalidToken, "invalid token")
	}

	if err := p.validator.Validate(&jwtClaims); err != nil {
		p.logger.Debug("Token claims rejected", "error", err.Error())
		return nil, models.NewUnauthorized(models.ErrInvalidToken, "invalid token")
	}

	userID, err := uuid.Parse(jwtClaims.UserID)
	if err != nil {
		return nil, models.NewUnauthorized(models.ErrInvalidToken, "invalid token subject")
	}

	return &Claims{
		UserID:   userID,
		Username: jwtClaims.Username,
	}, nil
}
