package auth

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vovakirdan/supportline/internal/proto"
)

// ErrInvalidToken is returned for any credential that fails validation.
var ErrInvalidToken = errors.New("invalid token")

// Claims represents JWT claims for supportline credentials.
type Claims struct {
	UserID   string     `json:"user_id"`
	Username string     `json:"username"`
	Role     proto.Role `json:"role"`
	jwt.RegisteredClaims
}

// Identity returns the sender the claims describe.
func (c *Claims) Identity() proto.Sender {
	return proto.Sender{ID: c.UserID, Name: c.Username, Role: c.Role}
}

// JWTConfig holds JWT configuration.
type JWTConfig struct {
	Secret   []byte
	Issuer   string
	Audience string
	TTL      time.Duration
}

// GenerateToken creates a signed credential for the given identity.
func GenerateToken(cfg *JWTConfig, who proto.Sender) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:   who.ID,
		Username: who.Name,
		Role:     who.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   who.ID,
			Issuer:    cfg.Issuer,
			Audience:  jwt.ClaimStrings{cfg.Audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.TTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(cfg.Secret)
}

// ValidateToken parses and validates a credential.
func ValidateToken(cfg *JWTConfig, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return cfg.Secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: claims", ErrInvalidToken)
	}

	if cfg.Issuer != "" && claims.Issuer != cfg.Issuer {
		return nil, fmt.Errorf("%w: issuer", ErrInvalidToken)
	}
	if cfg.Audience != "" && !slices.Contains(claims.Audience, cfg.Audience) {
		return nil, fmt.Errorf("%w: audience", ErrInvalidToken)
	}
	if claims.UserID == "" || !claims.Role.Valid() {
		return nil, fmt.Errorf("%w: identity", ErrInvalidToken)
	}

	return claims, nil
}
