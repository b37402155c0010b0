package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/gosuda/custos/internal/domain"
)

// Claims identifies the agent a bearer token speaks for. Subject holds the
// agent id and is empty for singleton agents.
type Claims struct {
	jwt.RegisteredClaims
	AgentType string `json:"akt"`
}

// ErrInvalidToken is returned when a JWT cannot be parsed or has expired.
var ErrInvalidToken = errors.New("auth: invalid or expired token")

// AgentRef returns the agent named by the claims.
func (c *Claims) AgentRef() (domain.AgentRef, error) {
	if c.AgentType == "" {
		return domain.AgentRef{}, fmt.Errorf("auth.Claims.AgentRef: missing agent type: %w", ErrInvalidToken)
	}
	if c.Subject == "" {
		return domain.SingletonAgent(c.AgentType), nil
	}
	id, err := uuid.Parse(c.Subject)
	if err != nil || id == uuid.Nil {
		return domain.AgentRef{}, fmt.Errorf("auth.Claims.AgentRef: bad subject: %w", ErrInvalidToken)
	}
	return domain.IdentifiedAgent(c.AgentType, id), nil
}

// IssueToken creates a signed JWT for ref.
func IssueToken(secret, issuer string, ref domain.AgentRef, ttl time.Duration) (string, error) {
	if ref.IsZero() {
		return "", errors.New("auth.IssueToken: agent type is required")
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    issuer,
		},
		AgentType: ref.Kind(),
	}
	if id, ok := ref.ID(); ok {
		claims.Subject = id.String()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("auth.IssueToken: %w", err)
	}

	return signed, nil
}

// ValidateToken parses and validates a JWT token string. An empty issuer
// accepts any issuer.
func ValidateToken(secret, issuer, tokenString string) (*Claims, error) {
	claims := &Claims{}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("auth.ValidateToken: %w", ErrInvalidToken)
	}

	if !token.Valid {
		return nil, fmt.Errorf("auth.ValidateToken: %w", ErrInvalidToken)
	}

	return claims, nil
}
