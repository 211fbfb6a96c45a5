package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var ErrInvalidToken = errors.New("invalid token")

// RoleAdmin may use the job and log endpoints.
const RoleAdmin = "admin"

// AgentClaims identifies the agent behind an authenticated request.
type AgentClaims struct {
	AgentID  string `json:"agentId"`
	TenantID string `json:"tenantId"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	Role     string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

func (c *AgentClaims) IsAdmin() bool { return c.Role == RoleAdmin }

// GenerateAgentToken signs claims with HS256, valid for ttl from now.
func GenerateAgentToken(claims AgentClaims, jwtSecret string, now time.Time, ttl time.Duration) (string, error) {
	if jwtSecret == "" {
		return "", errors.New("empty jwt secret")
	}
	claims.Subject = claims.AgentID
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(jwtSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign agent token: %w", err)
	}
	return signed, nil
}

// ValidateAgentToken verifies signature, algorithm and expiry and returns the claims.
func ValidateAgentToken(tokenString, jwtSecret string) (*AgentClaims, error) {
	claims := &AgentClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(jwtSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.AgentID == "" || claims.TenantID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
