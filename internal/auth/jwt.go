package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/anurag-kawade/projecthub-chat/internal/models"
)

// Claims is the payload of the portal's session token. The portal's login
// service mints these when a student, faculty member or staff member signs
// in; this subsystem only validates them and trusts the result fully —
// identity resolution is one shared collaborator for both the HTTP
// endpoints and the websocket upgrade, so both layers authenticate
// identically.
type Claims struct {
	Kind        models.PrincipalKind `json:"kind"`
	UserID      int64                `json:"user_id"`
	DisplayName string               `json:"display_name"`
	jwt.RegisteredClaims
}

// Principal converts validated claims into the domain principal.
func (c *Claims) Principal() models.Principal {
	return models.Principal{
		Kind:        c.Kind,
		ID:          c.UserID,
		DisplayName: c.DisplayName,
	}
}

// GenerateToken creates a signed session token. The server itself never
// calls this outside tests — issuing tokens is the login service's job —
// but keeping mint and verify beside each other pins down the format.
func GenerateToken(kind models.PrincipalKind, userID int64, displayName, secret string, ttl time.Duration) (string, error) {
	now := time.Now()

	claims := Claims{
		Kind:        kind,
		UserID:      userID,
		DisplayName: displayName,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "projecthub",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return signed, nil
}

// ParseToken validates a token string and extracts the claims. Beyond the
// signature and expiry, it rejects any non-HMAC signing method (algorithm
// confusion) and any claims whose principal kind isn't one the portal
// knows — an unknown kind can never authenticate.
func ParseToken(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(secret), nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if !claims.Kind.Valid() || claims.UserID <= 0 {
		return nil, fmt.Errorf("token carries no valid principal")
	}

	return claims, nil
}
