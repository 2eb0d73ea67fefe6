package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/Medard-prog/web-whisperer-sub001/internal/utils"
)

// ErrInvalidToken covers malformed, expired and badly signed tokens.
var ErrInvalidToken = errors.New("invalid token")

// Claims carries the session identity. ID (jti) names the session so it can
// be revoked before it expires.
type Claims struct {
	UserID  string `json:"user_id"`
	IsAdmin bool   `json:"is_admin"`
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Identity is what a token is issued for.
type Identity struct {
	UserID  utils.SixID
	IsAdmin bool
	Name    string
	Email   string
}

// GenerateJWT signs a token for id with a fresh token id. It returns the
// token, its id and its expiry.
func GenerateJWT(id Identity, secretKey string, ttl time.Duration) (string, *Claims, error) {
	now := time.Now()
	claims := &Claims{
		UserID:  id.UserID.String(),
		IsAdmin: id.IsAdmin,
		Name:    id.Name,
		Email:   id.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   id.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secretKey))
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign JWT: %w", err)
	}
	return signed, claims, nil
}

// ValidateJWT verifies signature and expiry and returns the claims.
func ValidateJWT(tokenString string, secretKey string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secretKey), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Identity decodes the user fields of the claims.
func (c *Claims) Identity() (Identity, error) {
	userID, err := utils.ParseSixID(c.UserID)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return Identity{UserID: userID, IsAdmin: c.IsAdmin, Name: c.Name, Email: c.Email}, nil
}
