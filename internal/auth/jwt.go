package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims carries the authenticated user's handle. The identity service signs
// these; this service only validates.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Validator validates bearer tokens with a shared HMAC secret.
type Validator struct {
	secret []byte
	maxAge time.Duration
}

// NewValidator constructs a Validator.
func NewValidator(secret string, maxAge time.Duration) *Validator {
	return &Validator{secret: []byte(secret), maxAge: maxAge}
}

// ValidateToken parses the token and returns the caller's handle.
func (v *Validator) ValidateToken(tokenString string) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid || claims.Username == "" {
		return "", ErrInvalidToken
	}
	return claims.Username, nil
}

// IssueToken signs a token for the handle. Used by the debug token route and
// tests; production tokens come from the identity service.
func (v *Validator) IssueToken(username string) (string, error) {
	now := time.Now()
	claims := &Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(now.Add(v.maxAge)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "dm-service",
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
