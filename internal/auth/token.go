// Package auth verifies bearer tokens and runs the GitHub OAuth exchange.
// The rest of the system only ever sees the parsed Principal.
package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

// Principal is the authenticated identity extracted from a valid bearer.
type Principal struct {
	Login     string `json:"login"`
	Name      string `json:"name,omitempty"`
	Email     string `json:"email,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

type Claims struct {
	Principal
	jwt.RegisteredClaims
}

func IssueToken(secret []byte, principal Principal, jti string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Principal: principal,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principal.Login,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func ParseToken(secret []byte, tokenString string) (Principal, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Principal{}, ErrExpiredToken
		}
		return Principal{}, ErrInvalidToken
	}
	if !token.Valid || claims.Login == "" || claims.ID == "" {
		return Principal{}, ErrInvalidToken
	}
	return claims.Principal, nil
}

// HashToken produces the digest under which refresh tokens are stored; the
// raw token never leaves the client.
func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return fmt.Sprintf("%x", sum)
}
