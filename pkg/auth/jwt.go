package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleUser  = "user"
	RoleGuest = "guest"

	audience = "wanderlust-api"
)

type Claims struct {
	Sub        string `json:"sub"`
	Email      string `json:"email,omitempty"`
	Role       string `json:"role"`
	AccessCode string `json:"access_code,omitempty"`
	jwt.RegisteredClaims
}

func NewSessionToken(sub, email, secret string, ttl time.Duration) (string, error) {
	return sign(Claims{Sub: sub, Email: email, Role: RoleUser}, secret, ttl)
}

// NewGuestSession issues a token for an anonymous principal. The access code it was
// admitted with may be empty until the guest submits one.
func NewGuestSession(sub, accessCode, secret string, ttl time.Duration) (string, error) {
	return sign(Claims{Sub: sub, Role: RoleGuest, AccessCode: accessCode}, secret, ttl)
}

func sign(claims Claims, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		Audience:  []string{audience},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func Parse(tokenString, secret string) (*Claims, error) {
	tok, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithAudience(audience))
	if err != nil {
		return nil, err
	}
	if claims, ok := tok.Claims.(*Claims); ok && tok.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}
