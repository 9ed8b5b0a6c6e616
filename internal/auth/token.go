package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SubjectKind records which credential authenticated the token's subject.
type SubjectKind string

const (
	SubjectEmail  SubjectKind = "email"
	SubjectWallet SubjectKind = "wallet"
)

var (
	// ErrTokenInvalid is returned for tokens that fail signature or
	// structural validation.
	ErrTokenInvalid = errors.New("invalid token")

	// ErrTokenExpired is returned for well-formed tokens past their expiry.
	ErrTokenExpired = errors.New("token expired")
)

// Claims is the session token payload: the standard registered claims plus
// the subject kind.
type Claims struct {
	jwt.RegisteredClaims
	SubjectKind string `json:"kind"`
}

// MintToken signs an HS256 session token for userID with the given lifetime.
func MintToken(userID string, kind SubjectKind, secret []byte, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		SubjectKind: string(kind),
	})
	return token.SignedString(secret)
}

// VerifyToken validates a session token and returns the user id and subject
// kind it carries.
func VerifyToken(tokenString string, secret []byte) (string, SubjectKind, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrTokenInvalid
		}
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", "", ErrTokenExpired
		}
		return "", "", ErrTokenInvalid
	}
	if !token.Valid || strings.TrimSpace(claims.Subject) == "" {
		return "", "", ErrTokenInvalid
	}
	return claims.Subject, SubjectKind(claims.SubjectKind), nil
}
