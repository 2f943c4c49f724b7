package utils

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleClient     = "client"
	RoleConsultant = "consultant"
	RoleAdmin      = "admin"
)

var ErrUnknownRole = errors.New("jwt: unknown role")

// Claims carry the caller identity. For consultants UserID is the consultant account id.
type Claims struct {
	UserID string `json:"uid"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// NormalizeRole lowercases role and reports whether it is one this service understands.
func NormalizeRole(role string) (string, bool) {
	role = strings.ToLower(strings.TrimSpace(role))
	switch role {
	case RoleClient, RoleConsultant, RoleAdmin:
		return role, true
	}
	return role, false
}

// SignJWT issues an HS256 token for the escrow API. Sessions are issued by the identity
// service; this exists for escrowctl and tests.
func SignJWT(secret, userID, role string, expiresMin int) (string, error) {
	role, known := NormalizeRole(role)
	if !known {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	if expiresMin <= 0 {
		expiresMin = 60
	}
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(expiresMin) * time.Minute)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseJWT verifies an HS256 token and returns its claims. Other algorithms are rejected.
func ParseJWT(secret, raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}
