// Package jwttoken validates the access tokens issued by the auth service.
// Token issuance lives outside this service; we only verify.
package jwttoken

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"cirvia/pkg/platform/middleware"
)

// Claims represents the JWT claims carried by our access tokens.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// Validator verifies HS256 access tokens.
type Validator struct {
	signingKey []byte
}

func NewValidator(signingKey string) *Validator {
	return &Validator{signingKey: []byte(signingKey)}
}

// ValidateToken parses and verifies a token string, returning the claims the
// middleware cares about.
func (v *Validator) ValidateToken(tokenString string) (*middleware.JWTClaims, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.signingKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("token is not valid")
	}
	if claims.UserID == "" {
		return nil, errors.New("token is missing user_id claim")
	}
	return &middleware.JWTClaims{UserID: claims.UserID}, nil
}
