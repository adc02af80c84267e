package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/kevin07696/escrow-scheduler/internal/domain"
)

// JWTClaims carries the caller account in the standard subject claim.
type JWTClaims struct {
	jwt.RegisteredClaims
}

// JWTManager issues and validates HS256 caller tokens.
type JWTManager struct {
	secret []byte
	issuer string
	expiry time.Duration
}

// NewJWTManager creates a new JWT manager
func NewJWTManager(secret []byte, issuer string, expiry time.Duration) (*JWTManager, error) {
	if len(secret) < 32 {
		return nil, errors.New("jwt secret must be at least 32 bytes")
	}
	return &JWTManager{secret: secret, issuer: issuer, expiry: expiry}, nil
}

// GenerateToken issues a token whose subject is caller.
func (jm *JWTManager) GenerateToken(caller domain.AccountID) (string, error) {
	now := time.Now()
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    jm.issuer,
			Subject:   caller.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(jm.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jm.secret)
}

// ValidateToken verifies the token and returns the caller it names.
func (jm *JWTManager) ValidateToken(tokenString string) (domain.AccountID, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return jm.secret, nil
	}, jwt.WithIssuer(jm.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return "", domain.ErrAuthInvalid.Wrap(err)
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return "", domain.ErrAuthInvalid
	}

	caller := domain.AccountID(claims.Subject)
	if caller.IsZero() {
		return "", domain.ErrAuthInvalid.WithDetail("reason", "missing subject")
	}
	return caller, nil
}
