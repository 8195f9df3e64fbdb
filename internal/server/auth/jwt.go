// Package auth issues and validates the server's JWTs: session tokens for
// the vault HTTP API and sync tokens carried on WebSocket upgrades.
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dmitrijs2005/journalsync/internal/common"
)

// SessionClaims authenticate a user on the HTTP API.
type SessionClaims struct {
	jwt.RegisteredClaims
	UserID string
}

// SyncClaims authenticate one identity on the sync/rpc WebSocket channels.
// They bind the token to a namespace and a public key; the upgrade
// handler rejects a socket whose headers disagree with its token.
type SyncClaims struct {
	jwt.RegisteredClaims
	Namespace string
	PublicKey string
}

// GenerateSessionToken signs a session token for the given user.
func GenerateSessionToken(userID string, secretKey []byte, validityDuration time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validityDuration)),
		},
		UserID: userID,
	})
	return token.SignedString(secretKey)
}

// GetUserIDFromToken validates a session token and returns its user id.
func GetUserIDFromToken(tokenString string, secretKey []byte) (string, error) {
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", common.ErrInvalidToken
	}
	return claims.UserID, nil
}

// GenerateSyncToken signs a sync token for one identity.
func GenerateSyncToken(namespace, publicKey string, secretKey []byte, validityDuration time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, SyncClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validityDuration)),
		},
		Namespace: namespace,
		PublicKey: publicKey,
	})
	return token.SignedString(secretKey)
}

// ParseSyncToken validates a sync token and returns its identity claims.
func ParseSyncToken(tokenString string, secretKey []byte) (*SyncClaims, error) {
	claims := &SyncClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, common.ErrInvalidToken
	}
	return claims, nil
}
