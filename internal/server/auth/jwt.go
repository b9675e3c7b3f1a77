// Package auth issues and verifies the session tokens handed to durable
// identities on register and login.
package auth

import (
	"errors"
	"time"

	"github.com/dmitrijs2005/pairchat/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// Claims holds the standard claims plus the account id of a durable identity.
type Claims struct {
	jwt.RegisteredClaims
	AccountID string `json:"aid"`
}

func GenerateToken(accountID string, secretKey []byte, validityDuration time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validityDuration)),
		},
		AccountID: accountID,
	})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// AccountIDFromToken validates tokenString and returns its account id.
// Expired tokens yield common.ErrTokenExpired; anything else invalid yields
// common.ErrInvalidToken.
func AccountIDFromToken(tokenString string, secretKey []byte) (string, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", common.ErrTokenExpired
		}
		return "", common.ErrInvalidToken
	}

	if !token.Valid || claims.AccountID == "" {
		return "", common.ErrInvalidToken
	}

	return claims.AccountID, nil
}
