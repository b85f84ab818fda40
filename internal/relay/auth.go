package relay

import (
	"fmt"

	"github.com/golang-jwt/jwt"
)

const roomClaim = "room"

// TokenVerifier validates signed join tokens minted by the backend. A nil
// verifier disables join authorization entirely, matching the open default.
type TokenVerifier struct {
	key []byte
}

func NewTokenVerifier(key []byte) *TokenVerifier {
	if len(key) == 0 {
		return nil
	}

	return &TokenVerifier{key: key}
}

// Authorize checks that tokenString is a valid, unexpired token scoped to
// room.
func (v *TokenVerifier) Authorize(room, tokenString string) error {
	if tokenString == "" {
		return fmt.Errorf("missing join token")
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.key, nil
	})
	if err != nil {
		return fmt.Errorf("parse token: %w", err)
	}

	if !token.Valid {
		return fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return fmt.Errorf("invalid token claims")
	}

	tokenRoom, ok := claims[roomClaim].(string)
	if !ok || tokenRoom != room {
		return fmt.Errorf("token not valid for room %q", room)
	}

	return nil
}
