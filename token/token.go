// Package token mints the short-lived join tokens the relay verifies when
// join authorization is enabled. Backends sign a token for the room a
// viewer is entitled to (their order's room, or the admin room) and hand it
// to the browser alongside the page.
package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/sparkcart/order-relay/protocol"
)

const roomClaim = "room"

// Sign creates an HS256 token permitting a join to room for ttl.
func Sign(room string, key []byte, ttl time.Duration) (string, error) {
	if room == "" {
		return "", fmt.Errorf("room cannot be empty")
	}
	if len(key) == 0 {
		return "", fmt.Errorf("signing key cannot be empty")
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		roomClaim: room,
		"exp":     time.Now().Add(ttl).Unix(),
	})

	return t.SignedString(key)
}

// ForOrder signs a token for an order's room.
func ForOrder(orderId string, key []byte, ttl time.Duration) (string, error) {
	return Sign(orderId, key, ttl)
}

// ForAdmin signs a token for the admin room.
func ForAdmin(key []byte, ttl time.Duration) (string, error) {
	return Sign(protocol.AdminRoom, key, ttl)
}
