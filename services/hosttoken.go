package services

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Host tokens authorize room control (start, cancel). They are minted when
// the room is created and scoped to that single room; participants never
// carry one.

const hostTokenTTL = 6 * time.Hour

var ErrInvalidHostToken = errors.New("invalid host token")

type hostClaims struct {
	RoomID uint   `json:"room_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

func IssueHostToken(secret string, roomID uint, now time.Time) (string, error) {
	claims := hostClaims{
		RoomID: roomID,
		Role:   "host",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(hostTokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseHostToken returns the room id the token controls.
func ParseHostToken(secret, tokenString string) (uint, error) {
	var claims hostClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidHostToken
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid || claims.Role != "host" {
		return 0, ErrInvalidHostToken
	}
	return claims.RoomID, nil
}
