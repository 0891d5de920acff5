package provider

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/pushpaanand/teleconsult/internal/models"
)

const kitTokenIssuer = "teleconsult"

// KitClaims are carried by the token handed to the provider kit
type KitClaims struct {
	AppID    uint32 `json:"app_id"`
	RoomID   string `json:"room_id"`
	UserName string `json:"user_name"`
	jwt.RegisteredClaims
}

// MintKitToken signs a short-lived HS256 token for one participant joining one room
func MintKitToken(appID uint32, secret string, appt models.AppointmentContext, ttl time.Duration, now time.Time) (string, error) {
	if ttl <= 0 {
		ttl = time.Hour
	}
	claims := KitClaims{
		AppID:    appID,
		RoomID:   appt.RoomID,
		UserName: appt.LocalDisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    kitTokenIssuer,
			Subject:   appt.LocalParticipantID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign kit token: %w", err)
	}
	return signed, nil
}

// ParseKitToken verifies a kit token against the server secret
func ParseKitToken(token, secret string) (*KitClaims, error) {
	claims := &KitClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(kitTokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid kit token: %w", err)
	}
	return claims, nil
}
