package models

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// WalletPass is the Apple Wallet pass record for one card. The serial number
// and authentication token are minted once and reused for every regeneration;
// devices hold both for the lifetime of the pass.
type WalletPass struct {
	SerialNumber string    `json:"serial_number"`
	CardID       string    `json:"card_id"`
	UserID       int       `json:"user_id"`
	AuthToken    string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Registration ties a device to a pass serial number for update pushes.
type Registration struct {
	ID              int       `json:"id"`
	DeviceLibraryID string    `json:"device_library_id"`
	PassTypeID      string    `json:"pass_type_id"`
	SerialNumber    string    `json:"serial_number"`
	PushToken       string    `json:"push_token"`
	CreatedAt       time.Time `json:"created_at"`
	LastSeenAt      time.Time `json:"last_seen_at"`
}

// GenerateToken creates a random pass authentication token
func GenerateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
