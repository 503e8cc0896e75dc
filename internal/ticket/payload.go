// Package ticket issues and validates the scannable entry tickets for
// confirmed bookings.  The payload travels encrypted at rest and is
// rendered to a QR image for the gate scanners.
package ticket

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/skip2/go-qrcode"
	"golang.org/x/crypto/nacl/secretbox"
)

// Payload is the minimal data embedded in a scannable ticket.  Dates
// are formatted YYYY-MM-DD.
type Payload struct {
	Code   string `json:"code"`
	Name   string `json:"name"`
	Order  string `json:"order"`
	Visit  string `json:"visit"`
	Booked string `json:"booked"`
}

// ParseKey decodes a 64-character hex string into the 32-byte
// secretbox key used to encrypt payloads.
func ParseKey(hexKey string) (*[32]byte, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decode ticket key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("ticket key must be 32 bytes, got %d", len(raw))
	}
	var key [32]byte
	copy(key[:], raw)
	return &key, nil
}

// EncryptPayload seals the payload with a random nonce.  The nonce is
// prepended to the ciphertext so DecryptPayload needs only the key.
func EncryptPayload(p Payload, key *[32]byte) ([]byte, error) {
	plain, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal ticket payload: %w", err)
	}
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plain, &nonce, key), nil
}

// DecryptPayload opens a sealed payload produced by EncryptPayload.
func DecryptPayload(sealed []byte, key *[32]byte) (*Payload, error) {
	if len(sealed) < 24 {
		return nil, fmt.Errorf("sealed payload too short")
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	plain, ok := secretbox.Open(nil, sealed[24:], &nonce, key)
	if !ok {
		return nil, fmt.Errorf("payload decryption failed")
	}
	var p Payload
	if err := json.Unmarshal(plain, &p); err != nil {
		return nil, fmt.Errorf("unmarshal ticket payload: %w", err)
	}
	return &p, nil
}

// RenderQR renders the sealed payload as a PNG QR code.  The bytes are
// base64-encoded first because QR alphanumeric mode cannot carry raw
// binary reliably across scanner implementations.
func RenderQR(sealed []byte) ([]byte, error) {
	encoded := base64.StdEncoding.EncodeToString(sealed)
	png, err := qrcode.Encode(encoded, qrcode.Medium, 512)
	if err != nil {
		return nil, fmt.Errorf("render qr: %w", err)
	}
	return png, nil
}
