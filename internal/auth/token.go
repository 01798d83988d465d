package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

// Refresh tokens are opaque to clients: 16 random bytes of session ID
// followed by 32 random bytes of secret, base64url without padding. Only
// the SHA-256 of the secret is stored server-side.
const (
	sessionIDSize     = 16
	refreshSecretSize = 32
	refreshTokenSize  = sessionIDSize + refreshSecretSize
)

func newSessionID() (string, error) {
	var raw [sessionIDSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

func parseSessionID(id string) ([sessionIDSize]byte, error) {
	var sid [sessionIDSize]byte
	raw, err := base64.RawURLEncoding.DecodeString(id)
	if err != nil {
		return sid, err
	}
	if len(raw) != sessionIDSize {
		return sid, errors.New("invalid session id size")
	}
	copy(sid[:], raw)
	return sid, nil
}

func newRefreshSecret() ([refreshSecretSize]byte, error) {
	var secret [refreshSecretSize]byte
	_, err := rand.Read(secret[:])
	return secret, err
}

func hashRefreshSecret(secret [refreshSecretSize]byte) [32]byte {
	return sha256.Sum256(secret[:])
}

func encodeRefreshToken(sessionID string, secret [refreshSecretSize]byte) (string, error) {
	sid, err := parseSessionID(sessionID)
	if err != nil {
		return "", err
	}

	var raw [refreshTokenSize]byte
	copy(raw[:sessionIDSize], sid[:])
	copy(raw[sessionIDSize:], secret[:])
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

func decodeRefreshToken(token string) (string, [refreshSecretSize]byte, error) {
	var secret [refreshSecretSize]byte

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", secret, err
	}
	if len(raw) != refreshTokenSize {
		return "", secret, errors.New("invalid refresh token size")
	}

	sessionID := base64.RawURLEncoding.EncodeToString(raw[:sessionIDSize])
	copy(secret[:], raw[sessionIDSize:])
	return sessionID, secret, nil
}
