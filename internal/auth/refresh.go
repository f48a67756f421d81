package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

var ErrInvalidRefresh = errors.New("invalid refresh token")

// GenerateRefreshToken returns a random token and the hash that gets stored.
func GenerateRefreshToken() (raw string, hashed string, err error) {
	buf := make([]byte, 32)
	if _, err = rand.Read(buf); err != nil {
		return "", "", err
	}
	raw = base64.RawURLEncoding.EncodeToString(buf)
	return raw, HashRefreshToken(raw), nil
}

func HashRefreshToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// RefreshRedisKey is the key holding the owner of a refresh token.
func RefreshRedisKey(hash string) string {
	return "refresh:" + hash
}
