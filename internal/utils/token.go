package utils // package utils provides helper functions for token creation and hashing

import (
	"crypto/rand"   // secure random number generation
	"crypto/sha256" // SHA-256 hashing for check-in credentials
	"encoding/hex"  // hex encoding of random bytes and digests
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// IdentityClaims are the claims this service reads from identity tokens.
// Tokens are issued by the platform's auth service; IssueIdentityToken
// exists for local tooling and tests.
type IdentityClaims struct {
	UserID      string
	Email       string
	CommunityID string
	Role        string
}

// IssueIdentityToken signs an HS256 JWT carrying the identity claims with
// the given lifetime.
func IssueIdentityToken(secret string, c IdentityClaims, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"sub":          c.UserID,
		"email":        c.Email,
		"community_id": c.CommunityID,
		"role":         c.Role,
		"exp":          now.Add(ttl).Unix(),
		"iat":          now.Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// NewCheckInToken returns a random check-in credential and the hash that
// is stored for it.  Only the hash is persisted; the raw value goes to the
// booking owner once.
func NewCheckInToken() (raw, hash string, err error) {
	raw, err = randomHex(24) // 24 bytes -> 48 hex chars
	if err != nil {
		return "", "", err
	}
	return raw, HashToken(raw), nil
}

// HashToken returns the SHA-256 hash of a raw credential as a hex string.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// randomHex returns a hex-encoded string generated from n bytes of
// cryptographically secure random data.
func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
