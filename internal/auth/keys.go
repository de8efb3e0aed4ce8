package auth

import (
	"crypto/hmac"
	"crypto/sha256"
)

// Key purposes for DeriveKey.
const (
	KeySessionToken    = "session-token"
	keyChallengeToken  = "challenge-token"
	keyChallengeDigest = "challenge-digest"
)

// DeriveKey returns HMAC-SHA256(secret, purpose). Each use of the shared
// secret signs with its own key, so a value produced for one purpose never
// verifies under another.
func DeriveKey(secret []byte, purpose string) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(purpose))
	return mac.Sum(nil)
}
