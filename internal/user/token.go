package user

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// resetTokenLen is the encoded length of a reset token: 32 random
// bytes hex-encoded.
const resetTokenLen = 64

// DefaultResetTTL bounds how long an issued reset token stays valid.
const DefaultResetTTL = time.Hour

// ResetTokenIssuer produces unguessable, time-bounded password-reset
// tokens.
type ResetTokenIssuer struct {
	TTL time.Duration
}

func NewResetTokenIssuer(ttl time.Duration) *ResetTokenIssuer {
	if ttl <= 0 {
		ttl = DefaultResetTTL
	}
	return &ResetTokenIssuer{TTL: ttl}
}

// Issue returns a fresh token and its absolute expiry.
func (i *ResetTokenIssuer) Issue() (string, time.Time, error) {
	b := make([]byte, resetTokenLen/2)
	if _, err := rand.Read(b); err != nil {
		return "", time.Time{}, err
	}
	return hex.EncodeToString(b), time.Now().Add(i.TTL), nil
}

// ValidTokenShape reports whether s even looks like an issued token.
// Rejecting malformed input here avoids a pointless storage lookup.
func ValidTokenShape(s string) bool {
	if len(s) != resetTokenLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
