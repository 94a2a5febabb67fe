// Package otp issues and checks the six-digit passcodes emailed during
// registration.
package otp

import (
	"crypto/rand"
	"crypto/subtle"
	"math/big"
	"strconv"
	"time"
)

const (
	// DefaultTTL is how long an issued code stays valid.
	DefaultTTL = 10 * time.Minute

	minCode = 100000
	maxCode = 999999
)

// Code is an issued passcode and its absolute expiry.
type Code struct {
	Value     string
	ExpiresAt time.Time
}

// Issuer generates codes from crypto/rand. Now is injectable for tests.
type Issuer struct {
	TTL time.Duration
	Now func() time.Time
}

// NewIssuer returns an issuer with the given ttl, or DefaultTTL when ttl <= 0.
func NewIssuer(ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{TTL: ttl, Now: time.Now}
}

// Issue draws a code uniformly from 100000-999999 inclusive.
func (i *Issuer) Issue() (Code, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(maxCode-minCode+1))
	if err != nil {
		return Code{}, err
	}
	return Code{
		Value:     strconv.FormatInt(n.Int64()+minCode, 10),
		ExpiresAt: i.Now().UTC().Add(i.TTL),
	}, nil
}

// Verify reports whether supplied matches stored and the code has not
// expired at now. An empty stored code never verifies.
func Verify(stored string, expiresAt time.Time, supplied string, now time.Time) bool {
	if stored == "" || expiresAt.IsZero() {
		return false
	}
	if now.After(expiresAt) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(supplied)) == 1
}
