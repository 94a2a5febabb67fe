// Package secret hashes and verifies passwords and payment PINs.
package secret

import (
	"errors"
	"strings"
)

// ErrEmptySecret is returned when asked to hash an empty string.
var ErrEmptySecret = errors.New("secret must not be empty")

// Hasher produces salted one-way hashes and checks candidates against them.
// Implementations never retain the plaintext.
type Hasher interface {
	Hash(secret string) (string, error)
	Verify(secret, hashed string) bool
}

// Multi hashes with Primary and verifies against whichever algorithm produced
// the stored hash, so changing HASH_ALGORITHM does not strand older accounts.
type Multi struct {
	Primary Hasher
	bcrypt  *Bcrypt
	argon   *Argon2
}

// New returns a Multi hasher whose primary algorithm is "bcrypt" or
// "argon2id". cost is the bcrypt work factor and is ignored for argon2id.
func New(algorithm string, cost int) (*Multi, error) {
	b, err := NewBcrypt(cost)
	if err != nil {
		return nil, err
	}
	a := NewArgon2(DefaultArgon2Params)

	m := &Multi{bcrypt: b, argon: a}
	switch algorithm {
	case "", "bcrypt":
		m.Primary = b
	case algorithmArgon2ID:
		m.Primary = a
	default:
		return nil, errors.New("unsupported hash algorithm " + algorithm)
	}
	return m, nil
}

// Hash delegates to the primary algorithm.
func (m *Multi) Hash(secret string) (string, error) {
	return m.Primary.Hash(secret)
}

// Verify picks the algorithm from the stored hash prefix.
func (m *Multi) Verify(secret, hashed string) bool {
	if strings.HasPrefix(hashed, "$"+algorithmArgon2ID+"$") {
		return m.argon.Verify(secret, hashed)
	}
	return m.bcrypt.Verify(secret, hashed)
}
