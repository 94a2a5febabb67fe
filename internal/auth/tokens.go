package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Purpose scopes a token to the flow that issued it.
type Purpose string

const (
	PurposeSession Purpose = "session"
	PurposeReset   Purpose = "password_reset"
)

var (
	// ErrTokenExpired is returned for well-formed tokens past their exp claim.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid covers bad signatures, malformed tokens and missing claims.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrWrongPurpose is returned when a valid token was issued for another flow.
	ErrWrongPurpose = errors.New("token purpose mismatch")
)

// Claims is the JWT payload shared by session and reset tokens.
type Claims struct {
	Purpose Purpose `json:"purpose"`
	jwt.RegisteredClaims
}

// Issued describes a freshly signed token.
type Issued struct {
	Token     string
	ID        string
	ExpiresAt time.Time
}

// Tokens signs and verifies HS256 bearer tokens with a process-wide secret.
type Tokens struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewTokens builds a token service. The secret must be non-empty.
func NewTokens(secret []byte, issuer string) (*Tokens, error) {
	if len(secret) == 0 {
		return nil, errors.New("token secret is required")
	}
	return &Tokens{secret: secret, issuer: issuer, now: time.Now}, nil
}

// Issue signs a token for subject valid for ttl.
func (t *Tokens) Issue(subject string, ttl time.Duration, purpose Purpose) (Issued, error) {
	if subject == "" {
		return Issued{}, errors.New("token subject is required")
	}
	if ttl <= 0 {
		return Issued{}, fmt.Errorf("token ttl must be positive, got %s", ttl)
	}

	now := t.now()
	exp := now.Add(ttl)
	id := uuid.NewString()
	claims := Claims{
		Purpose: purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Subject:   subject,
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return Issued{}, err
	}
	return Issued{Token: signed, ID: id, ExpiresAt: exp}, nil
}

// Verify checks signature, issuer, expiry and purpose, returning the claims
// of a token that passes all of them.
func (t *Tokens) Verify(token string, expected Purpose) (Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	}
	if t.issuer != "" {
		options = append(options, jwt.WithIssuer(t.issuer))
	}

	var claims Claims
	parsed, err := jwt.NewParser(options...).ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return t.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrTokenExpired
		}
		return Claims{}, ErrTokenInvalid
	}
	if !parsed.Valid || claims.Subject == "" || claims.ID == "" {
		return Claims{}, ErrTokenInvalid
	}
	if claims.Purpose != expected {
		return Claims{}, ErrWrongPurpose
	}
	return claims, nil
}

// Remaining returns how long the claims stay valid relative to the service clock.
func (t *Tokens) Remaining(claims Claims) time.Duration {
	if claims.ExpiresAt == nil {
		return 0
	}
	return claims.ExpiresAt.Time.Sub(t.now())
}

// WithClock replaces the time source used for issuing and verifying.
func (t *Tokens) WithClock(now func() time.Time) *Tokens {
	t.now = now
	return t
}
