package account

import "time"

// Account is a registered QR-pay user. Hashes and OTP state never leave the
// service layer; handlers render a separate response type.
type Account struct {
	ID            string
	Email         string
	PasswordHash  string
	PINHash       string
	Profile       Profile
	AccountNumber string
	IsVerified    bool
	OTPCode       string
	OTPExpiresAt  *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Profile holds the optional attributes an owner may edit.
type Profile struct {
	FirstName   string
	LastName    string
	PhoneNumber string
	DateOfBirth *time.Time
}

// ProfileUpdate carries a partial profile; empty strings and a nil date leave
// the stored value untouched.
type ProfileUpdate struct {
	FirstName   string
	LastName    string
	PhoneNumber string
	DateOfBirth *time.Time
}

// apply merges the non-empty fields of u into p.
func (u ProfileUpdate) apply(p Profile) Profile {
	if u.FirstName != "" {
		p.FirstName = u.FirstName
	}
	if u.LastName != "" {
		p.LastName = u.LastName
	}
	if u.PhoneNumber != "" {
		p.PhoneNumber = u.PhoneNumber
	}
	if u.DateOfBirth != nil {
		dob := *u.DateOfBirth
		p.DateOfBirth = &dob
	}
	return p
}

// State is the lifecycle position derived from the stored flags.
type State string

const (
	StatePendingVerification State = "pending_verification"
	StateActive              State = "active"
)

// State reports where the account sits in the registration lifecycle.
func (a Account) State() State {
	if a.IsVerified {
		return StateActive
	}
	return StatePendingVerification
}

// RegisterInput is the validated registration request.
type RegisterInput struct {
	Email    string
	Password string
	PIN      string
	Profile  Profile
}

// RegisterResult is returned by a successful registration. OTPDelivered is
// false when the account was created but the passcode email failed; the
// client should call ResendOTP.
type RegisterResult struct {
	Account      Account
	Token        string
	OTPDelivered bool
}

// Session pairs an account with a freshly issued session token.
type Session struct {
	Account   Account
	Token     string
	ExpiresAt time.Time
}
