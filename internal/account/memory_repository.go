package account

import (
	"context"
	"sync"
	"time"

	"github.com/congo-pay/qrpay_identity/internal/otp"
)

type memoryRepository struct {
	mu       sync.RWMutex
	accounts map[string]Account
	byEmail  map[string]string
	byNumber map[string]string
}

// NewMemoryRepository builds an in-memory account store for tests and local
// development. Uniqueness checks and inserts happen under one lock.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		accounts: make(map[string]Account),
		byEmail:  make(map[string]string),
		byNumber: make(map[string]string),
	}
}

func (r *memoryRepository) Create(_ context.Context, account Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byEmail[account.Email]; exists {
		return ErrEmailTaken
	}
	if account.AccountNumber != "" {
		if _, exists := r.byNumber[account.AccountNumber]; exists {
			return ErrAccountNumberTaken
		}
		r.byNumber[account.AccountNumber] = account.ID
	}
	r.accounts[account.ID] = clone(account)
	r.byEmail[account.Email] = account.ID
	return nil
}

func (r *memoryRepository) FindByID(_ context.Context, id string) (Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	account, ok := r.accounts[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return clone(account), nil
}

func (r *memoryRepository) FindByEmail(_ context.Context, email string) (Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEmail[email]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return clone(r.accounts[id]), nil
}

func (r *memoryRepository) SetOTP(_ context.Context, id, code string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	exp := expiresAt.UTC()
	account.OTPCode = code
	account.OTPExpiresAt = &exp
	account.UpdatedAt = time.Now().UTC()
	r.accounts[id] = account
	return nil
}

func (r *memoryRepository) ConsumeOTP(_ context.Context, id, code string, now time.Time) (Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	if account.OTPExpiresAt == nil || !otp.Verify(account.OTPCode, *account.OTPExpiresAt, code, now) {
		return Account{}, ErrOTPMismatch
	}
	account.OTPCode = ""
	account.OTPExpiresAt = nil
	account.IsVerified = true
	account.UpdatedAt = now.UTC()
	r.accounts[id] = account
	return clone(account), nil
}

func (r *memoryRepository) UpdatePassword(_ context.Context, id, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	account.PasswordHash = passwordHash
	account.UpdatedAt = time.Now().UTC()
	r.accounts[id] = account
	return nil
}

func (r *memoryRepository) UpdateProfile(_ context.Context, id string, update ProfileUpdate) (Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	account.Profile = update.apply(account.Profile)
	account.UpdatedAt = time.Now().UTC()
	r.accounts[id] = account
	return clone(account), nil
}

// clone copies pointer fields so callers cannot mutate stored state.
func clone(a Account) Account {
	if a.OTPExpiresAt != nil {
		exp := *a.OTPExpiresAt
		a.OTPExpiresAt = &exp
	}
	if a.Profile.DateOfBirth != nil {
		dob := *a.Profile.DateOfBirth
		a.Profile.DateOfBirth = &dob
	}
	return a
}
