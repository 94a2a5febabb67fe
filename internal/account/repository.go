package account

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists accounts. Implementations enforce email and account
// number uniqueness themselves; callers never check-then-insert.
type Repository interface {
	// Create inserts a complete account, OTP fields included. Returns
	// ErrEmailTaken or ErrAccountNumberTaken on uniqueness violations.
	Create(ctx context.Context, account Account) error
	FindByID(ctx context.Context, id string) (Account, error)
	FindByEmail(ctx context.Context, email string) (Account, error)
	// SetOTP replaces any outstanding passcode.
	SetOTP(ctx context.Context, id, code string, expiresAt time.Time) error
	// ConsumeOTP clears the passcode and marks the account verified only if
	// code is still the outstanding one and has not expired at now.
	ConsumeOTP(ctx context.Context, id, code string, now time.Time) (Account, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	UpdateProfile(ctx context.Context, id string, update ProfileUpdate) (Account, error)
}

const (
	uniqueViolation         = "23505"
	accountNumberConstraint = "accounts_account_number_key"
	accountColumns          = `id, email, password_hash, pin_hash, first_name, last_name, phone_number, date_of_birth,
        account_number, is_verified, otp_code, otp_expires_at, created_at, updated_at`
)

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed account repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a new account.
func (r *PostgresRepository) Create(ctx context.Context, a Account) error {
	id, err := uuid.Parse(a.ID)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO accounts (id, email, password_hash, pin_hash, first_name, last_name,
        phone_number, date_of_birth, account_number, is_verified, otp_code, otp_expires_at, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		id, a.Email, a.PasswordHash, nullable(a.PINHash), a.Profile.FirstName, a.Profile.LastName,
		a.Profile.PhoneNumber, a.Profile.DateOfBirth, nullable(a.AccountNumber), a.IsVerified,
		nullable(a.OTPCode), a.OTPExpiresAt, a.CreatedAt.UTC(), a.UpdatedAt.UTC())
	return translateWriteError(err)
}

// FindByID fetches an account by identifier.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (Account, error) {
	accountID, err := uuid.Parse(id)
	if err != nil {
		return Account{}, ErrAccountNotFound
	}
	return scanAccount(r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, accountID))
}

// FindByEmail fetches an account by its exact email.
func (r *PostgresRepository) FindByEmail(ctx context.Context, email string) (Account, error) {
	return scanAccount(r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email))
}

// SetOTP stores a new passcode, superseding any previous one.
func (r *PostgresRepository) SetOTP(ctx context.Context, id, code string, expiresAt time.Time) error {
	accountID, err := uuid.Parse(id)
	if err != nil {
		return ErrAccountNotFound
	}
	cmd, err := r.db.Exec(ctx, `UPDATE accounts SET otp_code = $2, otp_expires_at = $3, updated_at = NOW()
        WHERE id = $1`, accountID, code, expiresAt.UTC())
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// ConsumeOTP verifies and clears the passcode in one conditional update so
// concurrent redemptions of the same code cannot both succeed.
func (r *PostgresRepository) ConsumeOTP(ctx context.Context, id, code string, now time.Time) (Account, error) {
	accountID, err := uuid.Parse(id)
	if err != nil {
		return Account{}, ErrAccountNotFound
	}
	account, err := scanAccount(r.db.QueryRow(ctx, `UPDATE accounts
        SET otp_code = NULL, otp_expires_at = NULL, is_verified = TRUE, updated_at = $4
        WHERE id = $1 AND otp_code = $2 AND otp_expires_at >= $3
        RETURNING `+accountColumns, accountID, code, now.UTC(), now.UTC()))
	if errors.Is(err, ErrAccountNotFound) {
		if _, findErr := r.FindByID(ctx, id); findErr != nil {
			return Account{}, findErr
		}
		return Account{}, ErrOTPMismatch
	}
	return account, err
}

// UpdatePassword replaces the stored password hash.
func (r *PostgresRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	accountID, err := uuid.Parse(id)
	if err != nil {
		return ErrAccountNotFound
	}
	cmd, err := r.db.Exec(ctx, `UPDATE accounts SET password_hash = $2, updated_at = NOW() WHERE id = $1`,
		accountID, passwordHash)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// UpdateProfile overwrites only the non-empty fields of update.
func (r *PostgresRepository) UpdateProfile(ctx context.Context, id string, update ProfileUpdate) (Account, error) {
	accountID, err := uuid.Parse(id)
	if err != nil {
		return Account{}, ErrAccountNotFound
	}
	return scanAccount(r.db.QueryRow(ctx, `UPDATE accounts SET
        first_name    = COALESCE(NULLIF($2::text, ''), first_name),
        last_name     = COALESCE(NULLIF($3::text, ''), last_name),
        phone_number  = COALESCE(NULLIF($4::text, ''), phone_number),
        date_of_birth = COALESCE($5::date, date_of_birth),
        updated_at    = NOW()
        WHERE id = $1
        RETURNING `+accountColumns,
		accountID, update.FirstName, update.LastName, update.PhoneNumber, update.DateOfBirth))
}

func scanAccount(row pgx.Row) (Account, error) {
	var (
		a             Account
		id            uuid.UUID
		pinHash       *string
		accountNumber *string
		otpCode       *string
	)
	err := row.Scan(&id, &a.Email, &a.PasswordHash, &pinHash, &a.Profile.FirstName, &a.Profile.LastName,
		&a.Profile.PhoneNumber, &a.Profile.DateOfBirth, &accountNumber, &a.IsVerified, &otpCode,
		&a.OTPExpiresAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	a.ID = id.String()
	a.PINHash = deref(pinHash)
	a.AccountNumber = deref(accountNumber)
	a.OTPCode = deref(otpCode)
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return a, nil
}

func translateWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		if pgErr.ConstraintName == accountNumberConstraint {
			return ErrAccountNumberTaken
		}
		return ErrEmailTaken
	}
	return err
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
