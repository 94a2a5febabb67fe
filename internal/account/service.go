package account

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/congo-pay/qrpay_identity/internal/auth"
	"github.com/congo-pay/qrpay_identity/internal/logging"
	"github.com/congo-pay/qrpay_identity/internal/notification"
	"github.com/congo-pay/qrpay_identity/internal/otp"
	"github.com/congo-pay/qrpay_identity/internal/secret"
)

const (
	defaultSessionTTL           = time.Hour
	defaultResetTTL             = 15 * time.Minute
	defaultAccountNumberRetries = 5
	accountNumberDigits         = 10
	maxPasswordBytes            = 72
	minPINDigits                = 4
	maxPINDigits                = 6
)

// Options selects the account variant and token lifetimes.
type Options struct {
	// RequirePIN makes a payment PIN mandatory at registration.
	RequirePIN bool
	// IssueAccountNumbers allocates a unique numeric account number per account.
	IssueAccountNumbers bool
	// RequireVerifiedLogin rejects logins until the OTP has been verified.
	RequireVerifiedLogin bool
	SessionTTL           time.Duration
	ResetTTL             time.Duration
	// ResetURL is the base the reset token is appended to.
	ResetURL             string
	AccountNumberRetries int
}

// Deps are the collaborators a Service composes.
type Deps struct {
	Repo     Repository
	Hasher   secret.Hasher
	OTP      *otp.Issuer
	Tokens   *auth.Tokens
	Consumed auth.ConsumedTokens
	Notifier notification.Notifier
	Logger   *slog.Logger
}

// Service drives the account lifecycle: pending verification after register,
// active after a verified OTP, with password resets on the side.
type Service struct {
	repo      Repository
	hasher    secret.Hasher
	otps      *otp.Issuer
	tokens    *auth.Tokens
	consumed  auth.ConsumedTokens
	notifier  notification.Notifier
	logger    *slog.Logger
	opts      Options
	now       func() time.Time
	dummyHash string
}

// NewService wires a Service. Repo, Hasher, OTP and Tokens are required.
func NewService(deps Deps, opts Options) (*Service, error) {
	if deps.Repo == nil || deps.Hasher == nil || deps.OTP == nil || deps.Tokens == nil {
		return nil, errors.New("account service requires repo, hasher, otp issuer and tokens")
	}
	if deps.Consumed == nil {
		deps.Consumed = auth.NewMemoryConsumedTokens()
	}
	if deps.Notifier == nil {
		deps.Notifier = notification.NewLoggerNotifier(deps.Logger)
	}
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = defaultSessionTTL
	}
	if opts.ResetTTL <= 0 {
		opts.ResetTTL = defaultResetTTL
	}
	if opts.AccountNumberRetries <= 0 {
		opts.AccountNumberRetries = defaultAccountNumberRetries
	}
	opts.ResetURL = strings.TrimRight(opts.ResetURL, "/")

	// Compared against when the email is unknown so both login failures cost
	// one hash verification.
	dummy, err := deps.Hasher.Hash(uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("prepare dummy hash: %w", err)
	}

	return &Service{
		repo:      deps.Repo,
		hasher:    deps.Hasher,
		otps:      deps.OTP,
		tokens:    deps.Tokens,
		consumed:  deps.Consumed,
		notifier:  deps.Notifier,
		logger:    deps.Logger,
		opts:      opts,
		now:       time.Now,
		dummyHash: dummy,
	}, nil
}

// Register creates a pending account carrying a fresh OTP in a single write,
// emails the OTP and returns a session token.
func (s *Service) Register(ctx context.Context, in RegisterInput) (RegisterResult, error) {
	in.Email = strings.TrimSpace(in.Email)
	if in.Email == "" {
		return RegisterResult{}, validationError("email is required")
	}
	if err := validatePassword(in.Password); err != nil {
		return RegisterResult{}, err
	}
	if in.PIN != "" || s.opts.RequirePIN {
		if err := validatePIN(in.PIN); err != nil {
			return RegisterResult{}, err
		}
	}

	passwordHash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return RegisterResult{}, serverError("hash password", err)
	}
	var pinHash string
	if in.PIN != "" {
		if pinHash, err = s.hasher.Hash(in.PIN); err != nil {
			return RegisterResult{}, serverError("hash pin", err)
		}
	}

	code, err := s.otps.Issue()
	if err != nil {
		return RegisterResult{}, serverError("issue otp", err)
	}

	now := s.now().UTC()
	account := Account{
		ID:           uuid.NewString(),
		Email:        in.Email,
		PasswordHash: passwordHash,
		PINHash:      pinHash,
		Profile:      in.Profile,
		IsVerified:   false,
		OTPCode:      code.Value,
		OTPExpiresAt: &code.ExpiresAt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.create(ctx, &account); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return RegisterResult{}, ErrConflict
		}
		return RegisterResult{}, serverError("create account", err)
	}

	delivered := true
	if err := s.notifier.Send(ctx, notification.OTPMessage(account.Email, code.Value, s.otps.TTL)); err != nil {
		delivered = false
		s.logger.WarnContext(ctx, "account.register otp delivery failed",
			slog.String("account_id", account.ID),
			slog.String("email", logging.MaskEmail(account.Email)),
			slog.Any("error", err),
		)
	}

	session, err := s.tokens.Issue(account.ID, s.opts.SessionTTL, auth.PurposeSession)
	if err != nil {
		return RegisterResult{}, serverError("issue session token", err)
	}

	s.logger.InfoContext(ctx, "account.register completed",
		slog.String("account_id", account.ID),
		slog.String("email", logging.MaskEmail(account.Email)),
		slog.Bool("otp_delivered", delivered),
	)
	return RegisterResult{Account: account, Token: session.Token, OTPDelivered: delivered}, nil
}

// create inserts account, drawing a new account number whenever the previous
// one collided.
func (s *Service) create(ctx context.Context, account *Account) error {
	if !s.opts.IssueAccountNumbers {
		return s.repo.Create(ctx, *account)
	}
	for attempt := 0; attempt < s.opts.AccountNumberRetries; attempt++ {
		number, err := newAccountNumber()
		if err != nil {
			return err
		}
		account.AccountNumber = number
		err = s.repo.Create(ctx, *account)
		if !errors.Is(err, ErrAccountNumberTaken) {
			return err
		}
		s.logger.DebugContext(ctx, "account number collision, retrying", slog.Int("attempt", attempt+1))
	}
	return fmt.Errorf("allocate account number: %w", ErrAccountNumberTaken)
}

// ResendOTP issues a new passcode for a pending account, superseding the
// previous one, and emails it.
func (s *Service) ResendOTP(ctx context.Context, email string) error {
	account, err := s.repo.FindByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return s.lookupError("find account", err)
	}
	if account.IsVerified {
		return ErrAlreadyVerified
	}

	code, err := s.otps.Issue()
	if err != nil {
		return serverError("issue otp", err)
	}
	if err := s.repo.SetOTP(ctx, account.ID, code.Value, code.ExpiresAt); err != nil {
		return s.lookupError("store otp", err)
	}
	if err := s.notifier.Send(ctx, notification.OTPMessage(account.Email, code.Value, s.otps.TTL)); err != nil {
		return serverError("send otp", err)
	}

	s.logger.InfoContext(ctx, "account.resend_otp completed", slog.String("account_id", account.ID))
	return nil
}

// VerifyOTP redeems the outstanding passcode. identifier is either the
// account email or its id. On success the account becomes active.
func (s *Service) VerifyOTP(ctx context.Context, identifier, code string) (Session, error) {
	identifier = strings.TrimSpace(identifier)
	var (
		account Account
		err     error
	)
	if _, parseErr := uuid.Parse(identifier); parseErr == nil {
		account, err = s.repo.FindByID(ctx, identifier)
	} else {
		account, err = s.repo.FindByEmail(ctx, identifier)
	}
	if err != nil {
		return Session{}, s.lookupError("find account", err)
	}

	now := s.now().UTC()
	if account.OTPExpiresAt == nil || !otp.Verify(account.OTPCode, *account.OTPExpiresAt, code, now) {
		return Session{}, ErrInvalidCode
	}

	verified, err := s.repo.ConsumeOTP(ctx, account.ID, code, now)
	if err != nil {
		if errors.Is(err, ErrOTPMismatch) {
			return Session{}, ErrInvalidCode
		}
		return Session{}, s.lookupError("consume otp", err)
	}

	session, err := s.session(verified)
	if err != nil {
		return Session{}, err
	}
	s.logger.InfoContext(ctx, "account.verify_otp completed", slog.String("account_id", verified.ID))
	return session, nil
}

// Login authenticates email and password. Unknown email and wrong password
// return the same ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	account, err := s.repo.FindByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if !errors.Is(err, ErrAccountNotFound) {
			return Session{}, serverError("find account", err)
		}
		s.hasher.Verify(password, s.dummyHash)
		return Session{}, ErrInvalidCredentials
	}
	if !s.hasher.Verify(password, account.PasswordHash) {
		return Session{}, ErrInvalidCredentials
	}
	if s.opts.RequireVerifiedLogin && !account.IsVerified {
		return Session{}, ErrNotVerified
	}

	session, err := s.session(account)
	if err != nil {
		return Session{}, err
	}
	s.logger.InfoContext(ctx, "account.login completed", slog.String("account_id", account.ID))
	return session, nil
}

// ForgotPassword emails a reset link carrying a purpose-scoped token. Unknown
// emails return ErrNotFound and send nothing.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	account, err := s.repo.FindByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return s.lookupError("find account", err)
	}

	reset, err := s.tokens.Issue(account.ID, s.opts.ResetTTL, auth.PurposeReset)
	if err != nil {
		return serverError("issue reset token", err)
	}
	link := s.opts.ResetURL + "/" + reset.Token
	if err := s.notifier.Send(ctx, notification.ResetMessage(account.Email, link, s.opts.ResetTTL)); err != nil {
		return serverError("send reset link", err)
	}

	s.logger.InfoContext(ctx, "account.forgot_password completed", slog.String("account_id", account.ID))
	return nil
}

// ResetPassword redeems a reset token once and replaces the password hash.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	claims, err := s.tokens.Verify(token, auth.PurposeReset)
	if err != nil {
		return ErrInvalidOrExpiredToken
	}
	account, err := s.repo.FindByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return ErrInvalidOrExpiredToken
		}
		return serverError("find account", err)
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return serverError("hash password", err)
	}

	first, err := s.consumed.Consume(ctx, claims.ID, s.tokens.Remaining(claims))
	if err != nil {
		return serverError("consume reset token", err)
	}
	if !first {
		return ErrInvalidOrExpiredToken
	}

	if err := s.repo.UpdatePassword(ctx, account.ID, hash); err != nil {
		if relErr := s.consumed.Release(context.WithoutCancel(ctx), claims.ID); relErr != nil {
			s.logger.ErrorContext(ctx, "account.reset_password release token failed",
				slog.String("account_id", account.ID), slog.Any("error", relErr))
		}
		return s.lookupError("update password", err)
	}

	s.logger.InfoContext(ctx, "account.reset_password completed", slog.String("account_id", account.ID))
	return nil
}

// Profile returns the account for id.
func (s *Service) Profile(ctx context.Context, id string) (Account, error) {
	account, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return Account{}, s.lookupError("find account", err)
	}
	return account, nil
}

// UpdateProfile overwrites the non-empty fields of update.
func (s *Service) UpdateProfile(ctx context.Context, id string, update ProfileUpdate) (Account, error) {
	update.FirstName = strings.TrimSpace(update.FirstName)
	update.LastName = strings.TrimSpace(update.LastName)
	update.PhoneNumber = strings.TrimSpace(update.PhoneNumber)

	account, err := s.repo.UpdateProfile(ctx, id, update)
	if err != nil {
		return Account{}, s.lookupError("update profile", err)
	}
	return account, nil
}

// VerifyPIN checks a payment PIN for the account.
func (s *Service) VerifyPIN(ctx context.Context, id, pin string) error {
	account, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return s.lookupError("find account", err)
	}
	if account.PINHash == "" || !s.hasher.Verify(pin, account.PINHash) {
		return ErrInvalidPIN
	}
	return nil
}

// Authenticate resolves a session token to its account id.
func (s *Service) Authenticate(token string) (string, error) {
	claims, err := s.tokens.Verify(token, auth.PurposeSession)
	if err != nil {
		return "", ErrInvalidOrExpiredToken
	}
	return claims.Subject, nil
}

func (s *Service) session(account Account) (Session, error) {
	issued, err := s.tokens.Issue(account.ID, s.opts.SessionTTL, auth.PurposeSession)
	if err != nil {
		return Session{}, serverError("issue session token", err)
	}
	return Session{Account: account, Token: issued.Token, ExpiresAt: issued.ExpiresAt}, nil
}

func (s *Service) lookupError(op string, err error) error {
	if errors.Is(err, ErrAccountNotFound) {
		return ErrNotFound
	}
	return serverError(op, err)
}

func validatePassword(password string) error {
	if password == "" {
		return validationError("password is required")
	}
	if len(password) > maxPasswordBytes {
		return validationError("password must be at most %d bytes", maxPasswordBytes)
	}
	if !utf8.ValidString(password) {
		return validationError("password must be valid UTF-8")
	}
	return nil
}

func validatePIN(pin string) error {
	if len(pin) < minPINDigits || len(pin) > maxPINDigits {
		return validationError("pin must be %d to %d digits", minPINDigits, maxPINDigits)
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return validationError("pin must be numeric")
		}
	}
	return nil
}

// newAccountNumber draws a number with accountNumberDigits digits and no
// leading zero.
func newAccountNumber() (string, error) {
	lower := new(big.Int).Exp(big.NewInt(10), big.NewInt(accountNumberDigits-1), nil)
	span := new(big.Int).Mul(lower, big.NewInt(9))
	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		return "", err
	}
	return n.Add(n, lower).String(), nil
}
