package account

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/congo-pay/qrpay_identity/internal/auth"
	"github.com/congo-pay/qrpay_identity/internal/logging"
	"github.com/congo-pay/qrpay_identity/internal/notification"
	"github.com/congo-pay/qrpay_identity/internal/otp"
	"github.com/congo-pay/qrpay_identity/internal/secret"
)

const testResetURL = "https://app.example.com/reset-password"

type recordingNotifier struct {
	mu       sync.Mutex
	messages []notification.Message
	err      error
}

func (n *recordingNotifier) Send(_ context.Context, m notification.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.messages = append(n.messages, m)
	return nil
}

func (n *recordingNotifier) fail(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.err = err
}

func (n *recordingNotifier) sent() []notification.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notification.Message(nil), n.messages...)
}

func (n *recordingNotifier) last(t *testing.T, kind string) notification.Message {
	t.Helper()
	msgs := n.sent()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Kind == kind {
			return msgs[i]
		}
	}
	t.Fatalf("no %s notification sent", kind)
	return notification.Message{}
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc      *Service
	repo     Repository
	notifier *recordingNotifier
	clock    *clock
}

func newFixture(t *testing.T, opts Options) fixture {
	t.Helper()
	return newFixtureWithRepo(t, NewMemoryRepository(), opts)
}

func newFixtureWithRepo(t *testing.T, repo Repository, opts Options) fixture {
	t.Helper()
	clk := &clock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}

	hasher, err := secret.NewBcrypt(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	tokens, err := auth.NewTokens([]byte("test-secret-test-secret-test-secret"), "qrpay-test")
	if err != nil {
		t.Fatalf("tokens: %v", err)
	}
	tokens.WithClock(clk.Now)
	issuer := otp.NewIssuer(0)
	issuer.Now = clk.Now

	if opts.ResetURL == "" {
		opts.ResetURL = testResetURL
	}
	notifier := &recordingNotifier{}
	svc, err := NewService(Deps{
		Repo:     repo,
		Hasher:   hasher,
		OTP:      issuer,
		Tokens:   tokens,
		Consumed: auth.NewMemoryConsumedTokens(),
		Notifier: notifier,
		Logger:   logging.Discard(),
	}, opts)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	svc.now = clk.Now
	return fixture{svc: svc, repo: repo, notifier: notifier, clock: clk}
}

var otpPattern = regexp.MustCompile(`\b\d{6}\b`)

func otpFrom(t *testing.T, m notification.Message) string {
	t.Helper()
	code := otpPattern.FindString(m.Body)
	if code == "" {
		t.Fatalf("no otp in %q", m.Body)
	}
	return code
}

func resetTokenFrom(t *testing.T, m notification.Message) string {
	t.Helper()
	idx := strings.Index(m.Body, testResetURL+"/")
	if idx < 0 {
		t.Fatalf("no reset link in %q", m.Body)
	}
	rest := m.Body[idx+len(testResetURL)+1:]
	return strings.Fields(rest)[0]
}

func TestRegisterVerifyLogin(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	res, err := f.svc.Register(ctx, RegisterInput{Email: "a@x.com", Password: "P@ss1"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if res.Token == "" || !res.OTPDelivered {
		t.Fatalf("expected token and delivered otp, got %+v", res)
	}

	stored, err := f.repo.FindByEmail(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if stored.PasswordHash == "" || stored.PasswordHash == "P@ss1" {
		t.Fatalf("password not hashed: %q", stored.PasswordHash)
	}
	if stored.IsVerified || stored.State() != StatePendingVerification {
		t.Fatalf("new account should be pending")
	}
	if stored.OTPCode == "" || stored.OTPExpiresAt == nil {
		t.Fatalf("otp must be stored with the account")
	}
	if !stored.OTPExpiresAt.Equal(f.clock.Now().Add(otp.DefaultTTL)) {
		t.Fatalf("otp expiry = %s", stored.OTPExpiresAt)
	}

	msg := f.notifier.last(t, notification.KindOTP)
	if msg.Destination != "a@x.com" {
		t.Fatalf("otp sent to %q", msg.Destination)
	}
	code := otpFrom(t, msg)
	if code != stored.OTPCode {
		t.Fatalf("emailed code %s differs from stored %s", code, stored.OTPCode)
	}

	session, err := f.svc.VerifyOTP(ctx, "a@x.com", code)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !session.Account.IsVerified || session.Account.OTPCode != "" || session.Account.OTPExpiresAt != nil {
		t.Fatalf("verify should clear otp and mark verified: %+v", session.Account)
	}

	login, err := f.svc.Login(ctx, "a@x.com", "P@ss1")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if login.Token == "" {
		t.Fatal("expected session token")
	}
	id, err := f.svc.Authenticate(login.Token)
	if err != nil || id != res.Account.ID {
		t.Fatalf("authenticate = %q, %v", id, err)
	}
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	if _, err := f.svc.Register(ctx, RegisterInput{Email: "a@x.com", Password: "secret"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	_, err := f.svc.Register(ctx, RegisterInput{Email: "  a@x.com ", Password: "other"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if got := len(f.notifier.sent()); got != 1 {
		t.Fatalf("duplicate registration must not notify, sent %d", got)
	}
}

func TestRegisterValidatesInput(t *testing.T) {
	f := newFixture(t, Options{RequirePIN: true})
	ctx := context.Background()

	cases := []RegisterInput{
		{Email: "", Password: "secret", PIN: "1234"},
		{Email: "a@x.com", Password: "", PIN: "1234"},
		{Email: "a@x.com", Password: strings.Repeat("p", 73), PIN: "1234"},
		{Email: "a@x.com", Password: "secret"},
		{Email: "a@x.com", Password: "secret", PIN: "12a4"},
		{Email: "a@x.com", Password: "secret", PIN: "123"},
	}
	for i, in := range cases {
		if _, err := f.svc.Register(ctx, in); !errors.Is(err, ErrValidation) {
			t.Fatalf("case %d: expected ErrValidation, got %v", i, err)
		}
	}
	if _, err := f.repo.FindByEmail(ctx, "a@x.com"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("invalid input must not create an account, got %v", err)
	}
}

func TestVerifyOTPIsSingleUse(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	res, err := f.svc.Register(ctx, RegisterInput{Email: "a@x.com", Password: "secret"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	code := otpFrom(t, f.notifier.last(t, notification.KindOTP))

	if _, err := f.svc.VerifyOTP(ctx, res.Account.ID, code); err != nil {
		t.Fatalf("verify by id: %v", err)
	}
	if _, err := f.svc.VerifyOTP(ctx, "a@x.com", code); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("replayed otp: expected ErrInvalidCode, got %v", err)
	}
}

func TestVerifyOTPFailures(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	if _, err := f.svc.Register(ctx, RegisterInput{Email: "a@x.com", Password: "secret"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	code := otpFrom(t, f.notifier.last(t, notification.KindOTP))

	if _, err := f.svc.VerifyOTP(ctx, "missing@x.com", code); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown email: expected ErrNotFound, got %v", err)
	}
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	if _, err := f.svc.VerifyOTP(ctx, "a@x.com", wrong); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("wrong code: expected ErrInvalidCode, got %v", err)
	}

	f.clock.Advance(otp.DefaultTTL + time.Second)
	if _, err := f.svc.VerifyOTP(ctx, "a@x.com", code); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expired code: expected ErrInvalidCode, got %v", err)
	}
	stored, _ := f.repo.FindByEmail(ctx, "a@x.com")
	if stored.IsVerified {
		t.Fatal("failed verification must not activate the account")
	}
}

func TestVerifyOTPConcurrentRedemptionSucceedsOnce(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	if _, err := f.svc.Register(ctx, RegisterInput{Email: "a@x.com", Password: "secret"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	code := otpFrom(t, f.notifier.last(t, notification.KindOTP))

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.VerifyOTP(ctx, "a@x.com", code); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			} else if !errors.Is(err, ErrInvalidCode) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if successes != 1 {
		t.Fatalf("expected exactly one successful redemption, got %d", successes)
	}
}

func TestRegisterConcurrentSameEmailCreatesOne(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	const workers = 6
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		created   int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Register(ctx, RegisterInput{Email: "race@x.com", Password: "secret"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if created != 1 || conflicts != workers-1 {
		t.Fatalf("created=%d conflicts=%d", created, conflicts)
	}
}

func TestLoginErrorsDoNotRevealAccountExistence(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	if _, err := f.svc.Register(ctx, RegisterInput{Email: "a@x.com", Password: "secret"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	_, wrongPassword := f.svc.Login(ctx, "a@x.com", "nope")
	_, unknownEmail := f.svc.Login(ctx, "ghost@x.com", "secret")
	if !errors.Is(wrongPassword, ErrInvalidCredentials) || !errors.Is(unknownEmail, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v and %v", wrongPassword, unknownEmail)
	}
	if wrongPassword.Error() != unknownEmail.Error() {
		t.Fatalf("messages differ: %q vs %q", wrongPassword, unknownEmail)
	}
}

func TestLoginVerificationGate(t *testing.T) {
	ctx := context.Background()

	open := newFixture(t, Options{})
	if _, err := open.svc.Register(ctx, RegisterInput{Email: "a@x.com", Password: "secret"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := open.svc.Login(ctx, "a@x.com", "secret"); err != nil {
		t.Fatalf("ungated login should succeed before verification: %v", err)
	}

	gated := newFixture(t, Options{RequireVerifiedLogin: true})
	if _, err := gated.svc.Register(ctx, RegisterInput{Email: "a@x.com", Password: "secret"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := gated.svc.Login(ctx, "a@x.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := gated.svc.Login(ctx, "a@x.com", "secret"); !errors.Is(err, ErrNotVerified) {
		t.Fatalf("expected ErrNotVerified, got %v", err)
	}

	code := otpFrom(t, gated.notifier.last(t, notification.KindOTP))
	if _, err := gated.svc.VerifyOTP(ctx, "a@x.com", code); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if _, err := gated.svc.Login(ctx, "a@x.com", "secret"); err != nil {
		t.Fatalf("verified login: %v", err)
	}
}

func TestForgotPasswordUnknownEmail(t *testing.T) {
	f := newFixture(t, Options{})

	err := f.svc.ForgotPassword(context.Background(), "missing@x.com")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if got := len(f.notifier.sent()); got != 0 {
		t.Fatalf("expected no notification, sent %d", got)
	}
}

func TestResetPasswordFlow(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	if _, err := f.svc.Register(ctx, RegisterInput{Email: "a@x.com", Password: "old-pass"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	before, _ := f.repo.FindByEmail(ctx, "a@x.com")

	if err := f.svc.ForgotPassword(ctx, "a@x.com"); err != nil {
		t.Fatalf("forgot: %v", err)
	}
	msg := f.notifier.last(t, notification.KindPasswordReset)
	if msg.Subject != "Reset Password" || msg.Destination != "a@x.com" {
		t.Fatalf("unexpected reset message %+v", msg)
	}
	after, _ := f.repo.FindByEmail(ctx, "a@x.com")
	if after.PasswordHash != before.PasswordHash {
		t.Fatal("forgot password must not mutate the account")
	}
	token := resetTokenFrom(t, msg)

	if err := f.svc.ResetPassword(ctx, token, "new-pass"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, err := f.svc.Login(ctx, "a@x.com", "old-pass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password should fail, got %v", err)
	}
	if _, err := f.svc.Login(ctx, "a@x.com", "new-pass"); err != nil {
		t.Fatalf("new password should work: %v", err)
	}

	if err := f.svc.ResetPassword(ctx, token, "third-pass"); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("reused reset token: expected ErrInvalidOrExpiredToken, got %v", err)
	}
	if _, err := f.svc.Login(ctx, "a@x.com", "new-pass"); err != nil {
		t.Fatalf("rejected reuse must leave the password intact: %v", err)
	}
}

func TestResetPasswordRejectsExpiredAndForeignTokens(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	res, err := f.svc.Register(ctx, RegisterInput{Email: "a@x.com", Password: "old-pass"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := f.svc.ResetPassword(ctx, res.Token, "new-pass"); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("session token used for reset: expected ErrInvalidOrExpiredToken, got %v", err)
	}
	if err := f.svc.ResetPassword(ctx, "garbage", "new-pass"); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("garbage token: expected ErrInvalidOrExpiredToken, got %v", err)
	}

	if err := f.svc.ForgotPassword(ctx, "a@x.com"); err != nil {
		t.Fatalf("forgot: %v", err)
	}
	token := resetTokenFrom(t, f.notifier.last(t, notification.KindPasswordReset))
	if _, err := f.svc.Authenticate(token); err == nil {
		t.Fatal("reset token must not authenticate as a session")
	}

	f.clock.Advance(15*time.Minute + time.Second)
	if err := f.svc.ResetPassword(ctx, token, "new-pass"); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("expired token: expected ErrInvalidOrExpiredToken, got %v", err)
	}
	if _, err := f.svc.Login(ctx, "a@x.com", "old-pass"); err != nil {
		t.Fatalf("old password should still work: %v", err)
	}
}

func TestRegisterKeepsAccountWhenOTPDeliveryFails(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.notifier.fail(errors.New("smtp down"))

	res, err := f.svc.Register(ctx, RegisterInput{Email: "a@x.com", Password: "secret"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if res.OTPDelivered {
		t.Fatal("expected OTPDelivered=false")
	}
	first, err := f.repo.FindByEmail(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("account should exist: %v", err)
	}

	if err := f.svc.ResendOTP(ctx, "a@x.com"); !errors.Is(err, ErrServer) {
		t.Fatalf("resend while notifier down: expected ErrServer, got %v", err)
	}

	f.notifier.fail(nil)
	if err := f.svc.ResendOTP(ctx, "a@x.com"); err != nil {
		t.Fatalf("resend: %v", err)
	}
	code := otpFrom(t, f.notifier.last(t, notification.KindOTP))
	if code != first.OTPCode {
		if _, err := f.svc.VerifyOTP(ctx, "a@x.com", first.OTPCode); !errors.Is(err, ErrInvalidCode) {
			t.Fatalf("superseded code: expected ErrInvalidCode, got %v", err)
		}
	}
	if _, err := f.svc.VerifyOTP(ctx, "a@x.com", code); err != nil {
		t.Fatalf("verify resent code: %v", err)
	}
	if err := f.svc.ResendOTP(ctx, "a@x.com"); !errors.Is(err, ErrAlreadyVerified) {
		t.Fatalf("expected ErrAlreadyVerified, got %v", err)
	}
	if err := f.svc.ResendOTP(ctx, "ghost@x.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAccountNumbersAreIssued(t *testing.T) {
	f := newFixture(t, Options{IssueAccountNumbers: true})
	ctx := context.Background()

	a, err := f.svc.Register(ctx, RegisterInput{Email: "a@x.com", Password: "secret"})
	if err != nil {
		t.Fatalf("register a: %v", err)
	}
	b, err := f.svc.Register(ctx, RegisterInput{Email: "b@x.com", Password: "secret"})
	if err != nil {
		t.Fatalf("register b: %v", err)
	}
	digits := regexp.MustCompile(`^[1-9]\d{9}$`)
	if !digits.MatchString(a.Account.AccountNumber) || !digits.MatchString(b.Account.AccountNumber) {
		t.Fatalf("bad account numbers %q %q", a.Account.AccountNumber, b.Account.AccountNumber)
	}
	if a.Account.AccountNumber == b.Account.AccountNumber {
		t.Fatal("account numbers must be unique")
	}
}

type collidingRepo struct {
	Repository
	mu         sync.Mutex
	collisions int
	attempts   int
}

func (r *collidingRepo) Create(ctx context.Context, a Account) error {
	r.mu.Lock()
	r.attempts++
	collide := r.attempts <= r.collisions
	r.mu.Unlock()
	if collide {
		return ErrAccountNumberTaken
	}
	return r.Repository.Create(ctx, a)
}

func TestAccountNumberCollisionsAreRetried(t *testing.T) {
	repo := &collidingRepo{Repository: NewMemoryRepository(), collisions: 2}
	f := newFixtureWithRepo(t, repo, Options{IssueAccountNumbers: true, AccountNumberRetries: 3})

	if _, err := f.svc.Register(context.Background(), RegisterInput{Email: "a@x.com", Password: "secret"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if repo.attempts != 3 {
		t.Fatalf("expected 3 create attempts, got %d", repo.attempts)
	}

	exhausted := &collidingRepo{Repository: NewMemoryRepository(), collisions: 10}
	g := newFixtureWithRepo(t, exhausted, Options{IssueAccountNumbers: true, AccountNumberRetries: 3})
	if _, err := g.svc.Register(context.Background(), RegisterInput{Email: "a@x.com", Password: "secret"}); !errors.Is(err, ErrServer) {
		t.Fatalf("expected ErrServer after exhausting retries, got %v", err)
	}
}

type flakyPasswordRepo struct {
	Repository
	mu       sync.Mutex
	failures int
}

func (r *flakyPasswordRepo) UpdatePassword(ctx context.Context, id, hash string) error {
	r.mu.Lock()
	fail := r.failures > 0
	if fail {
		r.failures--
	}
	r.mu.Unlock()
	if fail {
		return errors.New("connection reset")
	}
	return r.Repository.UpdatePassword(ctx, id, hash)
}

func TestResetPasswordRetryAfterStoreFailure(t *testing.T) {
	repo := &flakyPasswordRepo{Repository: NewMemoryRepository(), failures: 1}
	f := newFixtureWithRepo(t, repo, Options{})
	ctx := context.Background()

	if _, err := f.svc.Register(ctx, RegisterInput{Email: "a@x.com", Password: "old-pass"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := f.svc.ForgotPassword(ctx, "a@x.com"); err != nil {
		t.Fatalf("forgot: %v", err)
	}
	token := resetTokenFrom(t, f.notifier.last(t, notification.KindPasswordReset))

	if err := f.svc.ResetPassword(ctx, token, "new-pass"); !errors.Is(err, ErrServer) {
		t.Fatalf("expected ErrServer on store failure, got %v", err)
	}
	if _, err := f.svc.Login(ctx, "a@x.com", "old-pass"); err != nil {
		t.Fatalf("failed reset must leave the old password in place: %v", err)
	}

	if err := f.svc.ResetPassword(ctx, token, "new-pass"); err != nil {
		t.Fatalf("retry with the same token should succeed, got %v", err)
	}
	if _, err := f.svc.Login(ctx, "a@x.com", "new-pass"); err != nil {
		t.Fatalf("new password should work: %v", err)
	}
	if err := f.svc.ResetPassword(ctx, token, "third-pass"); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("token must be single-use after a successful reset, got %v", err)
	}
}

func TestPINLifecycle(t *testing.T) {
	f := newFixture(t, Options{RequirePIN: true})
	ctx := context.Background()

	res, err := f.svc.Register(ctx, RegisterInput{Email: "a@x.com", Password: "secret", PIN: "4321"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	stored, _ := f.repo.FindByID(ctx, res.Account.ID)
	if stored.PINHash == "" || stored.PINHash == "4321" {
		t.Fatalf("pin not hashed: %q", stored.PINHash)
	}
	if err := f.svc.VerifyPIN(ctx, res.Account.ID, "4321"); err != nil {
		t.Fatalf("verify pin: %v", err)
	}
	if err := f.svc.VerifyPIN(ctx, res.Account.ID, "0000"); !errors.Is(err, ErrInvalidPIN) {
		t.Fatalf("expected ErrInvalidPIN, got %v", err)
	}

	open := newFixture(t, Options{})
	noPIN, err := open.svc.Register(ctx, RegisterInput{Email: "b@x.com", Password: "secret"})
	if err != nil {
		t.Fatalf("register without pin: %v", err)
	}
	if err := open.svc.VerifyPIN(ctx, noPIN.Account.ID, "1234"); !errors.Is(err, ErrInvalidPIN) {
		t.Fatalf("account without pin: expected ErrInvalidPIN, got %v", err)
	}
}

func TestUpdateProfileOverwritesOnlySuppliedFields(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	res, err := f.svc.Register(ctx, RegisterInput{
		Email:    "a@x.com",
		Password: "secret",
		Profile:  Profile{FirstName: "Ada", LastName: "Lovelace", PhoneNumber: "+242060000000"},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	dob := time.Date(1990, 5, 17, 0, 0, 0, 0, time.UTC)
	updated, err := f.svc.UpdateProfile(ctx, res.Account.ID, ProfileUpdate{LastName: " King ", DateOfBirth: &dob})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	p := updated.Profile
	if p.FirstName != "Ada" || p.LastName != "King" || p.PhoneNumber != "+242060000000" {
		t.Fatalf("unexpected profile %+v", p)
	}
	if p.DateOfBirth == nil || !p.DateOfBirth.Equal(dob) {
		t.Fatalf("date of birth not applied: %v", p.DateOfBirth)
	}
	if updated.PasswordHash != res.Account.PasswordHash || updated.IsVerified {
		t.Fatal("profile update must not touch credentials or verification")
	}

	if _, err := f.svc.UpdateProfile(ctx, "00000000-0000-0000-0000-000000000000", ProfileUpdate{FirstName: "X"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := f.svc.Profile(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSessionTokenExpires(t *testing.T) {
	f := newFixture(t, Options{SessionTTL: time.Minute})
	ctx := context.Background()

	res, err := f.svc.Register(ctx, RegisterInput{Email: "a@x.com", Password: "secret"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := f.svc.Authenticate(res.Token); err != nil {
		t.Fatalf("fresh token: %v", err)
	}
	f.clock.Advance(time.Minute + time.Second)
	if _, err := f.svc.Authenticate(res.Token); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("expected ErrInvalidOrExpiredToken, got %v", err)
	}
}
