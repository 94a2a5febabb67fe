package account

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/qrpay_identity/internal/logging"
	"github.com/congo-pay/qrpay_identity/internal/middleware"
)

const dateLayout = "2006-01-02"

// Handler exposes account endpoints.
type Handler struct {
	service  *Service
	validate *validator.Validate
	logger   *slog.Logger
}

// NewHandler constructs an account HTTP handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Handler{
		service:  service,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

// profileFields accepts both snake_case and the camelCase names older
// clients send. snake_case wins when both are present.
type profileFields struct {
	FirstName   string `json:"first_name" validate:"max=100"`
	LastName    string `json:"last_name" validate:"max=100"`
	PhoneNumber string `json:"phone_number" validate:"omitempty,e164"`
	DateOfBirth string `json:"date_of_birth" validate:"omitempty,datetime=2006-01-02"`

	CamelFirstName   string `json:"firstName" validate:"max=100"`
	CamelLastName    string `json:"lastName" validate:"max=100"`
	CamelPhoneNumber string `json:"phoneNumber" validate:"omitempty,e164"`
	CamelDateOfBirth string `json:"dateOfBirth" validate:"omitempty,datetime=2006-01-02"`
}

func (p profileFields) merged() profileFields {
	return profileFields{
		FirstName:   firstNonEmpty(p.FirstName, p.CamelFirstName),
		LastName:    firstNonEmpty(p.LastName, p.CamelLastName),
		PhoneNumber: firstNonEmpty(p.PhoneNumber, p.CamelPhoneNumber),
		DateOfBirth: firstNonEmpty(p.DateOfBirth, p.CamelDateOfBirth),
	}
}

type registerRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,max=72"`
	PIN      string `json:"pin" validate:"omitempty,numeric,min=4,max=6"`
	profileFields
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type verifyOTPRequest struct {
	Email     string `json:"email" validate:"required_without=AccountID,omitempty,email"`
	AccountID string `json:"user_id" validate:"required_without=Email,omitempty,uuid"`
	Code      string `json:"otp" validate:"required,numeric,len=6"`
}

type emailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type resetPasswordRequest struct {
	NewPassword string `json:"new_password" validate:"required_without=Password,omitempty,max=72"`
	Password    string `json:"password" validate:"required_without=NewPassword,omitempty,max=72"`
}

type updateProfileRequest struct {
	profileFields
}

type pinRequest struct {
	PIN string `json:"pin" validate:"required,numeric,min=4,max=6"`
}

type accountResponse struct {
	ID            string  `json:"id"`
	Email         string  `json:"email"`
	FirstName     string  `json:"first_name"`
	LastName      string  `json:"last_name"`
	PhoneNumber   string  `json:"phone_number"`
	DateOfBirth   *string `json:"date_of_birth,omitempty"`
	AccountNumber string  `json:"account_number,omitempty"`
	IsVerified    bool    `json:"is_verified"`
	State         State   `json:"state"`
	HasPIN        bool    `json:"has_pin"`
	CreatedAt     string  `json:"created_at"`
}

type sessionResponse struct {
	Token     string          `json:"token"`
	ExpiresAt string          `json:"expires_at"`
	Account   accountResponse `json:"account"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Register creates a pending account and emails its passcode.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := h.bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	profile := req.merged()
	dob, err := parseDate(profile.DateOfBirth)
	if err != nil {
		return h.fail(c, err)
	}

	result, err := h.service.Register(c.UserContext(), RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		PIN:      req.PIN,
		Profile: Profile{
			FirstName:   strings.TrimSpace(profile.FirstName),
			LastName:    strings.TrimSpace(profile.LastName),
			PhoneNumber: strings.TrimSpace(profile.PhoneNumber),
			DateOfBirth: dob,
		},
	})
	if err != nil {
		return h.fail(c, err)
	}

	message := "registration successful, check your email for the otp"
	if !result.OTPDelivered {
		message = "registration successful, otp delivery failed, request a new code"
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"message":       message,
		"user_id":       result.Account.ID,
		"token":         result.Token,
		"otp_delivered": result.OTPDelivered,
		"account":       toAccountResponse(result.Account),
	})
}

// Login exchanges credentials for a session token.
func (h *Handler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := h.bind(c, &req); err != nil {
		// Malformed credentials get the same answer as wrong ones.
		if errors.Is(err, ErrValidation) {
			return h.fail(c, ErrInvalidCredentials)
		}
		return h.fail(c, err)
	}
	session, err := h.service.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(toSessionResponse(session))
}

// VerifyOTP activates an account with its emailed passcode.
func (h *Handler) VerifyOTP(c *fiber.Ctx) error {
	var req verifyOTPRequest
	if err := h.bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	identifier := req.Email
	if identifier == "" {
		identifier = req.AccountID
	}
	session, err := h.service.VerifyOTP(c.UserContext(), identifier, req.Code)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"message": "account verified",
		"token":   session.Token,
		"account": toAccountResponse(session.Account),
	})
}

// ResendOTP sends a fresh passcode to a pending account.
func (h *Handler) ResendOTP(c *fiber.Ctx) error {
	var req emailRequest
	if err := h.bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	if err := h.service.ResendOTP(c.UserContext(), req.Email); err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"message": "otp sent"})
}

// ForgotPassword emails a password reset link.
func (h *Handler) ForgotPassword(c *fiber.Ctx) error {
	var req emailRequest
	if err := h.bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	if err := h.service.ForgotPassword(c.UserContext(), req.Email); err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"message": "password reset link sent"})
}

// ResetPassword redeems the token in the path for a new password.
func (h *Handler) ResetPassword(c *fiber.Ctx) error {
	var req resetPasswordRequest
	if err := h.bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	if err := h.service.ResetPassword(c.UserContext(), c.Params("token"), firstNonEmpty(req.NewPassword, req.Password)); err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"message": "password updated"})
}

// Me returns the authenticated account.
func (h *Handler) Me(c *fiber.Ctx) error {
	account, err := h.service.Profile(c.UserContext(), middleware.AccountID(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(toAccountResponse(account))
}

// UpdateProfile edits the authenticated account's profile.
func (h *Handler) UpdateProfile(c *fiber.Ctx) error {
	var req updateProfileRequest
	if err := h.bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	profile := req.merged()
	dob, err := parseDate(profile.DateOfBirth)
	if err != nil {
		return h.fail(c, err)
	}
	account, err := h.service.UpdateProfile(c.UserContext(), middleware.AccountID(c), ProfileUpdate{
		FirstName:   profile.FirstName,
		LastName:    profile.LastName,
		PhoneNumber: profile.PhoneNumber,
		DateOfBirth: dob,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"message": "profile updated",
		"account": toAccountResponse(account),
	})
}

// VerifyPIN checks the payment PIN of the authenticated account.
func (h *Handler) VerifyPIN(c *fiber.Ctx) error {
	var req pinRequest
	if err := h.bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	if err := h.service.VerifyPIN(c.UserContext(), middleware.AccountID(c), req.PIN); err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"message": "pin verified"})
}

func (h *Handler) bind(c *fiber.Ctx, req any) error {
	if err := c.BodyParser(req); err != nil {
		return validationError("malformed request body")
	}
	if err := h.validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return validationError("%s failed %s", strings.ToLower(fe.Field()), fe.Tag())
		}
		return validationError("invalid request")
	}
	return nil
}

// fail renders err as a stable code and message. Unclassified errors are
// logged and reported as a generic server error.
func (h *Handler) fail(c *fiber.Ctx, err error) error {
	status, body := classify(err)
	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(c.UserContext(), "account request failed",
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Any("error", err),
		)
	}
	return c.Status(status).JSON(body)
}

func classify(err error) (int, errorResponse) {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest, errorResponse{Code: "validation_error", Message: strings.TrimPrefix(err.Error(), ErrValidation.Error()+": ")}
	case errors.Is(err, ErrConflict):
		return http.StatusConflict, errorResponse{Code: "conflict", Message: "account already exists"}
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, errorResponse{Code: "not_found", Message: "account not found"}
	case errors.Is(err, ErrInvalidCredentials):
		return http.StatusUnauthorized, errorResponse{Code: "invalid_credentials", Message: "invalid email or password"}
	case errors.Is(err, ErrNotVerified):
		return http.StatusForbidden, errorResponse{Code: "not_verified", Message: "account not verified"}
	case errors.Is(err, ErrInvalidCode):
		return http.StatusBadRequest, errorResponse{Code: "invalid_code", Message: "invalid or expired otp"}
	case errors.Is(err, ErrInvalidOrExpiredToken):
		return http.StatusUnauthorized, errorResponse{Code: "invalid_or_expired_token", Message: "invalid or expired token"}
	case errors.Is(err, ErrAlreadyVerified):
		return http.StatusConflict, errorResponse{Code: "already_verified", Message: "account already verified"}
	case errors.Is(err, ErrInvalidPIN):
		return http.StatusUnauthorized, errorResponse{Code: "invalid_pin", Message: "invalid pin"}
	default:
		return http.StatusInternalServerError, errorResponse{Code: "server_error", Message: "internal server error"}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseDate(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return nil, validationError("date_of_birth must use %s", dateLayout)
	}
	return &t, nil
}

func toAccountResponse(a Account) accountResponse {
	resp := accountResponse{
		ID:            a.ID,
		Email:         a.Email,
		FirstName:     a.Profile.FirstName,
		LastName:      a.Profile.LastName,
		PhoneNumber:   a.Profile.PhoneNumber,
		AccountNumber: a.AccountNumber,
		IsVerified:    a.IsVerified,
		State:         a.State(),
		HasPIN:        a.PINHash != "",
		CreatedAt:     a.CreatedAt.UTC().Format(time.RFC3339),
	}
	if a.Profile.DateOfBirth != nil {
		dob := a.Profile.DateOfBirth.Format(dateLayout)
		resp.DateOfBirth = &dob
	}
	return resp
}

func toSessionResponse(s Session) sessionResponse {
	return sessionResponse{
		Token:     s.Token,
		ExpiresAt: s.ExpiresAt.UTC().Format(time.RFC3339),
		Account:   toAccountResponse(s.Account),
	}
}
