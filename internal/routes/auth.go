package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/qrpay_identity/internal/account"
)

// AuthLimits are the optional guards placed in front of public auth routes.
type AuthLimits struct {
	Idempotency fiber.Handler
	Login       fiber.Handler
	VerifyOTP   fiber.Handler
}

// RegisterAuthRoutes wires the public registration and recovery endpoints.
func RegisterAuthRoutes(r fiber.Router, h *account.Handler, limits AuthLimits) {
	group := r.Group("/auth")
	group.Post("/register", chain(h.Register, limits.Idempotency)...)
	group.Post("/login", chain(h.Login, limits.Login)...)
	group.Post("/verify-otp", chain(h.VerifyOTP, limits.VerifyOTP)...)
	group.Post("/resend-otp", chain(h.ResendOTP, limits.Idempotency)...)
	group.Post("/forgot-password", chain(h.ForgotPassword, limits.Idempotency)...)
	group.Post("/reset-password/:token", h.ResetPassword)
}

// chain drops nil guards so routes can be wired without Redis.
func chain(final fiber.Handler, guards ...fiber.Handler) []fiber.Handler {
	handlers := make([]fiber.Handler, 0, len(guards)+1)
	for _, g := range guards {
		if g != nil {
			handlers = append(handlers, g)
		}
	}
	return append(handlers, final)
}
