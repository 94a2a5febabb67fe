package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/qrpay_identity/internal/account"
)

// RegisterUserRoutes wires endpoints that act on the authenticated account.
func RegisterUserRoutes(r fiber.Router, h *account.Handler) {
	r.Get("/me", h.Me)
	r.Put("/profile", h.UpdateProfile)
	r.Post("/pin/verify", h.VerifyPIN)
}
