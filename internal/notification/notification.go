package notification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/congo-pay/qrpay_identity/internal/logging"
)

const (
	// KindOTP carries a registration passcode.
	KindOTP = "otp"
	// KindPasswordReset carries a password reset link.
	KindPasswordReset = "password_reset"
)

// Message describes a notification payload.
type Message struct {
	Kind        string
	Destination string
	Subject     string
	Body        string
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// OTPMessage builds the email carrying a registration passcode.
func OTPMessage(email, code string, ttl time.Duration) Message {
	return Message{
		Kind:        KindOTP,
		Destination: email,
		Subject:     "Your OTP Code",
		Body:        fmt.Sprintf("Your OTP code is %s. It will expire in %s.", code, humanize(ttl)),
	}
}

// ResetMessage builds the email carrying a password reset link.
func ResetMessage(email, link string, ttl time.Duration) Message {
	return Message{
		Kind:        KindPasswordReset,
		Destination: email,
		Subject:     "Reset Password",
		Body: fmt.Sprintf("Click the link below to reset your password:\n\n%s\n\nThis link will expire in %s.",
			link, humanize(ttl)),
	}
}

func humanize(d time.Duration) string {
	minutes := int(d.Round(time.Minute) / time.Minute)
	if minutes == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", minutes)
}

// LoggerNotifier is a development implementation that writes notifications
// to the logger. Bodies carry credentials, so they are logged at debug only.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(ctx context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.InfoContext(ctx, "notification",
		slog.String("kind", message.Kind),
		slog.String("destination", logging.MaskEmail(message.Destination)),
		slog.String("subject", message.Subject),
	)
	n.logger.DebugContext(ctx, "notification body", slog.String("kind", message.Kind), slog.String("body", message.Body))
	return nil
}
