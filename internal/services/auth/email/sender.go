// Package email defines the outbound-mail handoff for auth notifications.
//
// Delivery itself is an external collaborator's concern: the auth service
// builds a fully-formed template payload and hands it over.
package email

import (
	"context"
	"log"
	"time"
)

// Message is a fully-formed template payload ready for delivery.
type Message struct {
	To       string
	Subject  string
	Template string
	Data     map[string]string
}

// Sender delivers auth notification messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// NewPasswordResetMessage builds the reset notification payload.
func NewPasswordResetMessage(to, token string, expiresAt time.Time) Message {
	return Message{
		To:       to,
		Subject:  "Reset your password",
		Template: "password-reset",
		Data: map[string]string{
			"Token":     token,
			"ExpiresAt": expiresAt.UTC().Format(time.RFC3339),
		},
	}
}

// LogSender is the default sender used when no delivery collaborator is
// configured. It records the handoff and succeeds.
type LogSender struct{}

// Send implements Sender.
func (LogSender) Send(_ context.Context, msg Message) error {
	log.Printf("email handoff: template=%s to=%s", msg.Template, msg.To)
	return nil
}
