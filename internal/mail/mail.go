// Package mail delivers verification codes.
package mail

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gatekeep.org/internal/auth"
)

// Message is a rendered email.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Sender transmits rendered messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

var subjects = map[auth.VerificationType]string{
	auth.VerificationUser:           "Verify your email address",
	auth.VerificationForgotPassword: "Reset your password",
	auth.VerificationEmailChange:    "Confirm your new email address",
}

// Compose renders the email for a verification code.
func Compose(n auth.Notification) Message {
	subject, ok := subjects[n.Purpose]
	if !ok {
		subject = "Your verification code"
	}
	var body strings.Builder
	fmt.Fprintf(&body, "Your code is %s.\n", n.Code)
	if !n.ExpiresAt.IsZero() {
		fmt.Fprintf(&body, "It expires at %s.\n", n.ExpiresAt.UTC().Format(time.RFC1123))
	}
	body.WriteString("If you did not request this, you can ignore this message.\n")
	return Message{To: n.Email, Subject: subject, Body: body.String()}
}

// SenderMailer adapts a Sender to auth.Mailer by rendering synchronously.
type SenderMailer struct {
	sender Sender
}

var _ auth.Mailer = (*SenderMailer)(nil)

// NewSenderMailer wraps s.
func NewSenderMailer(s Sender) *SenderMailer { return &SenderMailer{sender: s} }

// SendCode renders and sends n.
func (m *SenderMailer) SendCode(ctx context.Context, n auth.Notification) error {
	return m.sender.Send(ctx, Compose(n))
}

// LogSender writes messages to the log. Intended for development.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender returns a sender that logs through l.
func NewLogSender(l *slog.Logger) *LogSender {
	if l == nil {
		l = slog.Default()
	}
	return &LogSender{logger: l}
}

// Send logs msg.
func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.logger.InfoContext(ctx, "mail delivered to log",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.String("body", msg.Body),
	)
	return nil
}
