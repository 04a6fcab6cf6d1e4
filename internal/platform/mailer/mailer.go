// Copyright (c) 2026 Decorly. All rights reserved.
// Author: tai.buivan.jp@gmail.com

// Package mailer delivers transactional email (passcodes) to users.
//
// Delivery is synchronous: a failed send is returned to the caller, which
// fails the signup or login attempt that needed it.
package mailer

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
)

// Message is a plain-text email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer sends messages.
type Mailer interface {
	Send(ctx context.Context, message Message) error
}

// # SMTP

// SMTPMailer sends through an SMTP relay with PLAIN auth.
type SMTPMailer struct {
	addr     string
	from     string
	auth     smtp.Auth
	sendMail func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPMailer builds a mailer for the relay at addr (host:port). Auth is
// skipped when user is empty.
func NewSMTPMailer(addr, user, password, from string) (*SMTPMailer, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("mailer: invalid SMTP address %q: %w", addr, err)
	}

	var auth smtp.Auth
	if user != "" {
		auth = smtp.PlainAuth("", user, password, host)
	}

	return &SMTPMailer{addr: addr, from: from, auth: auth, sendMail: smtp.SendMail}, nil
}

// Send implements [Mailer].
func (mailer *SMTPMailer) Send(ctx context.Context, message Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := mailer.sendMail(mailer.addr, mailer.auth, mailer.from, []string{message.To}, Compose(mailer.from, message)); err != nil {
		return fmt.Errorf("mailer_smtp_send_failed: %w", err)
	}
	return nil
}

// Compose renders message as an RFC 5322 text.
func Compose(from string, message Message) []byte {
	var builder strings.Builder
	builder.WriteString("From: " + from + "\r\n")
	builder.WriteString("To: " + message.To + "\r\n")
	builder.WriteString("Subject: " + message.Subject + "\r\n")
	builder.WriteString("MIME-Version: 1.0\r\n")
	builder.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	builder.WriteString("\r\n")
	builder.WriteString(strings.ReplaceAll(message.Body, "\n", "\r\n"))
	builder.WriteString("\r\n")
	return []byte(builder.String())
}

// # Development

// LogMailer writes messages to the log instead of sending them.
// It is selected when no SMTP relay is configured.
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer creates a mailer logging through logger.
func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

// Send implements [Mailer].
func (mailer *LogMailer) Send(ctx context.Context, message Message) error {
	mailer.logger.InfoContext(ctx, "mail_logged",
		slog.String("to", message.To),
		slog.String("subject", message.Subject),
		slog.String("body", message.Body),
	)
	return nil
}
