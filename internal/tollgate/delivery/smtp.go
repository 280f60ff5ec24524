package delivery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"
)

// SMTPSender sends plain text mail through an SMTP relay with PLAIN auth.
type SMTPSender struct {
	Addr     string // host:port
	Username string
	Password string
	From     string

	// sendMail is smtp.SendMail, swapped in tests.
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPSender(addr, username, password, from string) (*SMTPSender, error) {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return nil, fmt.Errorf("invalid smtp address %q: %w", addr, err)
	}
	if from == "" {
		from = username
	}
	if from == "" {
		return nil, errors.New("smtp sender needs a from address")
	}

	return &SMTPSender{
		Addr:     addr,
		Username: username,
		Password: password,
		From:     from,
		sendMail: smtp.SendMail,
	}, nil
}

func (s *SMTPSender) SendMessage(ctx context.Context, destination, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.ContainsAny(destination, "\r\n") || strings.ContainsAny(subject, "\r\n") {
		return errors.New("smtp: header values must not contain line breaks")
	}

	var auth smtp.Auth
	if s.Username != "" {
		host, _, _ := net.SplitHostPort(s.Addr)
		auth = smtp.PlainAuth("", s.Username, s.Password, host)
	}

	if err := s.sendMail(s.Addr, auth, s.From, []string{destination}, buildMessage(s.From, destination, subject, body)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func buildMessage(from, to, subject, body string) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(b.String())
}
