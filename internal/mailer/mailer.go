// Package mailer delivers sign-in emails over SMTP, with a log-only
// fallback for environments without a configured mail server.
package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
)

// SMTPSettings holds configuration for the SMTP mailer.
type SMTPSettings struct {
	Host     string
	Port     int
	From     string
	Username string
	Password string
	TLS      bool
}

// SMTP sends magic-link emails through a mail server.
type SMTP struct {
	host     string
	port     int
	from     string
	username string
	password string
	useTLS   bool
}

// NewSMTP constructs an SMTP mailer. When TLS is set the connection uses
// implicit TLS (port 465 style); otherwise STARTTLS is attempted if advertised.
func NewSMTP(settings SMTPSettings) *SMTP {
	return &SMTP{
		host:     settings.Host,
		port:     settings.Port,
		from:     settings.From,
		username: settings.Username,
		password: settings.Password,
		useTLS:   settings.TLS,
	}
}

// SendMagicLink emails a one-time sign-in link to the given address.
func (s *SMTP) SendMagicLink(_ context.Context, to, url string) error {
	host := hostFromURL(url)
	subject := "Sign in to " + host

	body := "Hello,\r\n\r\n" +
		"Use the link below to sign in to " + host + ":\r\n\r\n" +
		url + "\r\n\r\n" +
		"The link expires in 24 hours and can be used once. " +
		"If you did not request this email you can safely ignore it.\r\n"

	msg := "From: " + s.from + "\r\n" +
		"To: " + to + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/plain; charset=UTF-8\r\n" +
		"\r\n" +
		body

	addr := net.JoinHostPort(s.host, fmt.Sprintf("%d", s.port))

	var c *smtp.Client
	var err error

	if s.useTLS {
		conn, dialErr := tls.Dial("tcp", addr, &tls.Config{ServerName: s.host})
		if dialErr != nil {
			return fmt.Errorf("smtp tls dial: %w", dialErr)
		}
		c, err = smtp.NewClient(conn, s.host)
		if err != nil {
			conn.Close()
			return fmt.Errorf("smtp new client: %w", err)
		}
	} else {
		c, err = smtp.Dial(addr)
		if err != nil {
			return fmt.Errorf("smtp dial: %w", err)
		}
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(&tls.Config{ServerName: s.host}); err != nil {
				c.Close()
				return fmt.Errorf("smtp starttls: %w", err)
			}
		}
	}
	defer c.Close()

	if s.username != "" {
		auth := smtp.PlainAuth("", s.username, s.password, s.host)
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := c.Mail(s.from); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := c.Rcpt(to); err != nil {
		return fmt.Errorf("smtp rcpt to: %w", err)
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write([]byte(msg)); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close data: %w", err)
	}

	return c.Quit()
}

// hostFromURL extracts the host portion of a link for use in the subject
// line. Falls back to the raw string when the link has no scheme.
func hostFromURL(url string) string {
	rest := url
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}
	if i := strings.IndexAny(rest, "/?"); i >= 0 {
		rest = rest[:i]
	}
	if rest == "" {
		return url
	}
	return rest
}

// LogMailer writes sign-in links to the log instead of sending email.
// Useful in development where no SMTP server is available.
type LogMailer struct {
	log *slog.Logger
}

// NewLogMailer creates a mailer that logs links at Info level.
func NewLogMailer(log *slog.Logger) *LogMailer {
	return &LogMailer{log: log}
}

// SendMagicLink logs the link instead of delivering it.
func (l *LogMailer) SendMagicLink(_ context.Context, to, url string) error {
	l.log.Info("magic link issued", "to", to, "url", url)
	return nil
}
