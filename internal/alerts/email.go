package alerts

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Email delivers alerts over SMTP with implicit TLS (port 465 style). A
// nil *Email is a disabled channel.
type Email struct {
	host        string
	port        int
	user        string
	password    string
	to          []string
	minInterval *MinInterval
}

// NewEmail builds the channel. Missing credentials or recipients disable
// it by returning nil.
func NewEmail(host string, port int, user, password, to string, minInterval *MinInterval) *Email {
	if host == "" || user == "" || password == "" {
		return nil
	}
	var recipients []string
	for _, addr := range strings.Split(to, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			recipients = append(recipients, addr)
		}
	}
	if len(recipients) == 0 {
		return nil
	}
	return &Email{
		host: host, port: port,
		user: user, password: password,
		to: recipients, minInterval: minInterval,
	}
}

func (e *Email) Name() string { return "email" }

func (e *Email) Send(_ context.Context, a Alert) bool {
	if e == nil {
		return false
	}
	if e.minInterval != nil && !e.minInterval.Allow() {
		log.Info().Str("symbol", a.Symbol).Msg("email min-interval hit")
		return false
	}

	subject := fmt.Sprintf("[frictionwatch] %s %s (%.2f)", a.Symbol, a.Type, a.Score)
	if err := e.deliver(subject, formatEmailBody(a)); err != nil {
		log.Error().Err(err).Str("symbol", a.Symbol).Msg("email send failed")
		return false
	}
	return true
}

func formatEmailBody(a Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Symbol:     %s\n", a.Symbol)
	fmt.Fprintf(&b, "Signal:     %s\n", a.Type)
	fmt.Fprintf(&b, "Score:      %.3f\n", a.Score)
	fmt.Fprintf(&b, "Confidence: %.3f\n", a.Confidence)
	fmt.Fprintf(&b, "Severity:   %d/4\n", a.Severity)
	fmt.Fprintf(&b, "Time:       %s\n\n", a.At.UTC().Format(time.RFC3339))
	for _, line := range a.Signals {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if a.Annotation != "" {
		fmt.Fprintf(&b, "\nNote: %s\n", a.Annotation)
	}
	return b.String()
}

// deliver speaks SMTP over an implicit-TLS connection; smtp.SendMail
// only supports STARTTLS, which Gmail's 465 endpoint does not offer.
func (e *Email) deliver(subject, body string) error {
	addr := net.JoinHostPort(e.host, fmt.Sprintf("%d", e.port))

	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: e.host})
	if err != nil {
		return fmt.Errorf("failed to dial smtp: %w", err)
	}
	client, err := smtp.NewClient(conn, e.host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open smtp session: %w", err)
	}
	defer client.Close()

	if err := client.Auth(smtp.PlainAuth("", e.user, e.password, e.host)); err != nil {
		return fmt.Errorf("smtp auth failed: %w", err)
	}
	if err := client.Mail(e.user); err != nil {
		return fmt.Errorf("smtp MAIL failed: %w", err)
	}
	for _, rcpt := range e.to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp RCPT %s failed: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA failed: %w", err)
	}
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s",
		e.user, strings.Join(e.to, ", "), subject, body)
	if _, err := w.Write([]byte(msg)); err != nil {
		w.Close()
		return fmt.Errorf("smtp write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close failed: %w", err)
	}
	return client.Quit()
}
