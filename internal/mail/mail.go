// Package mail sends the login mails over SMTP. Bodies are rendered from
// embedded HTML templates.
package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"mime"
	"net"
	netmail "net/mail"
	gosmtp "net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/portfolio/adminauth/totp"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

const (
	subjectMFACode           = "Código de verificação"
	subjectLoginNotification = "Novo login detectado"
)

// ErrNotConfigured is returned when no SMTP host is set.
var ErrNotConfigured = errors.New("smtp is not configured")

// Config holds SMTP connection settings. Encryption is "starttls"
// (default), "ssl" or "none".
type Config struct {
	Host       string
	Port       int
	Username   string
	Password   string
	From       string
	FromName   string
	Encryption string
	Timeout    time.Duration
	// Location formats timestamps in notifications.
	Location *time.Location
}

type sendFunc func(ctx context.Context, from string, to []string, msg []byte) error

// SMTPMailer implements adminauth.Mailer.
type SMTPMailer struct {
	cfg  Config
	send sendFunc
	now  func() time.Time
}

// New returns a mailer for cfg. A zero port selects 587.
func New(cfg Config) (*SMTPMailer, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, ErrNotConfigured
	}
	if _, err := netmail.ParseAddress(cfg.From); err != nil {
		return nil, fmt.Errorf("invalid from address: %w", err)
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	if cfg.FromName == "" {
		cfg.FromName = "Portfolio Admin"
	}
	if cfg.Encryption == "" {
		cfg.Encryption = "starttls"
	}
	switch cfg.Encryption {
	case "starttls", "ssl", "none":
	default:
		return nil, fmt.Errorf("unknown smtp encryption %q", cfg.Encryption)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	m := &SMTPMailer{cfg: cfg, now: time.Now}
	m.send = m.dialAndSend
	return m, nil
}

// SendMFACode mails the one-time login code.
func (m *SMTPMailer) SendMFACode(ctx context.Context, email, code string) error {
	body, err := render("mfa_code.html", map[string]any{
		"Code":     code,
		"ValidFor": validFor(totp.CodeLifetime),
	})
	if err != nil {
		return err
	}
	return m.deliver(ctx, email, subjectMFACode, body)
}

// SendLoginNotification reports a completed login from source.
func (m *SMTPMailer) SendLoginNotification(ctx context.Context, email, source string) error {
	body, err := render("login_notification.html", map[string]any{
		"Source": source,
		"When":   m.now().In(m.cfg.Location).Format("02/01/2006 15:04:05"),
	})
	if err != nil {
		return err
	}
	return m.deliver(ctx, email, subjectLoginNotification, body)
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

func (m *SMTPMailer) deliver(ctx context.Context, to, subject, body string) error {
	rcpt, err := netmail.ParseAddress(to)
	if err != nil {
		return fmt.Errorf("invalid recipient: %w", err)
	}
	msg := m.compose(rcpt.Address, subject, body)
	return m.send(ctx, m.cfg.From, []string{rcpt.Address}, msg)
}

func (m *SMTPMailer) compose(to, subject, body string) []byte {
	from := netmail.Address{Name: m.cfg.FromName, Address: m.cfg.From}

	var msg strings.Builder
	msg.WriteString("From: " + from.String() + "\r\n")
	msg.WriteString("To: " + to + "\r\n")
	msg.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", subject) + "\r\n")
	msg.WriteString("Date: " + m.now().UTC().Format(time.RFC1123Z) + "\r\n")
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)
	return []byte(msg.String())
}

func (m *SMTPMailer) dialAndSend(ctx context.Context, from string, to []string, msg []byte) error {
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	dialer := &net.Dialer{Timeout: m.cfg.Timeout}

	var (
		conn net.Conn
		err  error
	)
	if m.cfg.Encryption == "ssl" {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: m.tlsConfig()}
		conn, err = tlsDialer.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", addr, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(m.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	client, err := gosmtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		return fmt.Errorf("creating smtp client: %w", err)
	}
	defer client.Close()

	if m.cfg.Encryption == "starttls" {
		if err := client.StartTLS(m.tlsConfig()); err != nil {
			return fmt.Errorf("starting TLS: %w", err)
		}
	}
	if m.cfg.Username != "" {
		auth := gosmtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("authenticating: %w", err)
		}
	}

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("RCPT TO %s: %w", rcpt, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing data: %w", err)
	}
	return client.Quit()
}

func (m *SMTPMailer) tlsConfig() *tls.Config {
	return &tls.Config{ServerName: m.cfg.Host, MinVersion: tls.VersionTLS12}
}

// validFor renders d the way the mail templates phrase it.
func validFor(d time.Duration) string {
	if d%time.Minute == 0 {
		if n := int(d / time.Minute); n != 1 {
			return strconv.Itoa(n) + " minutos"
		}
		return "1 minuto"
	}
	return strconv.Itoa(int(d/time.Second)) + " segundos"
}
