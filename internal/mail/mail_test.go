package mail

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type captured struct {
	from string
	to   []string
	msg  string
}

func newTestMailer(t *testing.T) (*SMTPMailer, *[]captured) {
	t.Helper()
	m, err := New(Config{Host: "smtp.example.com", From: "admin@example.com"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	m.now = func() time.Time { return time.Date(2026, 3, 4, 15, 4, 5, 0, time.UTC) }
	var sent []captured
	m.send = func(_ context.Context, from string, to []string, msg []byte) error {
		sent = append(sent, captured{from: from, to: to, msg: string(msg)})
		return nil
	}
	return m, &sent
}

func TestNewValidates(t *testing.T) {
	if _, err := New(Config{}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if _, err := New(Config{Host: "h", From: "not an address"}); err == nil {
		t.Fatal("expected invalid from address to be rejected")
	}
	if _, err := New(Config{Host: "h", From: "a@b.c", Encryption: "rot13"}); err == nil {
		t.Fatal("expected unknown encryption to be rejected")
	}
	m, err := New(Config{Host: "h", From: "a@b.c"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if m.cfg.Port != 587 || m.cfg.Encryption != "starttls" {
		t.Fatalf("unexpected defaults: %+v", m.cfg)
	}
}

func TestSendMFACode(t *testing.T) {
	m, sent := newTestMailer(t)

	if err := m.SendMFACode(context.Background(), "owner@example.com", "123456"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(*sent) != 1 {
		t.Fatalf("expected one message, got %d", len(*sent))
	}
	got := (*sent)[0]
	if got.from != "admin@example.com" || len(got.to) != 1 || got.to[0] != "owner@example.com" {
		t.Fatalf("unexpected envelope: %+v", got)
	}
	for _, want := range []string{
		"To: owner@example.com\r\n",
		"Subject: =?utf-8?q?",
		"Content-Type: text/html; charset=UTF-8",
		">123456</span>",
		"expira em 1 minuto.",
	} {
		if !strings.Contains(got.msg, want) {
			t.Fatalf("message missing %q:\n%s", want, got.msg)
		}
	}
}

func TestValidFor(t *testing.T) {
	for d, want := range map[time.Duration]string{
		time.Minute:      "1 minuto",
		5 * time.Minute:  "5 minutos",
		90 * time.Second: "90 segundos",
	} {
		if got := validFor(d); got != want {
			t.Errorf("validFor(%s) = %q, want %q", d, got, want)
		}
	}
}

func TestSendLoginNotification(t *testing.T) {
	m, sent := newTestMailer(t)

	if err := m.SendLoginNotification(context.Background(), "owner@example.com", "203.0.113.5"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := m.SendLoginNotification(context.Background(), "owner@example.com", ""); err != nil {
		t.Fatalf("send: %v", err)
	}
	if !strings.Contains((*sent)[0].msg, "203.0.113.5") || !strings.Contains((*sent)[0].msg, "04/03/2026 15:04:05") {
		t.Fatalf("unexpected body:\n%s", (*sent)[0].msg)
	}
	if !strings.Contains((*sent)[1].msg, "Desconhecido") {
		t.Fatalf("expected unknown source placeholder:\n%s", (*sent)[1].msg)
	}
}

func TestTemplateEscapesSource(t *testing.T) {
	m, sent := newTestMailer(t)

	if err := m.SendLoginNotification(context.Background(), "owner@example.com", "<script>x</script>"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if strings.Contains((*sent)[0].msg, "<script>") {
		t.Fatal("expected source to be html escaped")
	}
}

func TestInvalidRecipient(t *testing.T) {
	m, sent := newTestMailer(t)
	if err := m.SendMFACode(context.Background(), "nobody", "123456"); err == nil {
		t.Fatal("expected invalid recipient to fail")
	}
	if len(*sent) != 0 {
		t.Fatal("nothing should be sent")
	}
}

func TestSendErrorPropagates(t *testing.T) {
	m, _ := newTestMailer(t)
	m.send = func(context.Context, string, []string, []byte) error { return errors.New("421 try later") }
	if err := m.SendMFACode(context.Background(), "owner@example.com", "123456"); err == nil {
		t.Fatal("expected send error")
	}
}
