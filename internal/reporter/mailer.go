package reporter

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"

	"portwatch/internal/models"
)

type Message struct {
	From    string
	To      string
	Subject string
	Body    string
}

// Notifier delivers one alert message. Implementations must treat a
// failed send as retryable: the caller records dedup state only after
// Send returns nil.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// NotifierFactory builds a Notifier from the current reporter settings
// at the start of each cycle.
type NotifierFactory func(models.ReporterSettings) (Notifier, error)

// SMTPMailer sends plain-text mail over SMTP. Port 465 is implicit TLS,
// everything else is STARTTLS when the server offers it.
type SMTPMailer struct {
	host     string
	port     int
	username string
	password string
}

func NewSMTPMailer(s models.ReporterSettings) (Notifier, error) {
	host := strings.TrimSpace(s.SMTPHost)
	if host == "" {
		return nil, errors.New("smtp host is not configured")
	}
	port := s.SMTPPort
	if port <= 0 {
		port = 587
	}
	return &SMTPMailer{
		host:     host,
		port:     port,
		username: s.SMTPUsername,
		password: s.SMTPPassword,
	}, nil
}

func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	addr := net.JoinHostPort(m.host, strconv.Itoa(m.port))
	var auth smtp.Auth
	if m.username != "" && m.password != "" {
		auth = smtp.PlainAuth("", m.username, m.password, m.host)
	}

	payload := buildPayload(msg)
	if m.port == 465 {
		return m.sendImplicitTLS(addr, auth, msg, payload)
	}
	if err := smtp.SendMail(addr, auth, msg.From, []string{msg.To}, payload); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func (m *SMTPMailer) sendImplicitTLS(addr string, auth smtp.Auth, msg Message, payload []byte) error {
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: m.host})
	if err != nil {
		return fmt.Errorf("smtp tls dial: %w", err)
	}
	c, err := smtp.NewClient(conn, m.host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp client: %w", err)
	}
	defer c.Close()

	if auth != nil {
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.Mail(msg.From); err != nil {
		return fmt.Errorf("smtp mail: %w", err)
	}
	if err := c.Rcpt(msg.To); err != nil {
		return fmt.Errorf("smtp rcpt: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close: %w", err)
	}
	return c.Quit()
}

func buildPayload(msg Message) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", msg.From)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.Body)
	return []byte(b.String())
}

// formatMoney renders a decimal amount with its currency symbol, e.g.
// "$82.00". Unknown codes fall back to USD.
func formatMoney(v decimal.Decimal, code string) string {
	cur := money.GetCurrency(strings.ToUpper(strings.TrimSpace(code)))
	if cur == nil {
		cur = money.GetCurrency(money.USD)
	}
	units := v.Shift(int32(cur.Fraction)).Round(0).IntPart()
	return money.New(units, cur.Code).Display()
}
