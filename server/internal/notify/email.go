package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"sort"
	"text/template"
	"time"

	"github.com/copperwatch/copperwatch/server/internal/alerts"
	"github.com/copperwatch/copperwatch/server/internal/config"
)

// SMTP ports.
const (
	SMTPPortStartTLS    = 587
	SMTPPortImplicitTLS = 465
)

const defaultSMTPTimeout = 30 * time.Second

const emailBodyTemplate = `Copperwatch Alert

Rule:      {{.RuleName}} ({{.RuleID}})
Kind:      {{.Kind}}
Symbol:    {{.Symbol}}
Severity:  {{.Severity}}
Value:     {{printf "%.4f" .Value}}
Threshold: {{printf "%.4f" .Threshold}}
Time:      {{.Time}}

{{.Message}}
{{if .Fields}}
Market data:
{{range .Fields}}  {{.Name}}: {{printf "%.4f" .Value}}
{{end}}{{end}}
---
This is an automated alert from copperwatch.
`

var emailBody = template.Must(template.New("body").Parse(emailBodyTemplate))

// SMTPDialer opens SMTP sessions. Tests replace it with a fake.
type SMTPDialer interface {
	DialContext(ctx context.Context, addr string) (SMTPClient, error)
}

// SMTPClient is the subset of *smtp.Client the email notifier uses.
type SMTPClient interface {
	StartTLS(config *tls.Config) error
	Auth(a smtp.Auth) error
	Mail(from string) error
	Rcpt(to string) error
	Data() (io.WriteCloser, error)
	Close() error
	Extension(ext string) (bool, string)
}

type field struct {
	Name  string
	Value float64
}

type emailData struct {
	alerts.Event
	Time   string
	Fields []field
}

// Email sends events through an SMTP relay.
type Email struct {
	cfg      config.EmailConfig
	password string
	dialer   SMTPDialer
}

// NewEmail builds an Email notifier from cfg, resolving the password from the
// environment.
func NewEmail(cfg config.EmailConfig) *Email {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSMTPTimeout
	}
	return &Email{
		cfg:      cfg,
		password: cfg.Password(),
		dialer: &netDialer{
			timeout:    cfg.Timeout,
			implicit:   cfg.UseTLS && cfg.SMTPPort == SMTPPortImplicitTLS,
			serverName: cfg.SMTPHost,
		},
	}
}

// SetDialer replaces the SMTP dialer.
func (e *Email) SetDialer(d SMTPDialer) { e.dialer = d }

func (e *Email) Name() string { return "email" }

func (e *Email) Send(ctx context.Context, ev alerts.Event) error {
	body, err := renderEmail(ev)
	if err != nil {
		return fail(e.Name(), err)
	}
	if err := e.send(ctx, summary(ev), body); err != nil {
		return fail(e.Name(), err)
	}
	return nil
}

func renderEmail(ev alerts.Event) (string, error) {
	data := emailData{Event: ev, Time: timestamp(ev.Timestamp)}
	for name, v := range ev.Fields {
		data.Fields = append(data.Fields, field{Name: name, Value: v})
	}
	sort.Slice(data.Fields, func(i, j int) bool { return data.Fields[i].Name < data.Fields[j].Name })

	var buf bytes.Buffer
	if err := emailBody.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render body: %w", err)
	}
	return buf.String(), nil
}

func (e *Email) send(ctx context.Context, subject, body string) error {
	addr := net.JoinHostPort(e.cfg.SMTPHost, fmt.Sprint(e.cfg.SMTPPort))
	client, err := e.dialer.DialContext(ctx, addr)
	if err != nil {
		return fmt.Errorf("smtp connect: %w", err)
	}
	defer client.Close()

	if e.cfg.UseTLS && e.cfg.SMTPPort != SMTPPortImplicitTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			err := client.StartTLS(&tls.Config{ServerName: e.cfg.SMTPHost, MinVersion: tls.VersionTLS12})
			if err != nil {
				return fmt.Errorf("starttls: %w", err)
			}
		}
	}

	if e.cfg.Username != "" && e.password != "" {
		if err := client.Auth(smtp.PlainAuth("", e.cfg.Username, e.password, e.cfg.SMTPHost)); err != nil {
			// The server's reply may echo credentials.
			return errors.New("smtp auth failed")
		}
	}

	if err := client.Mail(e.cfg.From); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	for _, to := range e.cfg.To {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := client.Rcpt(to); err != nil {
			return fmt.Errorf("RCPT TO %s: %w", to, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(e.buildMessage(subject, body)); err != nil {
		w.Close()
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

func (e *Email) buildMessage(subject, body string) []byte {
	var buf bytes.Buffer
	buf.WriteString("From: " + e.cfg.From + "\r\n")
	buf.WriteString("To: ")
	for i, to := range e.cfg.To {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(to)
	}
	buf.WriteString("\r\n")
	buf.WriteString("Subject: " + encodeHeader(subject) + "\r\n")
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	buf.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(body)
	return buf.Bytes()
}

// encodeHeader applies RFC 2047 base64 encoding when s is not plain ASCII.
func encodeHeader(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] > 127 {
			return "=?UTF-8?B?" + base64.StdEncoding.EncodeToString([]byte(s)) + "?="
		}
	}
	return s
}

// netDialer opens real SMTP sessions, with implicit TLS on port 465.
type netDialer struct {
	timeout    time.Duration
	implicit   bool
	serverName string
}

func (d *netDialer) DialContext(ctx context.Context, addr string) (SMTPClient, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid SMTP address %q: %w", addr, err)
	}
	if d.serverName != "" {
		host = d.serverName
	}

	dialer := &net.Dialer{Timeout: d.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if d.implicit {
		conn = tls.Client(conn, &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12})
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return smtpClient{c}, nil
}

// smtpClient adapts *smtp.Client, whose Data returns a concrete writer type.
type smtpClient struct {
	*smtp.Client
}

func (c smtpClient) Data() (io.WriteCloser, error) {
	return c.Client.Data()
}
