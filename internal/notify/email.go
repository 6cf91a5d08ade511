package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/mbd888/cryptoguard/internal/account"
	"github.com/mbd888/cryptoguard/internal/alerts"
)

// Message is a rendered email.
type Message struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

// Transport moves a rendered message.
type Transport interface {
	Deliver(ctx context.Context, m Message) error
}

// EmailChannel sends alert emails to the user's address.
type EmailChannel struct {
	from      string
	clientURL string
	transport Transport
}

// NewEmailChannel creates an email channel. clientURL is linked from the
// message body.
func NewEmailChannel(from, clientURL string, transport Transport) *EmailChannel {
	return &EmailChannel{from: from, clientURL: strings.TrimRight(clientURL, "/"), transport: transport}
}

func (e *EmailChannel) Name() string { return ChannelEmail }

func (e *EmailChannel) Configured(u *account.User) bool {
	return e.transport != nil && u != nil && u.Email != ""
}

func (e *EmailChannel) Send(ctx context.Context, u *account.User, a *alerts.Alert) error {
	msg, err := e.Render(u, a)
	if err != nil {
		return err
	}
	return e.transport.Deliver(ctx, msg)
}

// Subject returns the subject line for a, e.g. "[CryptoGuard] HIGH alert for wallet".
func Subject(a *alerts.Alert) string {
	return fmt.Sprintf("[CryptoGuard] %s alert for wallet", strings.ToUpper(string(a.Severity)))
}

var bodyTemplate = template.Must(template.New("alert").Parse(`<h3>Suspicious activity detected</h3>
<p>{{.Detail}}</p>
{{- with .Tx}}
<p>Amount: <strong>{{.Amount}} {{.Currency}}</strong> | Counterparty: {{.Counterparty}}</p>
{{- end}}
<p>Sign in to review: {{.Dashboard}}</p>
`))

// Render builds the message for a without sending it.
func (e *EmailChannel) Render(u *account.User, a *alerts.Alert) (Message, error) {
	var buf bytes.Buffer
	err := bodyTemplate.Execute(&buf, struct {
		*alerts.Alert
		Dashboard string
	}{a, e.clientURL + "/dashboard"})
	if err != nil {
		return Message{}, fmt.Errorf("render alert email: %w", err)
	}
	return Message{From: e.from, To: u.Email, Subject: Subject(a), HTML: buf.String()}, nil
}

// SMTPTransport delivers through an SMTP relay with PLAIN auth.
type SMTPTransport struct {
	Host     string
	Port     int
	Username string
	Password string

	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPTransport creates an SMTP transport.
func NewSMTPTransport(host string, port int, username, password string) *SMTPTransport {
	return &SMTPTransport{Host: host, Port: port, Username: username, Password: password, send: smtp.SendMail}
}

func (t *SMTPTransport) Deliver(ctx context.Context, m Message) error {
	var auth smtp.Auth
	if t.Username != "" {
		auth = smtp.PlainAuth("", t.Username, t.Password, t.Host)
	}
	addr := net.JoinHostPort(t.Host, strconv.Itoa(t.Port))

	// smtp.SendMail has no context; the controller's deadline still bounds
	// how long the cycle waits for it.
	done := make(chan error, 1)
	go func() { done <- t.send(addr, auth, m.From, []string{m.To}, mimeMessage(m)) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func mimeMessage(m Message) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", m.From)
	fmt.Fprintf(&b, "To: %s\r\n", m.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", m.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n\r\n")
	b.WriteString(m.HTML)
	return b.Bytes()
}

// LogTransport writes messages to the logger instead of sending them. Used
// when no SMTP relay is configured.
type LogTransport struct {
	logger *slog.Logger
}

// NewLogTransport creates a transport that logs each message.
func NewLogTransport(logger *slog.Logger) *LogTransport {
	return &LogTransport{logger: logger}
}

func (t *LogTransport) Deliver(ctx context.Context, m Message) error {
	t.logger.InfoContext(ctx, "email (not sent, no smtp relay)",
		"from", m.From, "to", m.To, "subject", m.Subject, "bytes", len(m.HTML))
	return nil
}
