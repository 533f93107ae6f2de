package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/pulsewatch/pulsewatch/internal/config"
)

// emailNotifier delivers rendered alerts over SMTP. use_tls selects an
// implicit-TLS connection (port 465 style); otherwise STARTTLS is negotiated
// when the server offers it.
type emailNotifier struct {
	spec *config.NotifierSpec
}

func (e *emailNotifier) Name() string { return e.spec.Name }
func (e *emailNotifier) Kind() string { return e.spec.Kind }

func (e *emailNotifier) Send(ctx context.Context, subject, body string) error {
	addr := net.JoinHostPort(e.spec.SMTPHost, strconv.Itoa(e.spec.SMTPPort))

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("smtp dial: %w", err)
	}
	// net/smtp has no context support of its own; the connection deadline
	// bounds every subsequent command in the transcript.
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if e.spec.UseTLS {
		conn = tls.Client(conn, &tls.Config{ServerName: e.spec.SMTPHost})
	}

	client, err := smtp.NewClient(conn, e.spec.SMTPHost)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	if !e.spec.UseTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: e.spec.SMTPHost}); err != nil {
				return fmt.Errorf("smtp starttls: %w", err)
			}
		}
	}

	if e.spec.Username != "" {
		auth := smtp.PlainAuth("", e.spec.Username, e.spec.Password(), e.spec.SMTPHost)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := client.Mail(e.spec.From); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	for _, rcpt := range append(append([]string{}, e.spec.To...), e.spec.CC...) {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp rcpt %q: %w", rcpt, err)
		}
	}

	wc, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := wc.Write([]byte(e.buildMessage(subject, body))); err != nil {
		wc.Close()
		return fmt.Errorf("smtp write body: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("smtp close body: %w", err)
	}

	return client.Quit()
}

// buildMessage assembles the RFC 5322 message text.
func (e *emailNotifier) buildMessage(subject, body string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", e.spec.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(e.spec.To, ", "))
	if len(e.spec.CC) > 0 {
		fmt.Fprintf(&b, "Cc: %s\r\n", strings.Join(e.spec.CC, ", "))
	}
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return b.String()
}
