package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"
)

const dialTimeout = 10 * time.Second

// SMTPNotifier sends mail over SMTP with STARTTLS, matching the mailbox
// account the compliance program operates from.
type SMTPNotifier struct {
	host     string
	port     string
	username string
	password string
	from     string
}

// NewSMTPNotifier builds a notifier from SMTP settings. An empty host or
// sender address yields a notifier whose sends fail fast; that is a valid
// deployment for demo environments without outbound mail.
func NewSMTPNotifier(host, port, username, password, from string) *SMTPNotifier {
	if port == "" {
		port = "587"
	}
	return &SMTPNotifier{
		host:     strings.TrimSpace(host),
		port:     strings.TrimSpace(port),
		username: strings.TrimSpace(username),
		password: password,
		from:     strings.TrimSpace(from),
	}
}

// Send delivers one message. Any configuration or transport problem surfaces
// as an error for the caller to downgrade into a delivery status.
func (s *SMTPNotifier) Send(ctx context.Context, to, subject, htmlBody string, attachments []Attachment) error {
	if s.host == "" || s.from == "" {
		return errors.New("smtp notifier not configured")
	}
	if strings.TrimSpace(to) == "" {
		return errors.New("recipient is required")
	}

	msg, err := buildMessage(s.from, to, subject, htmlBody, attachments)
	if err != nil {
		return fmt.Errorf("build message: %w", err)
	}

	client, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Mail(s.from); err != nil {
		return fmt.Errorf("smtp mail: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("smtp rcpt: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close: %w", err)
	}
	return client.Quit()
}

// ConnectionOK reports whether the configured account is reachable and
// accepts authentication.
func (s *SMTPNotifier) ConnectionOK(ctx context.Context) bool {
	if s.host == "" {
		return false
	}
	client, err := s.connect(ctx)
	if err != nil {
		return false
	}
	defer client.Close()
	return client.Quit() == nil
}

func (s *SMTPNotifier) connect(ctx context.Context) (*smtp.Client, error) {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(s.host, s.port))
	if err != nil {
		return nil, fmt.Errorf("smtp dial: %w", err)
	}
	client, err := smtp.NewClient(conn, s.host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("smtp handshake: %w", err)
	}
	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: s.host}); err != nil {
			client.Close()
			return nil, fmt.Errorf("smtp starttls: %w", err)
		}
	}
	if s.username != "" {
		auth := smtp.PlainAuth("", s.username, s.password, s.host)
		if err := client.Auth(auth); err != nil {
			client.Close()
			return nil, fmt.Errorf("smtp auth: %w", err)
		}
	}
	return client, nil
}

func buildMessage(from, to, subject, htmlBody string, attachments []Attachment) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", subject)
	buf.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", mw.Boundary())

	htmlHeader := textproto.MIMEHeader{}
	htmlHeader.Set("Content-Type", "text/html; charset=utf-8")
	part, err := mw.CreatePart(htmlHeader)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write([]byte(htmlBody)); err != nil {
		return nil, err
	}

	for _, att := range attachments {
		header := textproto.MIMEHeader{}
		header.Set("Content-Type", "application/pdf")
		header.Set("Content-Transfer-Encoding", "base64")
		header.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", att.Filename))
		part, err := mw.CreatePart(header)
		if err != nil {
			return nil, err
		}
		encoded := base64.StdEncoding.EncodeToString(att.Content)
		if _, err := part.Write([]byte(encoded)); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
