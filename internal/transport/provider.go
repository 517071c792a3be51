package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"
)

// Message is a fully rendered outgoing email
type Message struct {
	From    string
	To      string
	ReplyTo string
	Subject string
	HTML    string
	Text    string
}

// Receipt identifies an accepted message at the provider
type Receipt struct {
	MessageID string
	RequestID string
}

// Provider delivers rendered messages through a sending identity
type Provider interface {
	SendEmail(ctx context.Context, msg Message) (*Receipt, error)
}

// SMTPProvider sends through an authenticated user SMTP session
type SMTPProvider struct {
	client *SMTPClient
}

func NewSMTPProvider(client *SMTPClient) *SMTPProvider {
	return &SMTPProvider{client: client}
}

func (p *SMTPProvider) SendEmail(ctx context.Context, msg Message) (*Receipt, error) {
	if msg.From == "" {
		msg.From = p.client.creds.Email
	}
	return p.client.SendMessage(ctx, msg)
}

// buildMessage renders msg as RFC 5322 with quoted-printable text parts,
// using multipart/alternative when both bodies are present
func buildMessage(msg Message, messageID string, now time.Time) ([]byte, error) {
	var h mail.Header
	setAddress(&h, "From", msg.From)
	setAddress(&h, "To", msg.To)
	setAddress(&h, "Reply-To", msg.ReplyTo)
	h.SetSubject(msg.Subject)
	h.SetDate(now)
	h.Set("Message-Id", messageID)

	var buf bytes.Buffer
	if msg.HTML != "" && msg.Text != "" {
		w, err := mail.CreateInlineWriter(&buf, h)
		if err != nil {
			return nil, err
		}
		if err := writePart(w, "text/plain", msg.Text); err != nil {
			return nil, err
		}
		if err := writePart(w, "text/html", msg.HTML); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	body, ctype := msg.Text, "text/plain"
	if msg.HTML != "" {
		body, ctype = msg.HTML, "text/html"
	}
	h.SetContentType(ctype, map[string]string{"charset": "UTF-8"})
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(w, body); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writePart(w *mail.InlineWriter, ctype, body string) error {
	var h mail.InlineHeader
	h.SetContentType(ctype, map[string]string{"charset": "UTF-8"})
	pw, err := w.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(pw, body); err != nil {
		return err
	}
	return pw.Close()
}

// setAddress formats a parsable address list and keeps anything else verbatim
func setAddress(h *mail.Header, key, value string) {
	if value == "" {
		return
	}
	addrs, err := mail.ParseAddressList(value)
	if err != nil {
		h.Set(key, value)
		return
	}
	h.SetAddressList(key, addrs)
}

// newMessageID returns a Message-ID in the sender's domain
func newMessageID(from string) string {
	domain := "localhost"
	if addr, err := mail.ParseAddress(from); err == nil {
		if at := strings.LastIndex(addr.Address, "@"); at >= 0 {
			domain = addr.Address[at+1:]
		}
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
}
