package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"talentmail/internal/utils/logger"
)

const implicitTLSPort = 465

// SMTPClient is the outgoing variant. A connected client holds one session
// and serialises sends over it.
type SMTPClient struct {
	creds Credentials
	opts  Options
	log   *logger.Logger

	mu   sync.Mutex
	conn *smtp.Client
}

func NewSMTPClient(creds Credentials, opts Options) *SMTPClient {
	return &SMTPClient{
		creds: creds,
		opts:  opts,
		log:   opts.logger("SMTP"),
	}
}

func (c *SMTPClient) Kind() Kind { return KindSMTP }

// Connect dials the server and upgrades with STARTTLS when the server offers
// it; port 465 uses implicit TLS. Dialing and the handshake are bounded by
// ctx and by Options.Timeout, which also becomes the per-command timeout.
func (c *SMTPClient) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	addr := c.creds.addr()
	timeout := c.opts.timeout()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		conn *smtp.Client
		err  error
	)
	if c.creds.Port == implicitTLSPort {
		conn, err = c.handshake(ctx, addr, func(raw net.Conn) (*smtp.Client, error) {
			return smtp.NewClient(tls.Client(raw, c.opts.tlsConfig(c.creds.Host))), nil
		})
	} else {
		conn, err = c.handshake(ctx, addr, func(raw net.Conn) (*smtp.Client, error) {
			return smtp.NewClientStartTLS(raw, c.opts.tlsConfig(c.creds.Host))
		})
		if err != nil && isNoStartTLS(err) {
			c.log.Warn("%s does not offer STARTTLS, continuing without encryption", addr)
			conn, err = c.handshake(ctx, addr, func(raw net.Conn) (*smtp.Client, error) {
				return smtp.NewClient(raw), nil
			})
		}
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%v: %w", err, ctxErr)
		}
		return fmt.Errorf("%w: connect %s: %w", ErrTransportUnavailable, addr, err)
	}

	conn.CommandTimeout = timeout
	c.conn = conn
	c.log.Debug("connected to %s", addr)
	return nil
}

// handshake dials addr and runs the greeting and EHLO. The raw connection is
// closed as soon as ctx ends so a silent server cannot stall the caller.
func (c *SMTPClient) handshake(ctx context.Context, addr string, open func(net.Conn) (*smtp.Client, error)) (*smtp.Client, error) {
	dialer := &net.Dialer{Timeout: c.opts.timeout()}
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { raw.Close() })
	defer stop()

	conn, err := open(raw)
	if err != nil {
		raw.Close()
		return nil, err
	}
	if err := conn.Hello("localhost"); err != nil {
		conn.Close()
		return nil, err
	}
	if !stop() {
		conn.Close()
		return nil, ctx.Err()
	}
	return conn, nil
}

// isNoStartTLS reports the client-side refusal go-smtp returns when the
// server's EHLO lacks STARTTLS
func isNoStartTLS(err error) bool {
	var smtpErr *smtp.SMTPError
	return !errors.As(err, &smtpErr) && strings.Contains(err.Error(), "doesn't support STARTTLS")
}

// Authenticate logs in with AUTH PLAIN
func (c *SMTPClient) Authenticate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}

	auth := sasl.NewPlainClient("", c.creds.Email, c.creds.Password)
	if err := c.conn.Auth(auth); err != nil {
		var smtpErr *smtp.SMTPError
		if errors.As(err, &smtpErr) {
			return fmt.Errorf("%w: %s: %v", ErrInvalidCredentials, c.creds.Email, err)
		}
		return fmt.Errorf("%w: auth: %v", ErrTransportUnavailable, err)
	}
	return nil
}

// Send delivers a minimal plain text message to a single recipient
func (c *SMTPClient) Send(ctx context.Context, to, subject, body string) error {
	_, err := c.SendMessage(ctx, Message{
		From:    c.creds.Email,
		To:      to,
		Subject: subject,
		Text:    body,
	})
	return err
}

// SendMessage delivers msg with a single sendmail call on the open session
func (c *SMTPClient) SendMessage(ctx context.Context, msg Message) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, ErrNotConnected
	}

	messageID := newMessageID(msg.From)
	raw, err := buildMessage(msg, messageID, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to build message: %w", err)
	}

	if err := c.conn.SendMail(c.creds.Email, []string{msg.To}, bytes.NewReader(raw)); err != nil {
		if resetErr := c.conn.Reset(); resetErr != nil {
			c.log.Warn("failed to reset session after send error: %v", resetErr)
		}
		return nil, fmt.Errorf("failed to send to %s: %w", msg.To, err)
	}

	return &Receipt{MessageID: messageID}, nil
}

// Close quits the session, dropping the connection if QUIT fails
func (c *SMTPClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	conn := c.conn
	c.conn = nil
	if err := conn.Quit(); err != nil {
		return conn.Close()
	}
	return nil
}

// SendOnce runs the whole connect, STARTTLS, login and send exchange for one
// message. The connection is always closed, including when login or the send
// fails.
func SendOnce(ctx context.Context, creds Credentials, opts Options, to, subject, body string) error {
	client := NewSMTPClient(creds, opts)
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer func() {
		if err := client.Close(); err != nil {
			client.log.Warn("failed to close session with %s: %v", creds.Host, err)
		}
	}()

	if err := client.Authenticate(ctx); err != nil {
		return err
	}
	return client.Send(ctx, to, subject, body)
}
