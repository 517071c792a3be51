// Package transport talks to mail servers: SMTP for outgoing mail, IMAP and
// POP for importing replies, and the platform provider for campaign sends.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"talentmail/internal/models"
	"talentmail/internal/utils/logger"
)

var (
	// ErrUnknownTransport is returned when a host cannot be classified
	ErrUnknownTransport = errors.New("unknown mail transport")
	// ErrTransportUnavailable wraps network and protocol failures
	ErrTransportUnavailable = errors.New("mail transport unavailable")
	// ErrInvalidCredentials wraps authentication rejections
	ErrInvalidCredentials = errors.New("invalid mail credentials")
	// ErrNotConnected is returned when an operation runs before Connect
	ErrNotConnected = errors.New("mail transport not connected")
	// ErrWrongDirection is returned when incoming credentials are used to send, or the reverse
	ErrWrongDirection = errors.New("mail transport has the wrong direction")
)

const defaultTimeout = 30 * time.Second

// Kind tags the three supported client variants
type Kind int

const (
	KindSMTP Kind = iota + 1
	KindIMAP
	KindPOP
)

func (k Kind) String() string {
	switch k {
	case KindSMTP:
		return "smtp"
	case KindIMAP:
		return "imap"
	case KindPOP:
		return "pop"
	}
	return "unknown"
}

// Classify picks the client variant for a host by substring match
func Classify(host string) (Kind, error) {
	h := strings.ToLower(host)
	switch {
	case strings.Contains(h, "smtp"):
		return KindSMTP, nil
	case strings.Contains(h, "imap"):
		return KindIMAP, nil
	case strings.Contains(h, "pop"):
		return KindPOP, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownTransport, host)
}

// IsOutgoing reports whether credentials for host can be used to send mail
func IsOutgoing(host string) bool {
	return strings.Contains(strings.ToLower(host), "smtp")
}

// Credentials are the plaintext account details a client connects with
type Credentials struct {
	Host     string
	Port     int
	Email    string
	Password string
}

func (c Credentials) addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Client is the behaviour shared by every variant
type Client interface {
	Kind() Kind
	Connect(ctx context.Context) error
	Authenticate(ctx context.Context) error
	Close() error
}

// Sender is an outgoing client
type Sender interface {
	Client
	Send(ctx context.Context, to, subject, body string) error
}

// Importer is an incoming client
type Importer interface {
	Client
	Import(ctx context.Context, candidateID, candidateEmail string) (int, error)
}

// ConversationSink persists imported messages. created is false when the
// conversation already existed.
type ConversationSink interface {
	SaveConversation(ctx context.Context, conversation *models.Conversation) (created bool, err error)
}

// Archiver stores raw inbound messages
type Archiver interface {
	Archive(ctx context.Context, key string, raw []byte) error
}

// Options carries what a client needs beyond the credentials themselves
type Options struct {
	// OwnerID and CredentialsID stamp imported conversations
	OwnerID       string
	CredentialsID string
	Sink          ConversationSink
	Archiver      Archiver
	TLSConfig     *tls.Config
	Timeout       time.Duration
	Logger        *logger.Logger
}

func (o Options) tlsConfig(host string) *tls.Config {
	if o.TLSConfig != nil {
		return o.TLSConfig
	}
	return &tls.Config{ServerName: host}
}

func (o Options) timeout() time.Duration {
	if o.Timeout > 0 {
		return o.Timeout
	}
	return defaultTimeout
}

func (o Options) logger(tag string) *logger.Logger {
	if o.Logger != nil {
		return o.Logger.With(tag)
	}
	return logger.New(tag)
}

// New returns the client variant the credentials' host classifies as
func New(creds Credentials, opts Options) (Client, error) {
	kind, err := Classify(creds.Host)
	if err != nil {
		return nil, err
	}
	switch kind {
	case KindSMTP:
		return NewSMTPClient(creds, opts), nil
	case KindIMAP:
		return NewIMAPClient(creds, opts), nil
	default:
		return NewPOPClient(creds, opts), nil
	}
}

// Verify connects and authenticates once, then closes
func Verify(ctx context.Context, creds Credentials, opts Options) error {
	client, err := New(creds, opts)
	if err != nil {
		return err
	}
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Close()
	return client.Authenticate(ctx)
}
