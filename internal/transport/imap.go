package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-sasl"
	"github.com/google/uuid"

	"talentmail/internal/models"
	"talentmail/internal/utils"
	"talentmail/internal/utils/logger"
)

const inbox = "INBOX"

// imapSession is the part of *client.Client the importer uses
type imapSession interface {
	Authenticate(auth sasl.Client) error
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	Search(criteria *imap.SearchCriteria) ([]uint32, error)
	Fetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	Logout() error
}

type imapDialer func(ctx context.Context, addr string, tlsConfig *tls.Config, timeout time.Duration) (imapSession, error)

// dialIMAP opens an implicit TLS session. The greeting must arrive before
// ctx's deadline or timeout, and timeout then bounds every command.
func dialIMAP(ctx context.Context, addr string, tlsConfig *tls.Config, timeout time.Duration) (imapSession, error) {
	c, err := client.DialWithDialerTLS(contextDialer{ctx: ctx, timeout: timeout}, addr, tlsConfig)
	if err != nil {
		return nil, err
	}
	c.Timeout = timeout
	return c, nil
}

// contextDialer dials with ctx and puts a deadline on the new connection so
// the TLS handshake and greeting cannot hang.
type contextDialer struct {
	ctx     context.Context
	timeout time.Duration
}

func (d contextDialer) Dial(network, addr string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: d.timeout}
	conn, err := dialer.DialContext(d.ctx, network, addr)
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(d.timeout)
	if ctxDeadline, ok := d.ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// IMAPClient is the incoming variant that imports candidate replies
type IMAPClient struct {
	creds Credentials
	opts  Options
	log   *logger.Logger
	dial  imapDialer

	mu       sync.Mutex
	session  imapSession
	selected bool
}

func NewIMAPClient(creds Credentials, opts Options) *IMAPClient {
	return &IMAPClient{
		creds: creds,
		opts:  opts,
		log:   opts.logger("IMAP"),
		dial:  dialIMAP,
	}
}

func (c *IMAPClient) Kind() Kind { return KindIMAP }

func (c *IMAPClient) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	session, err := c.dial(ctx, c.creds.addr(), c.opts.tlsConfig(c.creds.Host), c.opts.timeout())
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", ErrTransportUnavailable, c.creds.addr(), err)
	}
	c.session = session
	return nil
}

func (c *IMAPClient) Authenticate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return ErrNotConnected
	}
	if err := c.session.Authenticate(sasl.NewPlainClient("", c.creds.Email, c.creds.Password)); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidCredentials, c.creds.Email, err)
	}
	return nil
}

// Import stores every inbox message sent from candidateEmail as a conversation
// and returns how many new conversations were created
func (c *IMAPClient) Import(ctx context.Context, candidateID, candidateEmail string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return 0, ErrNotConnected
	}
	if c.opts.Sink == nil {
		return 0, errors.New("imap import has no conversation sink")
	}

	if !c.selected {
		if _, err := c.session.Select(inbox, true); err != nil {
			return 0, fmt.Errorf("%w: select %s: %v", ErrTransportUnavailable, inbox, err)
		}
		c.selected = true
	}

	criteria := imap.NewSearchCriteria()
	criteria.Header.Add("FROM", candidateEmail)
	seqNums, err := c.session.Search(criteria)
	if err != nil {
		return 0, fmt.Errorf("%w: search: %v", ErrTransportUnavailable, err)
	}
	if len(seqNums) == 0 {
		return 0, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(seqNums...)

	messages := make(chan *imap.Message, len(seqNums))
	done := make(chan error, 1)
	go func() {
		done <- c.session.Fetch(seqset, []imap.FetchItem{imap.FetchRFC822}, messages)
	}()

	created := 0
	for msg := range messages {
		raw, err := messageBytes(msg)
		if err != nil {
			c.log.Warn("skipping message %d: %v", msg.SeqNum, err)
			continue
		}
		ok, err := c.store(ctx, candidateID, raw)
		if err != nil {
			c.log.Warn("failed to store message %d for %s: %v", msg.SeqNum, candidateEmail, err)
			continue
		}
		if ok {
			created++
		}
	}

	if err := <-done; err != nil {
		return created, fmt.Errorf("%w: fetch: %v", ErrTransportUnavailable, err)
	}
	return created, nil
}

func (c *IMAPClient) store(ctx context.Context, candidateID string, raw []byte) (bool, error) {
	parsed, err := utils.ParseEmail(bytes.NewReader(raw))
	if err != nil {
		return false, err
	}

	received := parsed.Date
	if received.IsZero() {
		received = time.Now().UTC()
	}

	conversation := &models.Conversation{
		UserID:        c.opts.OwnerID,
		CandidateID:   candidateID,
		CredentialsID: c.opts.CredentialsID,
		Mailbox:       inbox,
		Subject:       parsed.Subject,
		Body:          strings.TrimSpace(parsed.BodyText),
		ReceivedAt:    received,
	}

	if c.opts.Archiver != nil {
		conversation.ID = uuid.NewString()
		conversation.ArchiveKey = fmt.Sprintf("conversations/%s/%s/%s.eml",
			c.opts.OwnerID, received.Format("2006/01/02"), conversation.ID)
	}

	created, err := c.opts.Sink.SaveConversation(ctx, conversation)
	if err != nil || !created {
		return created, err
	}
	c.log.Debug("stored conversation from %s: %q", utils.FormatAddresses(parsed.From), parsed.Subject)

	if conversation.ArchiveKey != "" {
		if err := c.opts.Archiver.Archive(ctx, conversation.ArchiveKey, raw); err != nil {
			c.log.Warn("failed to archive conversation %s: %v", conversation.ID, err)
		}
	}
	return true, nil
}

// Close logs out of the mailbox
func (c *IMAPClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return nil
	}
	session := c.session
	c.session = nil
	c.selected = false
	return session.Logout()
}

func messageBytes(msg *imap.Message) ([]byte, error) {
	for _, literal := range msg.Body {
		if literal == nil {
			continue
		}
		return io.ReadAll(literal)
	}
	return nil, errors.New("message has no body")
}
