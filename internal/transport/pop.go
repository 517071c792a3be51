package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/knadh/go-pop3"

	"talentmail/internal/utils/logger"
)

const implicitPOP3TLSPort = 995

// POPClient is the incoming variant for POP3 mailboxes. It authenticates but
// does not import: POP has no server-side search, so candidate replies cannot
// be selected without downloading the whole maildrop.
type POPClient struct {
	creds Credentials
	opts  Options
	log   *logger.Logger

	mu   sync.Mutex
	conn *pop3.Conn
}

func NewPOPClient(creds Credentials, opts Options) *POPClient {
	return &POPClient{
		creds: creds,
		opts:  opts,
		log:   opts.logger("POP"),
	}
}

func (c *POPClient) Kind() Kind { return KindPOP }

func (c *POPClient) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	p := pop3.New(pop3.Opt{
		Host:        c.creds.Host,
		Port:        c.creds.Port,
		TLSEnabled:  c.creds.Port == implicitPOP3TLSPort,
		DialTimeout: c.opts.timeout(),
	})
	conn, err := p.NewConn()
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", ErrTransportUnavailable, c.creds.addr(), err)
	}
	c.conn = conn
	return nil
}

func (c *POPClient) Authenticate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}
	if err := c.conn.Auth(c.creds.Email, c.creds.Password); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidCredentials, c.creds.Email, err)
	}
	return nil
}

// Import is a no-op for POP mailboxes
func (c *POPClient) Import(ctx context.Context, candidateID, candidateEmail string) (int, error) {
	c.log.Debug("pop import skipped for candidate %s", candidateID)
	return 0, nil
}

func (c *POPClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	conn := c.conn
	c.conn = nil
	return conn.Quit()
}
