package transport

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"io"
	"math/big"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	mailUser     = "jobs@example.com"
	mailPassword = "app-password"
	rejectedRcpt = "blocked@example.com"
)

type receivedMail struct {
	from string
	to   []string
	data string
	tls  bool
}

// mailServer is an in-process SMTP server that accepts PLAIN logins for one
// mailbox and records everything delivered to it
type mailServer struct {
	mu       sync.Mutex
	mail     []receivedMail
	sessions int
	logouts  int
}

func (s *mailServer) received() []receivedMail {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]receivedMail(nil), s.mail...)
}

// open reports whether a session is still alive on the server side
func (s *mailServer) open() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions > s.logouts
}

type mailSession struct {
	server  *mailServer
	tls     bool
	current receivedMail
}

func (m *mailSession) AuthMechanisms() []string { return []string{sasl.Plain} }

func (m *mailSession) Auth(mech string) (sasl.Server, error) {
	return sasl.NewPlainServer(func(identity, username, password string) error {
		if username != mailUser || password != mailPassword {
			return errors.New("invalid username or password")
		}
		return nil
	}), nil
}

func (m *mailSession) Mail(from string, opts *smtp.MailOptions) error {
	m.current = receivedMail{from: from, tls: m.tls}
	return nil
}

func (m *mailSession) Rcpt(to string, opts *smtp.RcptOptions) error {
	if to == rejectedRcpt {
		return &smtp.SMTPError{Code: 550, EnhancedCode: smtp.EnhancedCode{5, 1, 1}, Message: "mailbox unavailable"}
	}
	m.current.to = append(m.current.to, to)
	return nil
}

func (m *mailSession) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.current.data = string(data)
	m.server.mu.Lock()
	m.server.mail = append(m.server.mail, m.current)
	m.server.mu.Unlock()
	return nil
}

func (m *mailSession) Reset() { m.current = receivedMail{} }

func (m *mailSession) Logout() error {
	m.server.mu.Lock()
	m.server.logouts++
	m.server.mu.Unlock()
	return nil
}

// startMailServer serves SMTP on a loopback port; STARTTLS is offered only
// when tlsConfig is set
func startMailServer(t *testing.T, tlsConfig *tls.Config) (*mailServer, Credentials) {
	t.Helper()
	ms := &mailServer{}

	srv := smtp.NewServer(smtp.BackendFunc(func(c *smtp.Conn) (smtp.Session, error) {
		_, isTLS := c.TLSConnectionState()
		ms.mu.Lock()
		ms.sessions++
		ms.mu.Unlock()
		return &mailSession{server: ms, tls: isTLS}, nil
	}))
	srv.Domain = "localhost"
	srv.AllowInsecureAuth = true
	srv.TLSConfig = tlsConfig

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve(l)
	t.Cleanup(func() { srv.Close() })

	return ms, Credentials{
		Host:     "127.0.0.1",
		Port:     l.Addr().(*net.TCPAddr).Port,
		Email:    mailUser,
		Password: mailPassword,
	}
}

// selfSignedTLS returns a server config for 127.0.0.1 and a client config
// that trusts it
func selfSignedTLS(t *testing.T) (server, client *tls.Config) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "127.0.0.1"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	pool := x509.NewCertPool()
	pool.AddCert(cert)
	server = &tls.Config{Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key}}}
	client = &tls.Config{RootCAs: pool, ServerName: "127.0.0.1"}
	return server, client
}

func TestSMTPSendMessage(t *testing.T) {
	ms, creds := startMailServer(t, nil)
	ctx := context.Background()

	c := NewSMTPClient(creds, Options{Timeout: 5 * time.Second})
	require.NoError(t, c.Connect(ctx))
	require.NoError(t, c.Authenticate(ctx))

	receipt, err := c.SendMessage(ctx, Message{
		From:    "Recruiter <jobs@example.com>",
		To:      "jane@example.com",
		Subject: "Backend role",
		Text:    "Hi Jane, are you open to a chat?",
		HTML:    "<p>Hi Jane, are you open to a chat?</p>",
	})
	require.NoError(t, err)
	assert.Contains(t, receipt.MessageID, "@example.com>")
	require.NoError(t, c.Close())

	mail := ms.received()
	require.Len(t, mail, 1)
	assert.Equal(t, mailUser, mail[0].from)
	assert.Equal(t, []string{"jane@example.com"}, mail[0].to)
	assert.False(t, mail[0].tls)
	assert.Contains(t, mail[0].data, "Subject: Backend role")
	assert.Contains(t, mail[0].data, "Message-Id: "+receipt.MessageID)
	assert.Contains(t, mail[0].data, "Content-Transfer-Encoding: quoted-printable")
	assert.Contains(t, mail[0].data, "<p>Hi Jane, are you open to a chat?</p>")

	assert.Eventually(t, func() bool { return !ms.open() }, 2*time.Second, 10*time.Millisecond)
}

func TestSMTPStartTLS(t *testing.T) {
	serverTLS, clientTLS := selfSignedTLS(t)
	ms, creds := startMailServer(t, serverTLS)
	ctx := context.Background()

	c := NewSMTPClient(creds, Options{TLSConfig: clientTLS, Timeout: 5 * time.Second})
	require.NoError(t, c.Connect(ctx))
	require.NoError(t, c.Authenticate(ctx))
	require.NoError(t, c.Send(ctx, "jane@example.com", "Backend role", "Hi Jane"))
	require.NoError(t, c.Close())

	mail := ms.received()
	require.Len(t, mail, 1)
	assert.True(t, mail[0].tls)
}

func TestSMTPStartTLSUntrustedCertificate(t *testing.T) {
	serverTLS, _ := selfSignedTLS(t)
	_, creds := startMailServer(t, serverTLS)

	c := NewSMTPClient(creds, Options{Timeout: 5 * time.Second})
	err := c.Connect(context.Background())
	assert.ErrorIs(t, err, ErrTransportUnavailable)
}

func TestSMTPAuthenticateRejected(t *testing.T) {
	_, creds := startMailServer(t, nil)
	creds.Password = "wrong"
	ctx := context.Background()

	c := NewSMTPClient(creds, Options{Timeout: 5 * time.Second})
	require.NoError(t, c.Connect(ctx))
	defer c.Close()

	err := c.Authenticate(ctx)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.NotErrorIs(t, err, ErrTransportUnavailable)
}

func TestSMTPRejectedRecipientKeepsSession(t *testing.T) {
	ms, creds := startMailServer(t, nil)
	ctx := context.Background()

	c := NewSMTPClient(creds, Options{Timeout: 5 * time.Second})
	require.NoError(t, c.Connect(ctx))
	defer c.Close()
	require.NoError(t, c.Authenticate(ctx))

	assert.Error(t, c.Send(ctx, rejectedRcpt, "Hello", "Hi"))
	require.NoError(t, c.Send(ctx, "jane@example.com", "Hello", "Hi"))
	assert.Len(t, ms.received(), 1)
}

func TestSendOnce(t *testing.T) {
	ms, creds := startMailServer(t, nil)

	err := SendOnce(context.Background(), creds, Options{Timeout: 5 * time.Second}, "jane@example.com", "Welcome", "Glad to have you")
	require.NoError(t, err)

	mail := ms.received()
	require.Len(t, mail, 1)
	assert.Equal(t, []string{"jane@example.com"}, mail[0].to)
	assert.Contains(t, mail[0].data, "Glad to have you")
	assert.Eventually(t, func() bool { return !ms.open() }, 2*time.Second, 10*time.Millisecond)
}

func TestSendOnceClosesAfterFailedLogin(t *testing.T) {
	ms, creds := startMailServer(t, nil)
	creds.Password = "wrong"

	err := SendOnce(context.Background(), creds, Options{Timeout: 5 * time.Second}, "jane@example.com", "Welcome", "Hi")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Empty(t, ms.received())
	assert.Eventually(t, func() bool { return !ms.open() }, 2*time.Second, 10*time.Millisecond)
}

func TestSendOnceClosesAfterFailedSend(t *testing.T) {
	ms, creds := startMailServer(t, nil)

	err := SendOnce(context.Background(), creds, Options{Timeout: 5 * time.Second}, rejectedRcpt, "Welcome", "Hi")
	var smtpErr *smtp.SMTPError
	require.ErrorAs(t, err, &smtpErr)
	assert.Equal(t, 550, smtpErr.Code)
	assert.Empty(t, ms.received())
	assert.Eventually(t, func() bool { return !ms.open() }, 2*time.Second, 10*time.Millisecond)
}

// silentListener accepts connections and never writes a greeting
func silentListener(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		conns []net.Conn
	)
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		l.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, conn := range conns {
			conn.Close()
		}
	})
	return l.Addr().(*net.TCPAddr).Port
}

func TestSMTPConnectHonoursContextDeadline(t *testing.T) {
	creds := Credentials{Host: "127.0.0.1", Port: silentListener(t), Email: mailUser, Password: mailPassword}
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := NewSMTPClient(creds, Options{}).Connect(ctx)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.ErrorIs(t, err, ErrTransportUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSMTPConnectHonoursTimeoutOption(t *testing.T) {
	creds := Credentials{Host: "127.0.0.1", Port: silentListener(t), Email: mailUser, Password: mailPassword}

	start := time.Now()
	err := NewSMTPClient(creds, Options{Timeout: 300 * time.Millisecond}).Connect(context.Background())
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.ErrorIs(t, err, ErrTransportUnavailable)
}

func TestIMAPConnectHonoursTimeoutOption(t *testing.T) {
	creds := Credentials{Host: "127.0.0.1", Port: silentListener(t), Email: mailUser, Password: mailPassword}

	start := time.Now()
	err := NewIMAPClient(creds, Options{Timeout: 300 * time.Millisecond}).Connect(context.Background())
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.ErrorIs(t, err, ErrTransportUnavailable)
}
