package services

import (
	"context"
	"fmt"
	"strings"

	"talentmail/internal/models"
	"talentmail/internal/repository"
	"talentmail/internal/transport"
	"talentmail/internal/utils/crypto"
	"talentmail/internal/utils/logger"
)

// VerifyFunc connects and authenticates with a set of credentials
type VerifyFunc func(ctx context.Context, creds transport.Credentials, opts transport.Options) error

// SendOnceFunc delivers one plain text message over a fresh SMTP session
type SendOnceFunc func(ctx context.Context, creds transport.Credentials, opts transport.Options, to, subject, body string) error

const (
	testMailSubject = "Talentmail test message"
	testMailBody    = "Your outgoing mailbox is connected and can send campaign mail."
)

// SendTestRequest picks the address a test message goes to; empty means the mailbox itself
type SendTestRequest struct {
	To string `json:"to" validate:"omitempty,email"`
}

// CreateCredentialsRequest is a user's mailbox account as submitted
type CreateCredentialsRequest struct {
	Name     string `json:"name"`
	Host     string `json:"host" validate:"required,hostname"`
	Port     int    `json:"port" validate:"required,min=1,max=65535"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// CredentialService stores user mailbox credentials with sealed passwords
type CredentialService struct {
	store  *repository.Store
	sealer *crypto.Sealer
	verify VerifyFunc
	send   SendOnceFunc
	log    *logger.Logger
}

func NewCredentialService(store *repository.Store, sealer *crypto.Sealer) *CredentialService {
	return &CredentialService{
		store:  store,
		sealer: sealer,
		verify: transport.Verify,
		send:   transport.SendOnce,
		log:    logger.New("CREDENTIALS"),
	}
}

// Create classifies the host, proves the credentials work and stores them
func (s *CredentialService) Create(ctx context.Context, userID string, req CreateCredentialsRequest) (*models.EmailClientCredentials, error) {
	host := strings.ToLower(strings.TrimSpace(req.Host))
	if _, err := transport.Classify(host); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidUsage, err)
	}

	creds := transport.Credentials{Host: host, Port: req.Port, Email: req.Email, Password: req.Password}
	if err := s.verify(ctx, creds, transport.Options{Logger: s.log}); err != nil {
		return nil, err
	}

	sealed, err := s.sealer.Seal(req.Password)
	if err != nil {
		return nil, err
	}

	record := &models.EmailClientCredentials{
		UserID:   userID,
		Name:     req.Name,
		Host:     host,
		Port:     req.Port,
		Email:    req.Email,
		Password: sealed,
	}
	if err := s.store.CreateCredentials(ctx, record); err != nil {
		return nil, err
	}

	s.log.Success("stored %s credentials %s for user %s", host, record.ID, userID)
	return record, nil
}

// Open loads a credentials record and decrypts its password
func (s *CredentialService) Open(ctx context.Context, id string) (*models.EmailClientCredentials, transport.Credentials, error) {
	record, err := s.store.GetCredentials(ctx, id)
	if err != nil {
		return nil, transport.Credentials{}, notFound("credentials", id, err)
	}
	password, err := s.sealer.Open(record.Password)
	if err != nil {
		return nil, transport.Credentials{}, fmt.Errorf("failed to decrypt credentials %s: %w", id, err)
	}
	return record, transport.Credentials{
		Host:     record.Host,
		Port:     record.Port,
		Email:    record.Email,
		Password: password,
	}, nil
}

func (s *CredentialService) List(ctx context.Context, userID string) ([]models.EmailClientCredentials, error) {
	return s.store.ListUserCredentials(ctx, userID)
}

// SendTest mails a short message through a user's outgoing credentials
func (s *CredentialService) SendTest(ctx context.Context, userID, id string, req SendTestRequest) error {
	record, creds, err := s.Open(ctx, id)
	if err != nil {
		return err
	}
	if record.UserID != userID {
		return fmt.Errorf("%w: credentials %s", ErrNotFound, id)
	}
	if !transport.IsOutgoing(record.Host) {
		return fmt.Errorf("%w: %w: %s cannot send mail", ErrInvalidUsage, transport.ErrWrongDirection, record.Host)
	}

	to := req.To
	if to == "" {
		to = record.Email
	}
	if err := s.send(ctx, creds, transport.Options{Logger: s.log}, to, testMailSubject, testMailBody); err != nil {
		return err
	}
	s.log.Success("✉️ test message sent through %s credentials %s to %s", record.Host, record.ID, to)
	return nil
}
