package services

import (
	"context"
	"fmt"

	"talentmail/internal/repository"
	"talentmail/internal/tasks"
	"talentmail/internal/transport"
	"talentmail/internal/utils/logger"
)

// ImportEnqueuer queues one mailbox import per credential
type ImportEnqueuer interface {
	EnqueueConversationImport(ctx context.Context, task tasks.ConversationImportTask) (string, error)
}

// ClientFactory builds a transport client; transport.New in production
type ClientFactory func(creds transport.Credentials, opts transport.Options) (transport.Client, error)

// ConversationImporter copies candidate replies out of users' incoming mailboxes
type ConversationImporter struct {
	store       *repository.Store
	credentials *CredentialService
	enqueuer    ImportEnqueuer
	archiver    transport.Archiver
	newClient   ClientFactory
	log         *logger.Logger
}

// NewConversationImporter wires the importer; archiver may be nil
func NewConversationImporter(store *repository.Store, credentials *CredentialService, enqueuer ImportEnqueuer, archiver transport.Archiver) *ConversationImporter {
	return &ConversationImporter{
		store:       store,
		credentials: credentials,
		enqueuer:    enqueuer,
		archiver:    archiver,
		newClient:   transport.New,
		log:         logger.New("CONVERSATIONS"),
	}
}

// ImportAll queues an independent import for every incoming credential and
// returns how many were queued. One failed enqueue does not stop the rest.
func (s *ConversationImporter) ImportAll(ctx context.Context) (int, error) {
	records, err := s.store.ListCredentials(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list credentials: %w", err)
	}

	queued := 0
	for _, record := range records {
		kind, err := transport.Classify(record.Host)
		if err != nil || kind == transport.KindSMTP {
			continue
		}
		if _, err := s.enqueuer.EnqueueConversationImport(ctx, tasks.ConversationImportTask{CredentialsID: record.ID}); err != nil {
			s.log.Error(fmt.Sprintf("failed to queue import for credentials %s", record.ID), err)
			continue
		}
		queued++
	}

	s.log.Info("📥 Queued %d mailbox imports", queued)
	return queued, nil
}

// ImportCredentials imports every candidate conversation found in one
// mailbox and returns the number of new conversations
func (s *ConversationImporter) ImportCredentials(ctx context.Context, credentialsID string) (int, error) {
	record, creds, err := s.credentials.Open(ctx, credentialsID)
	if err != nil {
		return 0, err
	}
	if transport.IsOutgoing(record.Host) {
		return 0, fmt.Errorf("%w: credentials %s are outgoing", transport.ErrWrongDirection, record.ID)
	}

	owner, err := s.store.GetUser(ctx, record.UserID)
	if err != nil {
		return 0, notFound("user", record.UserID, err)
	}
	addresses, err := s.store.DomainCandidateAddresses(ctx, owner.DomainID)
	if err != nil {
		return 0, fmt.Errorf("failed to load candidates of domain %s: %w", owner.DomainID, err)
	}

	client, err := s.newClient(creds, transport.Options{
		OwnerID:       record.UserID,
		CredentialsID: record.ID,
		Sink:          s.store,
		Archiver:      s.archiver,
		Logger:        s.log,
	})
	if err != nil {
		return 0, err
	}
	importer, ok := client.(transport.Importer)
	if !ok {
		return 0, fmt.Errorf("%w: %s client cannot import", transport.ErrWrongDirection, client.Kind())
	}

	if err := importer.Connect(ctx); err != nil {
		return 0, err
	}
	defer importer.Close()
	if err := importer.Authenticate(ctx); err != nil {
		return 0, err
	}

	total := 0
	for _, addr := range addresses {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		n, err := importer.Import(ctx, addr.CandidateID, addr.Email)
		if err != nil {
			s.log.Warn("import from %s for candidate %s failed: %v", record.Host, addr.CandidateID, err)
			continue
		}
		total += n
	}

	stored, err := s.store.CountConversations(ctx, record.ID)
	if err != nil {
		s.log.Warn("failed to count conversations of credentials %s: %v", record.ID, err)
	}
	s.log.Success("imported %d conversations from %s for %d candidates, %d stored", total, record.Email, len(addresses), stored)
	return total, nil
}
