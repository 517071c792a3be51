package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"talentmail/internal/config"
	"talentmail/internal/db/dbtest"
	"talentmail/internal/models"
	"talentmail/internal/recipients"
	"talentmail/internal/repository"
	"talentmail/internal/rewriter"
	"talentmail/internal/tasks"
	"talentmail/internal/transport"
	"talentmail/internal/utils/crypto"
)

type fakeListService struct {
	members map[string][]string
	err     error
}

func (f *fakeListService) CandidateIDs(ctx context.Context, listID string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.members[listID], nil
}

type fakeProvider struct {
	mu    sync.Mutex
	calls int
	sent  []transport.Message
	// fail maps a recipient address to the error returned for it
	fail map[string]error
}

func (f *fakeProvider) SendEmail(ctx context.Context, msg transport.Message) (*transport.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.fail[msg.To]; err != nil {
		return nil, err
	}
	f.sent = append(f.sent, msg)
	n := len(f.sent)
	return &transport.Receipt{MessageID: fmt.Sprintf("msg-%d", n), RequestID: fmt.Sprintf("req-%d", n)}, nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeProvider) recipients() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, m := range f.sent {
		out = append(out, m.To)
	}
	return out
}

type fakeEnqueuer struct {
	mu         sync.Mutex
	dispatches []tasks.CampaignDispatchTask
	imports    []tasks.ConversationImportTask
	err        error
}

func (f *fakeEnqueuer) EnqueueCampaignDispatch(ctx context.Context, task tasks.CampaignDispatchTask) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.dispatches = append(f.dispatches, task)
	return fmt.Sprintf("task-%d", len(f.dispatches)), nil
}

func (f *fakeEnqueuer) EnqueueConversationImport(ctx context.Context, task tasks.ConversationImportTask) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.imports = append(f.imports, task)
	return fmt.Sprintf("import-%d", len(f.imports)), nil
}

type harness struct {
	cfg         *config.Config
	store       *repository.Store
	lists       *fakeListService
	provider    *fakeProvider
	enqueuer    *fakeEnqueuer
	sealer      *crypto.Sealer
	credentials *CredentialService
	dispatcher  *Dispatcher
	campaigns   *CampaignService
	domain      *models.Domain
	owner       *models.User
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	cfg := &config.Config{
		Env:    config.EnvProduction,
		Worker: config.WorkerConfig{SendConcurrency: 4},
		Mail:   config.MailConfig{DefaultFrom: "no-reply@talentmail.io"},
		Tracking: config.TrackingConfig{
			BaseURL:        "https://t.talentmail.io",
			Secret:         "tracking-secret",
			FallbackURL:    "https://talentmail.io",
			PreferencesURL: "https://talentmail.io/preferences",
		},
	}

	h := &harness{
		cfg:      cfg,
		store:    repository.NewStore(dbtest.Open(t)),
		lists:    &fakeListService{members: map[string][]string{}},
		provider: &fakeProvider{},
		enqueuer: &fakeEnqueuer{},
	}

	sealer, err := crypto.NewSealer("credentials-key")
	require.NoError(t, err)
	h.sealer = sealer
	h.credentials = NewCredentialService(h.store, sealer)
	h.credentials.verify = func(context.Context, transport.Credentials, transport.Options) error { return nil }

	resolver := recipients.NewResolver(h.lists, h.store)
	rw := rewriter.New(h.store, cfg.Tracking)
	h.dispatcher = NewDispatcher(cfg, h.store, resolver, rw, h.provider, nil, h.credentials)
	h.campaigns = NewCampaignService(h.store, h.dispatcher, h.enqueuer)

	gdb := h.store.DB()
	h.domain = &models.Domain{Name: "acme.io"}
	require.NoError(t, gdb.Create(h.domain).Error)
	h.owner = &models.User{Email: "recruiter@acme.io", DomainID: h.domain.ID}
	require.NoError(t, gdb.Create(h.owner).Error)
	return h
}

// candidate creates a candidate of the owner's domain with the given addresses
func (h *harness) candidate(t *testing.T, first string, addresses ...string) string {
	t.Helper()
	gdb := h.store.DB()
	c := &models.Candidate{FirstName: first, LastName: "Doe", DomainID: h.domain.ID}
	require.NoError(t, gdb.Create(c).Error)
	for _, a := range addresses {
		require.NoError(t, gdb.Create(&models.CandidateEmail{CandidateID: c.ID, Address: a}).Error)
	}
	return c.ID
}

// list creates a smartlist in domainID whose members the fake list service reports
func (h *harness) list(t *testing.T, domainID string, members ...string) string {
	t.Helper()
	l := &models.Smartlist{Name: "list", UserID: h.owner.ID, DomainID: domainID}
	require.NoError(t, h.store.DB().Create(l).Error)
	h.lists.members[l.ID] = members
	return l.ID
}

func (h *harness) campaign(t *testing.T, mutate func(*models.Campaign), listIDs ...string) *models.Campaign {
	t.Helper()
	c := &models.Campaign{
		UserID:    h.owner.ID,
		Name:      "Backend engineers",
		Subject:   "Hi *|FIRSTNAME|*",
		BodyHTML:  `<html><body><p>Hello *|FIRSTNAME|*</p><a href="https://jobs.acme.io/1">Apply</a></body></html>`,
		BodyText:  "Hello *|FIRSTNAME|*, manage: *|PREFERENCES_URL|*",
		Frequency: models.FrequencyOnce,
	}
	if mutate != nil {
		mutate(c)
	}
	require.NoError(t, h.store.CreateCampaign(context.Background(), c, listIDs))
	return c
}

func (h *harness) credentialsFor(t *testing.T, host string) *models.EmailClientCredentials {
	t.Helper()
	sealed, err := h.sealer.Seal("app-password")
	require.NoError(t, err)
	record := &models.EmailClientCredentials{
		UserID:   h.owner.ID,
		Host:     host,
		Port:     587,
		Email:    "recruiter@acme.io",
		Password: sealed,
	}
	require.NoError(t, h.store.CreateCredentials(context.Background(), record))
	return record
}

func (h *harness) count(t *testing.T, model interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.store.DB().Model(model).Count(&n).Error)
	return n
}

func (h *harness) blast(t *testing.T, id string) *models.Blast {
	t.Helper()
	b, err := h.store.GetBlast(context.Background(), id)
	require.NoError(t, err)
	return b
}

func hasPrefix(values []string, prefix string) bool {
	for _, v := range values {
		if !strings.HasPrefix(v, prefix) {
			return false
		}
	}
	return len(values) > 0
}

func strPtr(s string) *string { return &s }
