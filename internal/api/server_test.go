package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talentmail/internal/config"
	"talentmail/internal/handlers"
	"talentmail/internal/models"
	"talentmail/internal/services"
	"talentmail/internal/utils"
)

type stubCampaigns struct{ userID string }

func (s *stubCampaigns) Create(ctx context.Context, userID string, req services.CreateCampaignRequest) (*models.Campaign, error) {
	return &models.Campaign{Name: req.Name}, nil
}

func (s *stubCampaigns) Get(ctx context.Context, userID, id string) (*models.Campaign, error) {
	s.userID = userID
	return &models.Campaign{Name: "Data engineers"}, nil
}

func (s *stubCampaigns) Send(ctx context.Context, userID, id string, opts services.DispatchOptions) (*services.SendResult, error) {
	return &services.SendResult{Queued: true}, nil
}

func (s *stubCampaigns) ListBlasts(ctx context.Context, userID, id string, page, limit int) ([]models.Blast, int64, error) {
	return nil, 0, nil
}

func (s *stubCampaigns) ExportBlasts(ctx context.Context, userID, id, format string) ([]byte, string, error) {
	return nil, services.ContentTypeCSV, nil
}

type stubTracker struct{}

func (stubTracker) Hit(ctx context.Context, id string, meta services.HitMeta) (*services.HitResult, error) {
	return &services.HitResult{Location: "https://jobs.acme.io"}, nil
}

type stubSink struct{ calls int }

func (s *stubSink) HandleSNS(ctx context.Context, body []byte) error {
	s.calls++
	return nil
}

type stubSync struct{}

func (stubSync) ImportAll(ctx context.Context) (int, error) { return 0, nil }

type stubCredentials struct{}

func (stubCredentials) Create(ctx context.Context, userID string, req services.CreateCredentialsRequest) (*models.EmailClientCredentials, error) {
	return &models.EmailClientCredentials{}, nil
}

func (stubCredentials) List(ctx context.Context, userID string) ([]models.EmailClientCredentials, error) {
	return nil, nil
}

func (stubCredentials) SendTest(ctx context.Context, userID, id string, req services.SendTestRequest) error {
	return nil
}

func newTestServer(t *testing.T, checks map[string]HealthCheck) (*Server, *stubCampaigns, *stubSink) {
	t.Helper()
	cfg := &config.Config{JWT: config.JWTConfig{Secret: "session-secret"}}
	campaigns := &stubCampaigns{}
	sink := &stubSink{}
	s := NewServer(cfg, Handlers{
		Campaigns:     handlers.NewCampaignHandler(campaigns),
		Tracking:      handlers.NewTrackingHandler(stubTracker{}),
		Notifications: handlers.NewNotificationHandler(sink),
		Conversations: handlers.NewConversationHandler(stubSync{}),
		Credentials:   handlers.NewCredentialsHandler(stubCredentials{}),
	}, nil, checks)
	return s, campaigns, sink
}

func do(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer(t, map[string]HealthCheck{
		"database": func(context.Context) error { return nil },
	})
	rec := do(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"database":"ok"`)

	s, _, _ = newTestServer(t, map[string]HealthCheck{
		"redis": func(context.Context) error { return errors.New("connection refused") },
	})
	rec = do(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestAPIRequiresSession(t *testing.T) {
	s, campaigns, _ := newTestServer(t, nil)

	rec := do(s, httptest.NewRequest(http.MethodGet, "/api/v1/campaigns/c1", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := utils.SignSessionToken("session-secret", utils.SessionClaims{UserID: "user-1"}, time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/campaigns/c1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = do(s, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-1", campaigns.userID)
}

func TestPublicEndpoints(t *testing.T) {
	s, _, sink := newTestServer(t, nil)

	rec := do(s, httptest.NewRequest(http.MethodGet, "/redirect/conv-1", nil))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://jobs.acme.io", rec.Header().Get("Location"))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ses/notifications", strings.NewReader(`{"Type":"Notification"}`))
	rec = do(s, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, sink.calls)
}
