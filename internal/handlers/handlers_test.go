package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talentmail/internal/models"
	"talentmail/internal/recipients"
	"talentmail/internal/services"
	"talentmail/internal/transport"
	"talentmail/internal/utils"
)

func newContext(method, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	e.Validator = NewValidator()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("userID", "user-1")
	return c, rec
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	var he *echo.HTTPError
	require.True(t, errors.As(err, &he), "expected echo.HTTPError, got %v", err)
	return he.Code
}

func TestHTTPErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: no lists", services.ErrInvalidUsage), http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", transport.ErrUnknownTransport), http.StatusBadRequest},
		{transport.ErrInvalidCredentials, http.StatusBadRequest},
		{fmt.Errorf("%w: campaign c1", services.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: dial", transport.ErrTransportUnavailable), http.StatusBadGateway},
		{fmt.Errorf("%w: 503", recipients.ErrListService), http.StatusBadGateway},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusOf(t, httpError(tc.err)), tc.err.Error())
	}
}

type fakeCampaigns struct {
	created  services.CreateCampaignRequest
	userID   string
	sendOpts services.DispatchOptions
	send     *services.SendResult
	err      error
}

func (f *fakeCampaigns) Create(ctx context.Context, userID string, req services.CreateCampaignRequest) (*models.Campaign, error) {
	f.userID, f.created = userID, req
	if f.err != nil {
		return nil, f.err
	}
	c := &models.Campaign{Name: req.Name, Subject: req.Subject}
	c.ID = "camp-1"
	return c, nil
}

func (f *fakeCampaigns) Get(ctx context.Context, userID, campaignID string) (*models.Campaign, error) {
	return nil, f.err
}

func (f *fakeCampaigns) Send(ctx context.Context, userID, campaignID string, opts services.DispatchOptions) (*services.SendResult, error) {
	f.userID, f.sendOpts = userID, opts
	return f.send, f.err
}

func (f *fakeCampaigns) ListBlasts(ctx context.Context, userID, campaignID string, page, limit int) ([]models.Blast, int64, error) {
	return []models.Blast{{CampaignID: campaignID, Sends: 3}}, 21, f.err
}

func (f *fakeCampaigns) ExportBlasts(ctx context.Context, userID, campaignID, format string) ([]byte, string, error) {
	if format != "csv" {
		return nil, "", fmt.Errorf("%w: unsupported export format %q", services.ErrInvalidUsage, format)
	}
	return []byte("id,sent_at\n"), services.ContentTypeCSV, nil
}

func TestCreateCampaignHandler(t *testing.T) {
	campaigns := &fakeCampaigns{}
	h := NewCampaignHandler(campaigns)

	c, rec := newContext(http.MethodPost, "/api/v1/campaigns",
		`{"name":"Data engineers","subject":"Hi","listIds":["l1","l2"],"frequency":"weekly"}`)
	require.NoError(t, h.Create(c))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "user-1", campaigns.userID)
	assert.Equal(t, []string{"l1", "l2"}, campaigns.created.ListIDs)
	assert.Equal(t, models.Frequency("weekly"), campaigns.created.Frequency)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "camp-1", body["id"])
}

func TestCreateCampaignHandlerRejectsInvalidBodies(t *testing.T) {
	h := NewCampaignHandler(&fakeCampaigns{})

	c, _ := newContext(http.MethodPost, "/api/v1/campaigns", `{"name":"x","subject":"y","listIds":[]}`)
	assert.Equal(t, http.StatusBadRequest, statusOf(t, h.Create(c)))

	c, _ = newContext(http.MethodPost, "/api/v1/campaigns", `{not json`)
	assert.Equal(t, http.StatusBadRequest, statusOf(t, h.Create(c)))

	failing := NewCampaignHandler(&fakeCampaigns{err: fmt.Errorf("%w: list l9", services.ErrInvalidUsage)})
	c, _ = newContext(http.MethodPost, "/api/v1/campaigns", `{"name":"x","subject":"y","listIds":["l9"]}`)
	assert.Equal(t, http.StatusBadRequest, statusOf(t, failing.Create(c)))
}

func TestSendHandler(t *testing.T) {
	campaigns := &fakeCampaigns{send: &services.SendResult{Queued: true, TaskID: "task-9"}}
	h := NewCampaignHandler(campaigns)

	c, rec := newContext(http.MethodPost, "/api/v1/campaigns/camp-1/send", `{"newOnly":true,"listIds":["l3"]}`)
	c.SetParamNames("id")
	c.SetParamValues("camp-1")
	require.NoError(t, h.Send(c))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, campaigns.sendOpts.NewOnly)
	assert.Equal(t, []string{"l3"}, campaigns.sendOpts.ListIDs)

	campaigns.send = &services.SendResult{Result: &services.DispatchResult{BlastID: "b1", Sent: 1,
		Previews: []services.Preview{{Email: "jane@example.com"}}}}
	c, rec = newContext(http.MethodPost, "/api/v1/campaigns/camp-1/send", "")
	c.SetParamNames("id")
	c.SetParamValues("camp-1")
	require.NoError(t, h.Send(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "jane@example.com")

	campaigns.err = fmt.Errorf("%w: campaign camp-2", services.ErrNotFound)
	c, _ = newContext(http.MethodPost, "/api/v1/campaigns/camp-2/send", "")
	assert.Equal(t, http.StatusNotFound, statusOf(t, h.Send(c)))
}

func TestListAndExportBlasts(t *testing.T) {
	h := NewCampaignHandler(&fakeCampaigns{})

	c, rec := newContext(http.MethodGet, "/api/v1/campaigns/camp-1/blasts?page=2&limit=500", "")
	c.SetParamNames("id")
	c.SetParamValues("camp-1")
	require.NoError(t, h.ListBlasts(c))

	var page struct {
		Data  []models.Blast `json:"data"`
		Total int64          `json:"total"`
		Page  int            `json:"page"`
		Limit int            `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, int64(21), page.Total)
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 100, page.Limit)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "camp-1", page.Data[0].CampaignID)

	c, rec = newContext(http.MethodGet, "/api/v1/campaigns/camp-1/blasts/export", "")
	c.SetParamNames("id")
	c.SetParamValues("camp-1")
	require.NoError(t, h.ExportBlasts(c))
	assert.Equal(t, services.ContentTypeCSV, rec.Header().Get(echo.HeaderContentType))
	assert.Contains(t, rec.Header().Get(echo.HeaderContentDisposition), `campaign-camp-1-blasts.csv`)

	c, _ = newContext(http.MethodGet, "/api/v1/campaigns/camp-1/blasts/export?format=pdf", "")
	assert.Equal(t, http.StatusBadRequest, statusOf(t, h.ExportBlasts(c)))
}

type fakeTracker struct {
	meta services.HitMeta
	res  *services.HitResult
	err  error
}

func (f *fakeTracker) Hit(ctx context.Context, id string, meta services.HitMeta) (*services.HitResult, error) {
	f.meta = meta
	return f.res, f.err
}

func TestRedirectHandler(t *testing.T) {
	tracker := &fakeTracker{res: &services.HitResult{Location: "https://jobs.acme.io/apply?utm_source=mail"}}
	h := NewTrackingHandler(tracker)

	c, rec := newContext(http.MethodGet, "/redirect/conv-1?utm_source=mail", "")
	c.Request().Header.Set("User-Agent", "curl/8.0")
	c.Request().Header.Set("X-Forwarded-For", "198.51.100.4, 10.0.0.1")
	c.SetParamNames("id")
	c.SetParamValues("conv-1")
	require.NoError(t, h.Redirect(c))

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://jobs.acme.io/apply?utm_source=mail", rec.Header().Get("Location"))
	assert.Equal(t, "198.51.100.4", tracker.meta.IPAddress)
	assert.Equal(t, "curl/8.0", tracker.meta.UserAgent)
	assert.Equal(t, "mail", tracker.meta.Query.Get("utm_source"))
}

func TestRedirectHandlerServesPixel(t *testing.T) {
	h := NewTrackingHandler(&fakeTracker{res: &services.HitResult{Pixel: true, First: true}})

	c, rec := newContext(http.MethodGet, "/redirect/open-1", "")
	c.SetParamNames("id")
	c.SetParamValues("open-1")
	require.NoError(t, h.Redirect(c))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/gif", rec.Header().Get(echo.HeaderContentType))
	assert.Contains(t, rec.Header().Get("Cache-Control"), "no-store")
	assert.Equal(t, utils.TransparentGIF(), rec.Body.Bytes())
}

func TestRedirectHandlerUnknownID(t *testing.T) {
	h := NewTrackingHandler(&fakeTracker{err: fmt.Errorf("%w: conversion nope", services.ErrNotFound)})

	c, _ := newContext(http.MethodGet, "/redirect/nope", "")
	c.SetParamNames("id")
	c.SetParamValues("nope")
	assert.Equal(t, http.StatusNotFound, statusOf(t, h.Redirect(c)))
}

type fakeSink struct {
	body []byte
	err  error
}

func (f *fakeSink) HandleSNS(ctx context.Context, body []byte) error {
	f.body = body
	return f.err
}

func TestNotificationHandler(t *testing.T) {
	sink := &fakeSink{}
	h := NewNotificationHandler(sink)

	c, rec := newContext(http.MethodPost, "/api/v1/ses/notifications", `{"Type":"Notification"}`)
	require.NoError(t, h.Receive(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"Type":"Notification"}`, string(sink.body))

	c, _ = newContext(http.MethodPost, "/api/v1/ses/notifications", "")
	assert.Equal(t, http.StatusBadRequest, statusOf(t, h.Receive(c)))

	sink.err = fmt.Errorf("%w: ses-404", services.ErrUnknownMessage)
	c, rec = newContext(http.MethodPost, "/api/v1/ses/notifications", `{"Type":"Notification"}`)
	require.NoError(t, h.Receive(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	sink.err = fmt.Errorf("%w: malformed SNS message", services.ErrInvalidUsage)
	c, _ = newContext(http.MethodPost, "/api/v1/ses/notifications", `{`)
	assert.Equal(t, http.StatusBadRequest, statusOf(t, h.Receive(c)))
}

type fakeSync struct {
	queued int
	err    error
}

func (f *fakeSync) ImportAll(ctx context.Context) (int, error) { return f.queued, f.err }

func TestConversationImportHandler(t *testing.T) {
	h := NewConversationHandler(&fakeSync{queued: 3})

	c, rec := newContext(http.MethodPost, "/api/v1/conversations/import", "")
	require.NoError(t, h.Import(c))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"queued":3}`, rec.Body.String())

	failing := NewConversationHandler(&fakeSync{err: errors.New("db down")})
	c, _ = newContext(http.MethodPost, "/api/v1/conversations/import", "")
	assert.Equal(t, http.StatusInternalServerError, statusOf(t, failing.Import(c)))
}

type fakeCredentials struct {
	req    services.CreateCredentialsRequest
	testTo string
	err    error
}

func (f *fakeCredentials) Create(ctx context.Context, userID string, req services.CreateCredentialsRequest) (*models.EmailClientCredentials, error) {
	f.req = req
	if f.err != nil {
		return nil, f.err
	}
	return &models.EmailClientCredentials{UserID: userID, Host: req.Host, Port: req.Port, Email: req.Email, Password: "sealed"}, nil
}

func (f *fakeCredentials) List(ctx context.Context, userID string) ([]models.EmailClientCredentials, error) {
	return []models.EmailClientCredentials{{UserID: userID, Host: "imap.acme.io", Password: "sealed"}}, nil
}

func (f *fakeCredentials) SendTest(ctx context.Context, userID, id string, req services.SendTestRequest) error {
	f.testTo = req.To
	return f.err
}

func TestCredentialsHandler(t *testing.T) {
	creds := &fakeCredentials{}
	h := NewCredentialsHandler(creds)

	c, rec := newContext(http.MethodPost, "/api/v1/email-credentials",
		`{"host":"imap.acme.io","port":993,"email":"recruiter@acme.io","password":"app-password"}`)
	require.NoError(t, h.Create(c))
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "app-password", creds.req.Password)
	assert.NotContains(t, rec.Body.String(), "sealed")
	assert.NotContains(t, rec.Body.String(), "app-password")

	c, _ = newContext(http.MethodPost, "/api/v1/email-credentials", `{"host":"imap.acme.io","port":993,"email":"not-an-email","password":"x"}`)
	assert.Equal(t, http.StatusBadRequest, statusOf(t, h.Create(c)))

	creds.err = fmt.Errorf("%w: 535", transport.ErrInvalidCredentials)
	c, _ = newContext(http.MethodPost, "/api/v1/email-credentials",
		`{"host":"imap.acme.io","port":993,"email":"recruiter@acme.io","password":"wrong"}`)
	assert.Equal(t, http.StatusBadRequest, statusOf(t, h.Create(c)))

	c, rec = newContext(http.MethodGet, "/api/v1/email-credentials", "")
	require.NoError(t, h.List(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "imap.acme.io")
	assert.NotContains(t, rec.Body.String(), "sealed")
}

func TestCredentialsHandlerSendTest(t *testing.T) {
	creds := &fakeCredentials{}
	h := NewCredentialsHandler(creds)

	c, rec := newContext(http.MethodPost, "/api/v1/email-credentials/cred-1/test", `{"to":"me@acme.io"}`)
	c.SetParamNames("id")
	c.SetParamValues("cred-1")
	require.NoError(t, h.SendTest(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "me@acme.io", creds.testTo)

	c, _ = newContext(http.MethodPost, "/api/v1/email-credentials/cred-1/test", "")
	require.NoError(t, h.SendTest(c))
	assert.Empty(t, creds.testTo)

	c, _ = newContext(http.MethodPost, "/api/v1/email-credentials/cred-1/test", `{"to":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, statusOf(t, h.SendTest(c)))

	creds.err = fmt.Errorf("%w: 535", transport.ErrInvalidCredentials)
	c, _ = newContext(http.MethodPost, "/api/v1/email-credentials/cred-1/test", "")
	assert.Equal(t, http.StatusBadRequest, statusOf(t, h.SendTest(c)))
}
