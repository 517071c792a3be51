package recipients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"talentmail/internal/config"
)

// ErrListService is returned when list membership cannot be fetched
var ErrListService = errors.New("list service unavailable")

// ListService reports the candidates currently in a smartlist
type ListService interface {
	CandidateIDs(ctx context.Context, listID string) ([]string, error)
}

// HTTPListService calls the candidate service's smartlist endpoint
type HTTPListService struct {
	baseURL string
	token   string
	client  *http.Client
}

type listCandidatesResponse struct {
	Candidates []struct {
		ID string `json:"id"`
	} `json:"candidates"`
}

func NewHTTPListService(cfg config.ServicesConfig) *HTTPListService {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPListService{
		baseURL: strings.TrimRight(cfg.ListServiceURL, "/"),
		token:   cfg.ListServiceToken,
		client:  &http.Client{Timeout: timeout},
	}
}

// CandidateIDs fetches GET {base}/smartlists/{id}/candidates
func (s *HTTPListService) CandidateIDs(ctx context.Context, listID string) ([]string, error) {
	endpoint := fmt.Sprintf("%s/smartlists/%s/candidates?fields=id", s.baseURL, url.PathEscape(listID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrListService, err)
	}
	req.Header.Set("Accept", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", s.token))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrListService, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: list %s returned status %d: %s", ErrListService, listID, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out listCandidatesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: failed to decode list %s: %v", ErrListService, listID, err)
	}

	ids := make([]string, 0, len(out.Candidates))
	for _, c := range out.Candidates {
		ids = append(ids, c.ID)
	}
	return ids, nil
}
