package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"

	"talentmail/internal/models"
	"talentmail/internal/repository"
	"talentmail/internal/tasks"
	"talentmail/internal/transport"
	"talentmail/internal/utils/logger"
)

// DispatchEnqueuer hands a dispatch to the worker pool
type DispatchEnqueuer interface {
	EnqueueCampaignDispatch(ctx context.Context, task tasks.CampaignDispatchTask) (string, error)
}

// CreateCampaignRequest is a new campaign as submitted by its owner
type CreateCampaignRequest struct {
	Name                     string           `json:"name" validate:"required"`
	Subject                  string           `json:"subject" validate:"required"`
	FromName                 string           `json:"fromName"`
	FromAddress              string           `json:"fromAddress" validate:"omitempty,email"`
	ReplyTo                  string           `json:"replyTo" validate:"omitempty,email"`
	BodyHTML                 string           `json:"bodyHtml"`
	BodyText                 string           `json:"bodyText"`
	Frequency                models.Frequency `json:"frequency"`
	StartAt                  *time.Time       `json:"startAt"`
	StopAt                   *time.Time       `json:"stopAt"`
	IsSubscription           bool             `json:"isSubscription"`
	IsHidden                 bool             `json:"isHidden"`
	EmailClientID            *string          `json:"emailClientId"`
	EmailClientCredentialsID *string          `json:"emailClientCredentialsId"`
	EnableOpenTracking       bool             `json:"enableOpenTracking"`
	EnableClickTracking      bool             `json:"enableClickTracking"`
	CustomParams             json.RawMessage  `json:"customParams"`
	CustomHTML               string           `json:"customHtml"`
	ListIDs                  []string         `json:"listIds" validate:"required,min=1,dive,required"`
}

// SendResult is the outcome of a send request. Email client campaigns are
// dispatched inline and carry Result; all others are queued.
type SendResult struct {
	Queued bool            `json:"queued"`
	TaskID string          `json:"taskId,omitempty"`
	Result *DispatchResult `json:"result,omitempty"`
}

// CampaignService is the owner-facing side of campaigns
type CampaignService struct {
	store      *repository.Store
	dispatcher *Dispatcher
	enqueuer   DispatchEnqueuer
	now        func() time.Time
	log        *logger.Logger
}

func NewCampaignService(store *repository.Store, dispatcher *Dispatcher, enqueuer DispatchEnqueuer) *CampaignService {
	return &CampaignService{
		store:      store,
		dispatcher: dispatcher,
		enqueuer:   enqueuer,
		now:        time.Now,
		log:        logger.New("CAMPAIGNS"),
	}
}

// Create validates and stores a campaign with its lists
func (s *CampaignService) Create(ctx context.Context, userID string, req CreateCampaignRequest) (*models.Campaign, error) {
	owner, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, notFound("user", userID, err)
	}

	if req.Frequency == "" {
		req.Frequency = models.FrequencyOnce
	}
	req.Frequency = models.Frequency(strings.ToUpper(string(req.Frequency)))
	if !req.Frequency.Valid() {
		return nil, usageErr("unknown frequency %q", req.Frequency)
	}
	if req.StartAt != nil && req.StopAt != nil && !req.StopAt.After(*req.StartAt) {
		return nil, usageErr("stopAt must be after startAt")
	}

	listIDs := uniqueIDs(req.ListIDs)
	if len(listIDs) == 0 {
		return nil, usageErr("a campaign needs at least one list")
	}
	if err := s.checkOwnedLists(ctx, owner, listIDs); err != nil {
		return nil, err
	}

	emailClientID := nonEmpty(req.EmailClientID)
	credentialsID := nonEmpty(req.EmailClientCredentialsID)
	if emailClientID != nil && credentialsID != nil {
		return nil, usageErr("a campaign uses either an email client or credentials, not both")
	}
	if emailClientID != nil {
		if _, err := s.store.GetEmailClient(ctx, *emailClientID); err != nil {
			return nil, usageErr("invalid email client %s", *emailClientID)
		}
	}
	if credentialsID != nil {
		record, err := s.store.GetCredentials(ctx, *credentialsID)
		if err != nil || record.UserID != owner.ID {
			return nil, usageErr("invalid credentials %s", *credentialsID)
		}
		if !transport.IsOutgoing(record.Host) {
			return nil, fmt.Errorf("%w: %w: %s cannot send mail", ErrInvalidUsage, transport.ErrWrongDirection, record.Host)
		}
	}

	campaign := &models.Campaign{
		UserID:                   owner.ID,
		Name:                     req.Name,
		Subject:                  req.Subject,
		FromName:                 req.FromName,
		FromAddress:              req.FromAddress,
		ReplyTo:                  req.ReplyTo,
		BodyHTML:                 req.BodyHTML,
		BodyText:                 req.BodyText,
		Frequency:                req.Frequency,
		StartAt:                  req.StartAt,
		StopAt:                   req.StopAt,
		IsSubscription:           req.IsSubscription,
		IsHidden:                 req.IsHidden,
		EmailClientID:            emailClientID,
		EmailClientCredentialsID: credentialsID,
		EnableOpenTracking:       req.EnableOpenTracking,
		EnableClickTracking:      req.EnableClickTracking,
		CustomHTML:               req.CustomHTML,
	}
	if len(req.CustomParams) > 0 {
		campaign.CustomParams = datatypes.JSON(req.CustomParams)
		if _, err := customParams(campaign); err != nil {
			return nil, err
		}
	}
	campaign.NextRunAt = firstRun(campaign, s.now())

	if err := s.store.CreateCampaign(ctx, campaign, listIDs); err != nil {
		return nil, fmt.Errorf("failed to create campaign: %w", err)
	}

	s.log.Success("📧 Created campaign %s (%s) with %d lists", campaign.ID, campaign.Frequency, len(listIDs))
	return campaign, nil
}

func (s *CampaignService) checkOwnedLists(ctx context.Context, owner *models.User, listIDs []string) error {
	lists, err := s.store.Smartlists(ctx, listIDs)
	if err != nil {
		return fmt.Errorf("failed to load lists: %w", err)
	}
	domains := make(map[string]string, len(lists))
	for _, l := range lists {
		domains[l.ID] = l.DomainID
	}
	for _, id := range listIDs {
		domainID, ok := domains[id]
		if !ok {
			return usageErr("list %s does not exist", id)
		}
		if domainID != owner.DomainID {
			return usageErr("list %s is not owned by your domain", id)
		}
	}
	return nil
}

// Get loads a campaign the user owns
func (s *CampaignService) Get(ctx context.Context, userID, campaignID string) (*models.Campaign, error) {
	campaign, err := s.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, notFound("campaign", campaignID, err)
	}
	if campaign.UserID != userID {
		return nil, fmt.Errorf("%w: campaign %s", ErrNotFound, campaignID)
	}
	return campaign, nil
}

// Send starts a blast. The usage checks run synchronously so callers learn
// about bad input before anything is queued.
func (s *CampaignService) Send(ctx context.Context, userID, campaignID string, opts DispatchOptions) (*SendResult, error) {
	if _, err := s.Get(ctx, userID, campaignID); err != nil {
		return nil, err
	}
	campaign, err := s.dispatcher.Check(ctx, campaignID, opts)
	if err != nil {
		return nil, err
	}

	if campaign.EmailClientID != nil && *campaign.EmailClientID != "" {
		res, err := s.dispatcher.Dispatch(ctx, campaignID, opts)
		if err != nil {
			return nil, err
		}
		return &SendResult{Result: res}, nil
	}

	taskID, err := s.enqueuer.EnqueueCampaignDispatch(ctx, tasks.CampaignDispatchTask{
		CampaignID: campaignID,
		NewOnly:    opts.NewOnly,
		ListIDs:    opts.ListIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to queue campaign %s: %w", campaignID, err)
	}
	return &SendResult{Queued: true, TaskID: taskID}, nil
}

// ListBlasts pages through a campaign's blasts, newest first
func (s *CampaignService) ListBlasts(ctx context.Context, userID, campaignID string, page, limit int) ([]models.Blast, int64, error) {
	if _, err := s.Get(ctx, userID, campaignID); err != nil {
		return nil, 0, err
	}
	return s.store.ListCampaignBlasts(ctx, campaignID, page, limit)
}

// firstRun is when the scheduler first picks a campaign up. One-off
// campaigns without a start time are only ever sent on request.
func firstRun(campaign *models.Campaign, now time.Time) *time.Time {
	if campaign.StartAt != nil {
		start := *campaign.StartAt
		return &start
	}
	if !campaign.Frequency.Recurring() {
		return nil
	}
	next, err := NextRun(campaign.Frequency, now, now)
	if err != nil {
		return nil
	}
	return next
}

func nonEmpty(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
