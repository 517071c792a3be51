package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/mail"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"talentmail/internal/config"
	"talentmail/internal/models"
	"talentmail/internal/recipients"
	"talentmail/internal/repository"
	"talentmail/internal/rewriter"
	"talentmail/internal/tasks/rate"
	"talentmail/internal/transport"
	"talentmail/internal/utils"
	"talentmail/internal/utils/logger"
)

// DispatchOptions narrows one dispatch
type DispatchOptions struct {
	// NewOnly skips candidates that already received the campaign
	NewOnly bool `json:"newOnly"`
	// ListIDs replaces the campaign's own lists for this dispatch
	ListIDs []string `json:"listIds"`
}

// Preview is the rendered content of one send that an email client delivers itself
type Preview struct {
	SendID      string `json:"sendId"`
	CandidateID string `json:"candidateId"`
	Email       string `json:"email"`
	Subject     string `json:"subject"`
	HTML        string `json:"html"`
	Text        string `json:"text"`
}

type DispatchResult struct {
	BlastID  string    `json:"blastId"`
	Sent     int       `json:"sent"`
	Bounced  int       `json:"bounced"`
	Skipped  int       `json:"skipped"`
	Previews []Preview `json:"previews,omitempty"`
}

// SMTPDialer opens an authenticated session on user credentials
type SMTPDialer func(ctx context.Context, creds transport.Credentials, opts transport.Options) (transport.Provider, func() error, error)

func dialUserSMTP(ctx context.Context, creds transport.Credentials, opts transport.Options) (transport.Provider, func() error, error) {
	client := transport.NewSMTPClient(creds, opts)
	if err := client.Connect(ctx); err != nil {
		return nil, nil, err
	}
	if err := client.Authenticate(ctx); err != nil {
		client.Close()
		return nil, nil, err
	}
	return transport.NewSMTPProvider(client), client.Close, nil
}

// dispatchPlan is everything validated before a blast row exists
type dispatchPlan struct {
	campaign    *models.Campaign
	owner       *models.User
	domain      *models.Domain
	listIDs     []string
	emailClient *models.EmailClient
	credsID     string
	params      map[string]string
}

// Dispatcher sends one blast of a campaign
type Dispatcher struct {
	cfg         *config.Config
	store       *repository.Store
	resolver    *recipients.Resolver
	rewriter    *rewriter.Rewriter
	provider    transport.Provider
	throttle    rate.Throttle
	credentials *CredentialService
	dialSMTP    SMTPDialer
	concurrency int
	log         *logger.Logger
}

func NewDispatcher(
	cfg *config.Config,
	store *repository.Store,
	resolver *recipients.Resolver,
	rw *rewriter.Rewriter,
	provider transport.Provider,
	throttle rate.Throttle,
	credentials *CredentialService,
) *Dispatcher {
	concurrency := cfg.Worker.SendConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	if throttle == nil {
		throttle = rate.NewLocalLimiter(cfg.Mail.MaxSendRate)
	}
	return &Dispatcher{
		cfg:         cfg,
		store:       store,
		resolver:    resolver,
		rewriter:    rw,
		provider:    provider,
		throttle:    throttle,
		credentials: credentials,
		dialSMTP:    dialUserSMTP,
		concurrency: concurrency,
		log:         logger.New("BLAST"),
	}
}

// DispatchCampaign is the entry point used by the task queue
func (d *Dispatcher) DispatchCampaign(ctx context.Context, campaignID string, newOnly bool, listIDs []string) (int, error) {
	res, err := d.Dispatch(ctx, campaignID, DispatchOptions{NewOnly: newOnly, ListIDs: listIDs})
	if err != nil {
		return 0, err
	}
	return res.Sent, nil
}

// Check runs the usage checks of a dispatch without sending anything
func (d *Dispatcher) Check(ctx context.Context, campaignID string, opts DispatchOptions) (*models.Campaign, error) {
	plan, err := d.plan(ctx, campaignID, opts)
	if err != nil {
		return nil, err
	}
	return plan.campaign, nil
}

func (d *Dispatcher) plan(ctx context.Context, campaignID string, opts DispatchOptions) (*dispatchPlan, error) {
	campaign, err := d.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, notFound("campaign", campaignID, err)
	}
	if campaign.IsHidden {
		return nil, usageErr("campaign %s is archived", campaign.ID)
	}
	owner, err := d.store.GetUser(ctx, campaign.UserID)
	if err != nil {
		return nil, notFound("user", campaign.UserID, err)
	}
	domain, err := d.store.GetDomain(ctx, owner.DomainID)
	if err != nil {
		return nil, notFound("domain", owner.DomainID, err)
	}

	plan := &dispatchPlan{campaign: campaign, owner: owner, domain: domain}

	override := len(opts.ListIDs) > 0
	if override {
		plan.listIDs = opts.ListIDs
	} else if plan.listIDs, err = d.store.CampaignListIDs(ctx, campaign.ID); err != nil {
		return nil, fmt.Errorf("failed to load campaign lists: %w", err)
	}
	if len(plan.listIDs) == 0 {
		return nil, usageErr("campaign %s has no lists", campaign.ID)
	}
	if err := d.checkLists(ctx, plan, override); err != nil {
		return nil, err
	}

	if campaign.EmailClientID != nil && *campaign.EmailClientID != "" {
		client, err := d.store.GetEmailClient(ctx, *campaign.EmailClientID)
		if err != nil {
			return nil, usageErr("invalid email client %s", *campaign.EmailClientID)
		}
		plan.emailClient = client
	} else if campaign.EmailClientCredentialsID != nil && *campaign.EmailClientCredentialsID != "" {
		record, err := d.store.GetCredentials(ctx, *campaign.EmailClientCredentialsID)
		if err != nil {
			return nil, notFound("credentials", *campaign.EmailClientCredentialsID, err)
		}
		if record.UserID != campaign.UserID {
			return nil, usageErr("credentials %s do not belong to the campaign owner", record.ID)
		}
		if !transport.IsOutgoing(record.Host) {
			return nil, fmt.Errorf("%w: %w: %s cannot send mail", ErrInvalidUsage, transport.ErrWrongDirection, record.Host)
		}
		plan.credsID = record.ID
	}

	plan.params, err = customParams(campaign)
	if err != nil {
		return nil, err
	}
	return plan, nil
}

// checkLists verifies every list exists; override lists must also belong to the owner's domain
func (d *Dispatcher) checkLists(ctx context.Context, plan *dispatchPlan, override bool) error {
	lists, err := d.store.Smartlists(ctx, plan.listIDs)
	if err != nil {
		return fmt.Errorf("failed to load lists: %w", err)
	}
	found := make(map[string]models.Smartlist, len(lists))
	for _, l := range lists {
		found[l.ID] = l
	}
	for _, id := range plan.listIDs {
		list, ok := found[id]
		if !ok {
			return usageErr("list %s does not exist", id)
		}
		if override && list.DomainID != plan.owner.DomainID {
			return usageErr("list %s is not owned by the campaign's domain", id)
		}
	}
	return nil
}

func customParams(campaign *models.Campaign) (map[string]string, error) {
	if len(campaign.CustomParams) == 0 || string(campaign.CustomParams) == "null" {
		return nil, nil
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(campaign.CustomParams, &raw); err != nil {
		return nil, usageErr("campaign custom params must be a JSON object: %v", err)
	}
	params := make(map[string]string, len(raw))
	for k, v := range raw {
		params[k] = fmt.Sprint(v)
	}
	return params, nil
}

// Dispatch validates the campaign, resolves its recipients and sends one
// blast. A failing recipient is recorded as bounced and never stops the batch;
// a failing rate limiter does.
func (d *Dispatcher) Dispatch(ctx context.Context, campaignID string, opts DispatchOptions) (*DispatchResult, error) {
	plan, err := d.plan(ctx, campaignID, opts)
	if err != nil {
		return nil, err
	}
	campaign := plan.campaign

	provider := d.provider
	from := campaign.FromAddress
	if plan.credsID != "" {
		_, creds, err := d.credentials.Open(ctx, plan.credsID)
		if err != nil {
			return nil, err
		}
		userProvider, closeFn, err := d.dialSMTP(ctx, creds, transport.Options{Logger: d.log})
		if err != nil {
			return nil, d.log.Error(fmt.Sprintf("campaign %s: outgoing mailbox %s is unusable", campaign.ID, creds.Host), err)
		}
		defer closeFn()
		provider = userProvider
		if from == "" {
			from = creds.Email
		}
	}
	if from == "" {
		from = d.cfg.Mail.DefaultFrom
	}
	if plan.emailClient == nil && provider == nil {
		return nil, fmt.Errorf("%w: no mail provider configured", transport.ErrTransportUnavailable)
	}

	rcpts, err := d.resolver.Resolve(ctx, campaign, plan.listIDs, opts.NewOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve recipients of campaign %s: %w", campaign.ID, err)
	}

	blast := &models.Blast{CampaignID: campaign.ID, SentAt: time.Now()}
	if err := d.store.CreateBlast(ctx, blast); err != nil {
		return nil, fmt.Errorf("failed to create blast: %w", err)
	}
	d.log.Info("🚀 Blast %s of campaign %s started for %d recipients", blast.ID, campaign.ID, len(rcpts))

	job := &blastJob{
		d:        d,
		plan:     plan,
		blast:    blast,
		provider: provider,
		from:     formatFrom(campaign.FromName, from),
		previews: make([]*Preview, len(rcpts)),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for i, rcpt := range rcpts {
		i, rcpt := i, rcpt
		g.Go(func() error {
			return job.deliver(gctx, i, rcpt)
		})
	}
	if err := g.Wait(); err != nil {
		d.log.Error(fmt.Sprintf("blast %s of campaign %s stopped early", blast.ID, campaign.ID), err)
	}

	res := &DispatchResult{BlastID: blast.ID, Sent: job.sent, Bounced: job.bounced}
	res.Skipped = len(rcpts) - res.Sent - res.Bounced
	for _, p := range job.previews {
		if p != nil {
			res.Previews = append(res.Previews, *p)
		}
	}
	d.log.Success("✅ Blast %s of campaign %s finished: %d sent, %d bounced, %d skipped", blast.ID, campaign.ID, res.Sent, res.Bounced, res.Skipped)
	return res, nil
}

// blastJob is the shared state of one running blast
type blastJob struct {
	d        *Dispatcher
	plan     *dispatchPlan
	blast    *models.Blast
	provider transport.Provider
	from     string

	mu       sync.Mutex
	sent     int
	bounced  int
	previews []*Preview
}

// deliver sends to one recipient. Only a rate limiter failure is returned:
// it stops the rest of the blast, and recipients not yet reached get no send
// row so a later blast can still pick them up.
func (j *blastJob) deliver(ctx context.Context, i int, rcpt recipients.Recipient) error {
	d, campaign := j.d, j.plan.campaign
	if ctx.Err() != nil {
		return nil
	}

	if j.plan.emailClient == nil {
		if err := d.throttle.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("rate limiter unavailable before %s: %w", rcpt.Email, err)
		}
	}

	send := &models.Send{
		BlastID:     j.blast.ID,
		CampaignID:  campaign.ID,
		CandidateID: rcpt.CandidateID,
		Email:       rcpt.Email,
	}
	if err := d.store.CreateSend(ctx, send); err != nil {
		d.log.Error(fmt.Sprintf("blast %s: failed to record send to %s", j.blast.ID, rcpt.Email), err)
		return nil
	}

	content, err := d.rewriter.Rewrite(ctx, rewriter.Content{
		Subject: campaign.Subject,
		HTML:    campaign.BodyHTML,
		Text:    campaign.BodyText,
	}, &rewriter.Recipient{
		FirstName:      rcpt.FirstName,
		LastName:       rcpt.LastName,
		PreferencesURL: d.preferencesURL(rcpt.CandidateID, campaign.ID),
	}, send.ID, rewriter.Options{
		OpenTracking:  campaign.EnableOpenTracking,
		ClickTracking: campaign.EnableClickTracking,
		QueryParams:   j.plan.params,
		CustomHTML:    campaign.CustomHTML,
	})
	if err != nil {
		j.fail(ctx, send, err)
		return nil
	}

	if j.plan.emailClient != nil {
		j.mu.Lock()
		j.previews[i] = &Preview{
			SendID:      send.ID,
			CandidateID: rcpt.CandidateID,
			Email:       rcpt.Email,
			Subject:     content.Subject,
			HTML:        content.HTML,
			Text:        content.Text,
		}
		j.mu.Unlock()
		j.succeed(ctx, send)
		return nil
	}

	receipt, err := j.provider.SendEmail(ctx, transport.Message{
		From:    j.from,
		To:      d.deliveryAddress(rcpt.Email, j.plan),
		ReplyTo: campaign.ReplyTo,
		Subject: content.Subject,
		HTML:    content.HTML,
		Text:    content.Text,
	})
	if err != nil {
		j.fail(ctx, send, err)
		return nil
	}

	if err := d.store.RecordDelivery(ctx, send.ID, receipt.MessageID, receipt.RequestID, time.Now()); err != nil {
		d.log.Error(fmt.Sprintf("blast %s: failed to record provider ids of send %s", j.blast.ID, send.ID), err)
	}
	j.succeed(ctx, send)
	return nil
}

func (j *blastJob) succeed(ctx context.Context, send *models.Send) {
	if err := j.d.store.IncrementBlast(ctx, j.blast.ID, repository.CounterSends, 1); err != nil {
		j.d.log.Error(fmt.Sprintf("blast %s: failed to count send %s", j.blast.ID, send.ID), err)
	}
	j.mu.Lock()
	j.sent++
	j.mu.Unlock()
}

// fail marks the send bounced straight away; it is not retried
func (j *blastJob) fail(ctx context.Context, send *models.Send, cause error) {
	j.d.log.Warn("blast %s: send to %s failed: %v", j.blast.ID, send.Email, cause)
	if _, err := j.d.store.MarkSendBounced(context.WithoutCancel(ctx), send); err != nil {
		j.d.log.Error(fmt.Sprintf("blast %s: failed to mark send %s bounced", j.blast.ID, send.ID), err)
	}
	j.mu.Lock()
	j.bounced++
	j.mu.Unlock()
}

func formatFrom(name, address string) string {
	if name == "" {
		return address
	}
	return (&mail.Address{Name: name, Address: address}).String()
}

// deliveryAddress keeps test traffic away from real candidates outside production
func (d *Dispatcher) deliveryAddress(address string, plan *dispatchPlan) string {
	if d.cfg.IsProduction() || d.cfg.IsApprovedTestDomain(plan.domain.Name) {
		return address
	}
	if d.cfg.Mail.TestMailbox != "" {
		return d.cfg.Mail.TestMailbox
	}
	return plan.owner.Email
}

func (d *Dispatcher) preferencesURL(candidateID, campaignID string) string {
	base := d.cfg.Tracking.PreferencesURL
	if base == "" || d.cfg.Tracking.Secret == "" {
		return base
	}
	token, err := utils.SignTrackingToken(d.cfg.Tracking.Secret, utils.TrackingClaims{
		CandidateID: candidateID,
		CampaignID:  campaignID,
	})
	if err != nil {
		d.log.Warn("failed to sign preferences token for candidate %s: %v", candidateID, err)
		return base
	}
	return base + "?token=" + token
}
