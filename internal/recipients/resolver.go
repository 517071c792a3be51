// Package recipients turns a campaign's lists into the deduplicated set of
// addresses a blast is sent to.
package recipients

import (
	"context"
	"fmt"
	"strings"

	"talentmail/internal/models"
	"talentmail/internal/utils/logger"
)

// Store is the candidate data the resolver reads
type Store interface {
	// SubscriptionPreferences returns the preference rows that exist for the
	// given candidates, keyed by candidate id
	SubscriptionPreferences(ctx context.Context, candidateIDs []string) (map[string]*models.SubscriptionPreference, error)
	// SentCandidateIDs returns the candidates that already have a send for the campaign
	SentCandidateIDs(ctx context.Context, campaignID string) ([]string, error)
	// CandidateEmails returns addresses ordered by insertion
	CandidateEmails(ctx context.Context, candidateIDs []string) ([]models.CandidateEmail, error)
	Candidates(ctx context.Context, candidateIDs []string) ([]models.Candidate, error)
}

// Recipient is one resolved address of a blast
type Recipient struct {
	CandidateID string
	Email       string
	FirstName   string
	LastName    string
}

type Resolver struct {
	lists ListService
	store Store
	log   *logger.Logger
}

func NewResolver(lists ListService, store Store) *Resolver {
	return &Resolver{
		lists: lists,
		store: store,
		log:   logger.New("RECIPIENTS"),
	}
}

// Resolve returns the recipients of campaign across listIDs, unique by email.
// When newOnly is set, candidates that already received the campaign are left out.
func (r *Resolver) Resolve(ctx context.Context, campaign *models.Campaign, listIDs []string, newOnly bool) ([]Recipient, error) {
	candidateIDs, err := r.members(ctx, listIDs)
	if err != nil {
		return nil, err
	}
	if len(candidateIDs) == 0 {
		return nil, nil
	}

	candidateIDs, err = r.filterSubscriptions(ctx, campaign, candidateIDs)
	if err != nil {
		return nil, err
	}

	if newOnly && len(candidateIDs) > 0 {
		sent, err := r.store.SentCandidateIDs(ctx, campaign.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load previous sends: %w", err)
		}
		candidateIDs = subtract(candidateIDs, sent)
	}
	if len(candidateIDs) == 0 {
		return nil, nil
	}

	recipients, err := r.addresses(ctx, candidateIDs)
	if err != nil {
		return nil, err
	}
	r.log.Debug("campaign %s resolved to %d recipients from %d lists", campaign.ID, len(recipients), len(listIDs))
	return recipients, nil
}

func (r *Resolver) members(ctx context.Context, listIDs []string) ([]string, error) {
	seen := make(map[string]bool)
	var ids []string
	for _, listID := range listIDs {
		members, err := r.lists.CandidateIDs(ctx, listID)
		if err != nil {
			return nil, err
		}
		for _, id := range members {
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// filterSubscriptions keeps exact frequency matches for subscription campaigns.
// Other campaigns drop only candidates whose preference frequency is null;
// candidates with no preference row stay in.
func (r *Resolver) filterSubscriptions(ctx context.Context, campaign *models.Campaign, candidateIDs []string) ([]string, error) {
	prefs, err := r.store.SubscriptionPreferences(ctx, candidateIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription preferences: %w", err)
	}

	kept := make([]string, 0, len(candidateIDs))
	for _, id := range candidateIDs {
		pref, ok := prefs[id]
		if campaign.IsSubscription {
			if ok && pref.Frequency != nil && *pref.Frequency == campaign.Frequency {
				kept = append(kept, id)
			}
			continue
		}
		if ok && pref.Frequency == nil {
			continue
		}
		kept = append(kept, id)
	}
	return kept, nil
}

func (r *Resolver) addresses(ctx context.Context, candidateIDs []string) ([]Recipient, error) {
	emails, err := r.store.CandidateEmails(ctx, candidateIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidate emails: %w", err)
	}
	candidates, err := r.store.Candidates(ctx, candidateIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidates: %w", err)
	}

	// last address in insertion order wins
	latest := make(map[string]string, len(candidateIDs))
	for _, e := range emails {
		latest[e.CandidateID] = e.Address
	}
	names := make(map[string]models.Candidate, len(candidates))
	for _, c := range candidates {
		names[c.ID] = c
	}

	seen := make(map[string]bool)
	out := make([]Recipient, 0, len(candidateIDs))
	for _, id := range candidateIDs {
		address, ok := latest[id]
		if !ok {
			r.log.Debug("candidate %s has no email address, skipped", id)
			continue
		}
		key := strings.ToLower(strings.TrimSpace(address))
		if seen[key] {
			continue
		}
		seen[key] = true

		c := names[id]
		out = append(out, Recipient{
			CandidateID: id,
			Email:       address,
			FirstName:   c.FirstName,
			LastName:    c.LastName,
		})
	}
	return out, nil
}

func subtract(ids, remove []string) []string {
	if len(remove) == 0 {
		return ids
	}
	drop := make(map[string]bool, len(remove))
	for _, id := range remove {
		drop[id] = true
	}
	kept := ids[:0]
	for _, id := range ids {
		if !drop[id] {
			kept = append(kept, id)
		}
	}
	return kept
}
