package repository

import (
	"context"
	"strings"

	"talentmail/internal/models"
)

// CandidateAddress pairs a candidate with one of its addresses
type CandidateAddress struct {
	CandidateID string
	Email       string
}

// SubscriptionPreferences returns the existing preference rows keyed by candidate
func (s *Store) SubscriptionPreferences(ctx context.Context, candidateIDs []string) (map[string]*models.SubscriptionPreference, error) {
	out := make(map[string]*models.SubscriptionPreference, len(candidateIDs))
	err := chunks(candidateIDs, func(part []string) error {
		var rows []models.SubscriptionPreference
		if err := s.db.WithContext(ctx).Where("candidate_id IN ?", part).Find(&rows).Error; err != nil {
			return err
		}
		for i := range rows {
			out[rows[i].CandidateID] = &rows[i]
		}
		return nil
	})
	return out, err
}

// SentCandidateIDs returns candidates with at least one send for the campaign, in any blast
func (s *Store) SentCandidateIDs(ctx context.Context, campaignID string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&models.Send{}).
		Where("campaign_id = ?", campaignID).
		Distinct("candidate_id").
		Pluck("candidate_id", &ids).Error
	return ids, err
}

// CandidateEmails returns addresses of the candidates in insertion order
func (s *Store) CandidateEmails(ctx context.Context, candidateIDs []string) ([]models.CandidateEmail, error) {
	var emails []models.CandidateEmail
	err := chunks(candidateIDs, func(part []string) error {
		var rows []models.CandidateEmail
		err := s.db.WithContext(ctx).
			Where("candidate_id IN ? AND is_deleted = ?", part, false).
			Order("created_at ASC").
			Find(&rows).Error
		if err != nil {
			return err
		}
		emails = append(emails, rows...)
		return nil
	})
	return emails, err
}

func (s *Store) Candidates(ctx context.Context, candidateIDs []string) ([]models.Candidate, error) {
	var candidates []models.Candidate
	err := chunks(candidateIDs, func(part []string) error {
		var rows []models.Candidate
		if err := s.db.WithContext(ctx).Where("id IN ?", part).Find(&rows).Error; err != nil {
			return err
		}
		candidates = append(candidates, rows...)
		return nil
	})
	return candidates, err
}

// DomainCandidateAddresses returns every candidate address in a domain
func (s *Store) DomainCandidateAddresses(ctx context.Context, domainID string) ([]CandidateAddress, error) {
	var out []CandidateAddress
	err := s.db.WithContext(ctx).
		Table("candidate_emails").
		Select("candidate_emails.candidate_id AS candidate_id, candidate_emails.address AS email").
		Joins("JOIN candidates ON candidates.id = candidate_emails.candidate_id").
		Where("candidates.domain_id = ? AND candidates.is_deleted = ? AND candidate_emails.is_deleted = ?", domainID, false, false).
		Order("candidate_emails.created_at ASC").
		Scan(&out).Error
	return out, err
}

// FlagEmailsBounced marks every matching address as bounced, across all domains
func (s *Store) FlagEmailsBounced(ctx context.Context, addresses []string) (int64, error) {
	lowered := make([]string, 0, len(addresses))
	for _, a := range addresses {
		if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
			lowered = append(lowered, a)
		}
	}
	if len(lowered) == 0 {
		return 0, nil
	}

	var total int64
	err := chunks(lowered, func(part []string) error {
		res := s.db.WithContext(ctx).Model(&models.CandidateEmail{}).
			Where("LOWER(address) IN ?", part).
			Update("is_bounced", true)
		total += res.RowsAffected
		return res.Error
	})
	return total, err
}
