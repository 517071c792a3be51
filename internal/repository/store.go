// Package repository is the gorm-backed store behind the campaign engine.
// Every cross-entity read is an explicit query; no associations are preloaded.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"talentmail/internal/models"
)

// ErrDuplicate is returned when a unique constraint rejects a write
var ErrDuplicate = errors.New("record already exists")

// inClauseChunk keeps IN lists well below postgres' bind parameter limit
const inClauseChunk = 1000

type Store struct {
	db *gorm.DB

	Blasts *Table[models.Blast]
}

func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:     db,
		Blasts: NewTable(db, models.Blast{}),
	}
}

// DB exposes the underlying connection for callers that compose their own queries
func (s *Store) DB() *gorm.DB {
	return s.db
}

// translate maps unique violations from either dialect onto ErrDuplicate
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrDuplicate, pqErr.Detail)
	}
	return err
}

func chunks(ids []string, fn func([]string) error) error {
	for start := 0; start < len(ids); start += inClauseChunk {
		end := start + inClauseChunk
		if end > len(ids) {
			end = len(ids)
		}
		if err := fn(ids[start:end]); err != nil {
			return err
		}
	}
	return nil
}

// 📋 Campaigns

func (s *Store) GetCampaign(ctx context.Context, id string) (*models.Campaign, error) {
	return models.GetCampaignByID(id, s.db.WithContext(ctx))
}

func (s *Store) CampaignListIDs(ctx context.Context, campaignID string) ([]string, error) {
	return models.GetCampaignListIDs(campaignID, s.db.WithContext(ctx))
}

// CreateCampaign stores the campaign together with its list bindings
func (s *Store) CreateCampaign(ctx context.Context, campaign *models.Campaign, listIDs []string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(campaign).Error; err != nil {
			return translate(err)
		}
		for _, listID := range listIDs {
			binding := &models.CampaignSmartlist{CampaignID: campaign.ID, SmartlistID: listID}
			if err := tx.Create(binding).Error; err != nil {
				return translate(err)
			}
		}
		return nil
	})
}

func (s *Store) Smartlists(ctx context.Context, ids []string) ([]models.Smartlist, error) {
	var lists []models.Smartlist
	err := chunks(ids, func(part []string) error {
		var rows []models.Smartlist
		if err := s.db.WithContext(ctx).Where("id IN ? AND is_deleted = ?", part, false).Find(&rows).Error; err != nil {
			return err
		}
		lists = append(lists, rows...)
		return nil
	})
	return lists, err
}

func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	user := &models.User{}
	if err := s.db.WithContext(ctx).First(user, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return user, nil
}

func (s *Store) GetDomain(ctx context.Context, id string) (*models.Domain, error) {
	domain := &models.Domain{}
	if err := s.db.WithContext(ctx).First(domain, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return domain, nil
}

func (s *Store) GetEmailClient(ctx context.Context, id string) (*models.EmailClient, error) {
	client := &models.EmailClient{}
	if err := s.db.WithContext(ctx).First(client, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return client, nil
}

// DueCampaigns returns live, unarchived campaigns whose next run is at or
// before now and whose stop time has not passed
func (s *Store) DueCampaigns(ctx context.Context, now time.Time) ([]models.Campaign, error) {
	var campaigns []models.Campaign
	err := s.db.WithContext(ctx).
		Where("is_deleted = ? AND is_hidden = ? AND next_run_at IS NOT NULL AND next_run_at <= ?", false, false, now).
		Where("stop_at IS NULL OR stop_at > ?", now).
		Order("next_run_at ASC").
		Find(&campaigns).Error
	return campaigns, err
}

// SetNextRun moves a campaign's schedule; nil clears it
func (s *Store) SetNextRun(ctx context.Context, campaignID string, next *time.Time) error {
	return s.db.WithContext(ctx).Model(&models.Campaign{}).
		Where("id = ?", campaignID).
		Update("next_run_at", next).Error
}
