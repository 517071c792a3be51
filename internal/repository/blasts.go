package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"talentmail/internal/models"
)

// BlastCounter names an aggregate column on blasts
type BlastCounter string

const (
	CounterSends      BlastCounter = "sends"
	CounterBounces    BlastCounter = "bounces"
	CounterOpens      BlastCounter = "opens"
	CounterHTMLClicks BlastCounter = "html_clicks"
	CounterTextClicks BlastCounter = "text_clicks"
)

func (c BlastCounter) valid() bool {
	switch c {
	case CounterSends, CounterBounces, CounterOpens, CounterHTMLClicks, CounterTextClicks:
		return true
	}
	return false
}

// CounterFor returns the blast counter bumped on the first hit of a conversion
func CounterFor(kind models.ConversionKind) BlastCounter {
	if kind == models.ConversionOpen {
		return CounterOpens
	}
	return CounterHTMLClicks
}

// 💥 Blasts

var _ CRUD[models.Blast] = (*Table[models.Blast])(nil)

func (s *Store) CreateBlast(ctx context.Context, blast *models.Blast) error {
	return s.Blasts.Create(ctx, blast)
}

func (s *Store) GetBlast(ctx context.Context, id string) (*models.Blast, error) {
	return s.Blasts.Get(ctx, id)
}

// IncrementBlast adds n to one counter in a single UPDATE so concurrent
// writers never lose an increment
func (s *Store) IncrementBlast(ctx context.Context, blastID string, counter BlastCounter, n int) error {
	return incrementBlast(s.db.WithContext(ctx), blastID, counter, n)
}

func incrementBlast(tx *gorm.DB, blastID string, counter BlastCounter, n int) error {
	if !counter.valid() {
		return fmt.Errorf("unknown blast counter %q", counter)
	}
	col := string(counter)
	return tx.Model(&models.Blast{}).
		Where("id = ?", blastID).
		UpdateColumn(col, gorm.Expr(col+" + ?", n)).Error
}

// ListCampaignBlasts returns every blast of a campaign, newest first
func (s *Store) ListCampaignBlasts(ctx context.Context, campaignID string, page, limit int) ([]models.Blast, int64, error) {
	return s.Blasts.List(ctx, page, limit, map[string]interface{}{"campaign_id": campaignID})
}

// ✉️ Sends

func (s *Store) CreateSend(ctx context.Context, send *models.Send) error {
	return s.db.WithContext(ctx).Create(send).Error
}

// RecordDelivery stores the provider ids of an accepted send
func (s *Store) RecordDelivery(ctx context.Context, sendID, messageID, requestID string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&models.Send{}).
		Where("id = ?", sendID).
		Updates(map[string]interface{}{
			"ses_message_id": messageID,
			"ses_request_id": requestID,
			"sent_at":        at,
		}).Error
}

// MarkSendBounced flips is_bounced and bumps the blast's bounce counter in
// one transaction. It reports false when the send was already bounced.
func (s *Store) MarkSendBounced(ctx context.Context, send *models.Send) (bool, error) {
	flipped := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Send{}).
			Where("id = ? AND is_bounced = ?", send.ID, false).
			Update("is_bounced", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		flipped = true
		return incrementBlast(tx, send.BlastID, CounterBounces, 1)
	})
	if err == nil && flipped {
		send.IsBounced = true
	}
	return flipped, err
}

func (s *Store) GetSendByMessageID(ctx context.Context, messageID string) (*models.Send, error) {
	return models.GetSendByMessageID(messageID, s.db.WithContext(ctx))
}

func (s *Store) SendsForBlast(ctx context.Context, blastID string) ([]models.Send, error) {
	var sends []models.Send
	err := s.db.WithContext(ctx).Where("blast_id = ?", blastID).Order("created_at ASC").Find(&sends).Error
	return sends, err
}

// 🔗 Tracking

func (s *Store) CreateURLConversion(ctx context.Context, conversion *models.URLConversion) error {
	return s.db.WithContext(ctx).Create(conversion).Error
}

func (s *Store) GetURLConversion(ctx context.Context, id string) (*models.URLConversion, error) {
	conversion := &models.URLConversion{}
	if err := s.db.WithContext(ctx).First(conversion, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return conversion, nil
}

// Hit is the outcome of one redirect hit
type Hit struct {
	Conversion *models.URLConversion
	Send       *models.Send
	// First is true for exactly one hit per conversion
	First bool
}

// RecordHit counts a redirect hit. The first hit, decided by a conditional
// update on first_hit_at, also bumps the blast counter for the conversion
// kind and stores activity, which is filled in with the send's ids.
func (s *Store) RecordHit(ctx context.Context, conversionID string, at time.Time, activity *models.CampaignActivity) (*Hit, error) {
	hit := &Hit{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.URLConversion{}).
			Where("id = ?", conversionID).
			UpdateColumns(map[string]interface{}{
				"hit_count":   gorm.Expr("hit_count + ?", 1),
				"last_hit_at": at,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}

		res = tx.Model(&models.URLConversion{}).
			Where("id = ? AND first_hit_at IS NULL", conversionID).
			UpdateColumn("first_hit_at", at)
		if res.Error != nil {
			return res.Error
		}
		hit.First = res.RowsAffected == 1

		conversion := &models.URLConversion{}
		if err := tx.First(conversion, "id = ?", conversionID).Error; err != nil {
			return err
		}
		hit.Conversion = conversion

		send := &models.Send{}
		if err := tx.First(send, "id = ?", conversion.SendID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				// orphaned conversion still redirects
				return nil
			}
			return err
		}
		hit.Send = send

		if !hit.First {
			return nil
		}
		if err := incrementBlast(tx, send.BlastID, CounterFor(conversion.Kind), 1); err != nil {
			return err
		}
		if activity == nil {
			return nil
		}
		activity.Type = conversion.Kind.Activity()
		activity.CampaignID = send.CampaignID
		activity.BlastID = send.BlastID
		activity.SendID = send.ID
		activity.CandidateID = send.CandidateID
		activity.URLConversionID = conversion.ID
		return tx.Create(activity).Error
	})
	if err != nil {
		return nil, err
	}
	return hit, nil
}
