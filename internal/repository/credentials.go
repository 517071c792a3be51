package repository

import (
	"context"

	"talentmail/internal/models"
)

// CreateCredentials stores a credentials record. The password must already be sealed.
func (s *Store) CreateCredentials(ctx context.Context, creds *models.EmailClientCredentials) error {
	return translate(s.db.WithContext(ctx).Create(creds).Error)
}

func (s *Store) GetCredentials(ctx context.Context, id string) (*models.EmailClientCredentials, error) {
	creds := &models.EmailClientCredentials{}
	if err := s.db.WithContext(ctx).Where("is_deleted = ?", false).First(creds, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return creds, nil
}

func (s *Store) ListCredentials(ctx context.Context) ([]models.EmailClientCredentials, error) {
	var creds []models.EmailClientCredentials
	err := s.db.WithContext(ctx).Where("is_deleted = ?", false).Order("created_at ASC").Find(&creds).Error
	return creds, err
}

func (s *Store) ListUserCredentials(ctx context.Context, userID string) ([]models.EmailClientCredentials, error) {
	var creds []models.EmailClientCredentials
	err := s.db.WithContext(ctx).Where("user_id = ? AND is_deleted = ?", userID, false).Order("created_at ASC").Find(&creds).Error
	return creds, err
}

// SaveConversation inserts conv unless an identical conversation already
// exists for the same owner, candidate and credentials. It reports whether a
// row was created; on a duplicate conv is overwritten with the stored row.
func (s *Store) SaveConversation(ctx context.Context, conv *models.Conversation) (bool, error) {
	var existing []models.Conversation
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND candidate_id = ? AND credentials_id = ? AND subject = ? AND body = ?",
			conv.UserID, conv.CandidateID, conv.CredentialsID, conv.Subject, conv.Body).
		Limit(1).
		Find(&existing).Error
	if err != nil {
		return false, err
	}
	if len(existing) > 0 {
		*conv = existing[0]
		return false, nil
	}
	if err := s.db.WithContext(ctx).Create(conv).Error; err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) CountConversations(ctx context.Context, credentialsID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Conversation{}).Where("credentials_id = ?", credentialsID).Count(&n).Error
	return n, err
}

func (s *Store) CreateBounceEvent(ctx context.Context, event *models.BounceEvent) error {
	return s.db.WithContext(ctx).Create(event).Error
}
