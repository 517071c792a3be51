package models

import (
	"gorm.io/gorm"
)

// GetCampaignByID loads a live campaign
func GetCampaignByID(id string, db *gorm.DB) (*Campaign, error) {
	campaign := &Campaign{}
	if err := db.Where("id = ? AND is_deleted = ?", id, false).First(campaign).Error; err != nil {
		return nil, err
	}
	return campaign, nil
}

// GetSendByMessageID finds the send a provider message id was recorded on
func GetSendByMessageID(messageID string, db *gorm.DB) (*Send, error) {
	send := &Send{}
	if err := db.Where("ses_message_id = ?", messageID).First(send).Error; err != nil {
		return nil, err
	}
	return send, nil
}

// GetCampaignListIDs returns the ids of the lists bound to a campaign,
// in the order they were bound
func GetCampaignListIDs(campaignID string, db *gorm.DB) ([]string, error) {
	var ids []string
	err := db.Model(&CampaignSmartlist{}).
		Where("campaign_id = ?", campaignID).
		Order("created_at ASC").
		Pluck("smartlist_id", &ids).Error
	return ids, err
}
