package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Base contains common columns for all tables
type Base struct {
	ID        string    `gorm:"type:uuid;primary_key" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	DeletedAt time.Time `gorm:"index;default:NULL" json:"-" validate:"omitempty"`
	IsDeleted bool      `json:"isDeleted" default:"false"`
}

// BeforeCreate will set a UUID rather than numeric ID
func (base *Base) BeforeCreate(tx *gorm.DB) error {
	if base.ID == "" {
		base.ID = uuid.New().String()
	}
	return nil
}

type Frequency string
type ConversionKind string
type NotificationType string
type ActivityType string

// Frequency constants, shared by campaigns and subscription preferences
const (
	FrequencyOnce     Frequency = "ONCE"
	FrequencyDaily    Frequency = "DAILY"
	FrequencyWeekly   Frequency = "WEEKLY"
	FrequencyBiweekly Frequency = "BIWEEKLY"
	FrequencyMonthly  Frequency = "MONTHLY"
	FrequencyYearly   Frequency = "YEARLY"
)

// Conversion kind constants
const (
	ConversionOpen      ConversionKind = "OPEN"
	ConversionHTMLClick ConversionKind = "HTML_CLICK"
)

// Provider notification constants
const (
	NotificationBounce    NotificationType = "Bounce"
	NotificationComplaint NotificationType = "Complaint"
)

// Activity type constants
const (
	ActivityCampaignOpen  ActivityType = "CAMPAIGN_EMAIL_OPEN"
	ActivityCampaignClick ActivityType = "CAMPAIGN_EMAIL_CLICK"
)

// Valid reports whether f is a known frequency
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyOnce, FrequencyDaily, FrequencyWeekly, FrequencyBiweekly, FrequencyMonthly, FrequencyYearly:
		return true
	}
	return false
}

// Recurring reports whether campaigns with this frequency run more than once
func (f Frequency) Recurring() bool {
	return f.Valid() && f != FrequencyOnce
}

// Activity returns the activity recorded when a conversion of this kind is first hit
func (k ConversionKind) Activity() ActivityType {
	if k == ConversionOpen {
		return ActivityCampaignOpen
	}
	return ActivityCampaignClick
}
