package models

import (
	"time"

	"gorm.io/datatypes"
)

// Domain is a customer organisation. Users, candidates and lists belong to one.
type Domain struct {
	Base
	Name string `gorm:"not null;uniqueIndex" json:"name" validate:"required"`
}

type User struct {
	Base
	Email     string `gorm:"not null;uniqueIndex" json:"email" validate:"required,email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	DomainID  string `gorm:"type:uuid;not null;index" json:"domainId" validate:"required,uuid"`
}

type Candidate struct {
	Base
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	DomainID  string `gorm:"type:uuid;not null;index" json:"domainId" validate:"required,uuid"`
}

// CandidateEmail is one address of a candidate. A candidate may own several.
type CandidateEmail struct {
	Base
	CandidateID string `gorm:"type:uuid;not null;index" json:"candidateId"`
	Address     string `gorm:"not null;index" json:"address" validate:"required,email"`
	IsBounced   bool   `gorm:"not null;default:false" json:"isBounced"`
}

// SubscriptionPreference holds a candidate's opt-in frequency.
// A nil Frequency means the candidate asked for "never".
type SubscriptionPreference struct {
	Base
	CandidateID string     `gorm:"type:uuid;not null;uniqueIndex" json:"candidateId"`
	Frequency   *Frequency `gorm:"type:varchar(16)" json:"frequency"`
}

// Smartlist is an externally managed group of candidates
type Smartlist struct {
	Base
	Name     string `gorm:"not null" json:"name"`
	UserID   string `gorm:"type:uuid;not null;index" json:"userId"`
	DomainID string `gorm:"type:uuid;not null;index" json:"domainId"`
}

// EmailClient is a caller-side client (browser plugin, desktop add-in) that
// delivers mail itself
type EmailClient struct {
	Base
	Name string `gorm:"not null;uniqueIndex" json:"name" validate:"required"`
}

// EmailClientCredentials are user-supplied SMTP, IMAP or POP account details.
// Password holds the sealed secret; it is never serialised.
type EmailClientCredentials struct {
	Base
	UserID   string `gorm:"type:uuid;not null;uniqueIndex:idx_credentials_owner_host_email" json:"userId"`
	Name     string `json:"name"`
	Host     string `gorm:"not null;uniqueIndex:idx_credentials_owner_host_email" json:"host" validate:"required"`
	Port     int    `gorm:"not null" json:"port" validate:"required,min=1,max=65535"`
	Email    string `gorm:"not null;uniqueIndex:idx_credentials_owner_host_email" json:"email" validate:"required,email"`
	Password string `gorm:"not null" json:"-"`
}

type Campaign struct {
	Base
	UserID                   string         `gorm:"type:uuid;not null;index" json:"userId"`
	Name                     string         `gorm:"not null" json:"name"`
	Subject                  string         `gorm:"not null" json:"subject"`
	FromName                 string         `json:"fromName"`
	FromAddress              string         `json:"fromAddress"`
	ReplyTo                  string         `json:"replyTo"`
	BodyHTML                 string         `gorm:"type:text" json:"bodyHtml"`
	BodyText                 string         `gorm:"type:text" json:"bodyText"`
	Frequency                Frequency      `gorm:"type:varchar(16);not null;default:ONCE" json:"frequency"`
	StartAt                  *time.Time     `json:"startAt"`
	StopAt                   *time.Time     `json:"stopAt"`
	NextRunAt                *time.Time     `gorm:"index" json:"nextRunAt"`
	IsSubscription           bool           `gorm:"not null;default:false" json:"isSubscription"`
	IsHidden                 bool           `gorm:"not null;default:false" json:"isHidden"`
	EmailClientID            *string        `gorm:"type:uuid" json:"emailClientId"`
	EmailClientCredentialsID *string        `gorm:"type:uuid" json:"emailClientCredentialsId"`
	EnableOpenTracking       bool           `gorm:"not null" json:"enableOpenTracking"`
	EnableClickTracking      bool           `gorm:"not null" json:"enableClickTracking"`
	CustomParams             datatypes.JSON `json:"customParams"`
	CustomHTML               string         `gorm:"type:text" json:"customHtml"`
}

// CampaignSmartlist binds a campaign to one of its lists
type CampaignSmartlist struct {
	Base
	CampaignID  string `gorm:"type:uuid;not null;uniqueIndex:idx_campaign_smartlist" json:"campaignId"`
	SmartlistID string `gorm:"type:uuid;not null;uniqueIndex:idx_campaign_smartlist" json:"smartlistId"`
}

// Blast is one dispatch of a campaign. Counters only ever grow.
type Blast struct {
	Base
	CampaignID string    `gorm:"type:uuid;not null;index" json:"campaignId"`
	SentAt     time.Time `gorm:"not null" json:"sentAt"`
	Sends      int       `gorm:"not null;default:0" json:"sends"`
	Bounces    int       `gorm:"not null;default:0" json:"bounces"`
	Opens      int       `gorm:"not null;default:0" json:"opens"`
	HTMLClicks int       `gorm:"column:html_clicks;not null;default:0" json:"htmlClicks"`
	TextClicks int       `gorm:"not null;default:0" json:"textClicks"`
}

// Send is one recipient of a blast
type Send struct {
	Base
	BlastID      string     `gorm:"type:uuid;not null;index" json:"blastId"`
	CampaignID   string     `gorm:"type:uuid;not null;index" json:"campaignId"`
	CandidateID  string     `gorm:"type:uuid;not null;index" json:"candidateId"`
	Email        string     `gorm:"not null" json:"email"`
	SESMessageID string     `gorm:"column:ses_message_id;index" json:"sesMessageId"`
	SESRequestID string     `gorm:"column:ses_request_id" json:"sesRequestId"`
	IsBounced    bool       `gorm:"not null;default:false" json:"isBounced"`
	SentAt       *time.Time `json:"sentAt"`
}

// URLConversion maps a tracking id to its destination
type URLConversion struct {
	Base
	SendID      string         `gorm:"type:uuid;not null;index" json:"sendId"`
	Kind        ConversionKind `gorm:"type:varchar(16);not null" json:"kind"`
	Destination string         `gorm:"type:text" json:"destination"`
	HitCount    int            `gorm:"not null;default:0" json:"hitCount"`
	LastHitAt   *time.Time     `json:"lastHitAt"`
	FirstHitAt  *time.Time     `json:"firstHitAt"`
}

// CampaignActivity records the first open or click of a send
type CampaignActivity struct {
	Base
	Type            ActivityType `gorm:"type:varchar(32);not null" json:"type"`
	CampaignID      string       `gorm:"type:uuid;not null;index" json:"campaignId"`
	BlastID         string       `gorm:"type:uuid;not null;index" json:"blastId"`
	SendID          string       `gorm:"type:uuid;not null;index" json:"sendId"`
	CandidateID     string       `gorm:"type:uuid;not null" json:"candidateId"`
	URLConversionID string       `gorm:"type:uuid;not null" json:"urlConversionId"`
	IPAddress       string       `json:"ipAddress"`
	UserAgent       string       `json:"userAgent"`
	DeviceType      string       `json:"deviceType"`
	Browser         string       `json:"browser"`
	OS              string       `json:"os"`
}

// BounceEvent is an audit row for every provider notification received
type BounceEvent struct {
	Base
	Type       NotificationType            `gorm:"type:varchar(16);not null" json:"type"`
	MessageID  string                      `gorm:"not null;index" json:"messageId"`
	SendID     *string                     `gorm:"type:uuid" json:"sendId"`
	Recipients datatypes.JSONSlice[string] `json:"recipients"`
}

// Conversation is an inbound message imported from a candidate's mailbox
type Conversation struct {
	Base
	UserID        string    `gorm:"type:uuid;not null;index" json:"userId"`
	CandidateID   string    `gorm:"type:uuid;not null;index" json:"candidateId"`
	CredentialsID string    `gorm:"type:uuid;not null;index" json:"credentialsId"`
	Mailbox       string    `json:"mailbox"`
	Subject       string    `json:"subject"`
	Body          string    `gorm:"type:text" json:"body"`
	ReceivedAt    time.Time `json:"receivedAt"`
	ArchiveKey    string    `json:"archiveKey,omitempty"`
}
