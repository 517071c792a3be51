package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/mssola/user_agent"
	"gorm.io/gorm"

	"talentmail/internal/config"
	"talentmail/internal/models"
	"talentmail/internal/repository"
	"talentmail/internal/utils"
	"talentmail/internal/utils/logger"
)

// HitMeta describes the request behind one redirect hit
type HitMeta struct {
	IPAddress string
	UserAgent string
	// Query is the query string of the tracking URL. token is checked and
	// dropped; everything else is forwarded to the destination.
	Query url.Values
}

// HitResult tells the handler how to answer a hit
type HitResult struct {
	// Location is the redirect target; empty when Pixel is set
	Location string
	// Pixel asks for the built-in transparent GIF
	Pixel bool
	First bool
}

// TrackingService counts redirect hits on tracking links
type TrackingService struct {
	store *repository.Store
	cfg   config.TrackingConfig
	now   func() time.Time
	log   *logger.Logger
}

func NewTrackingService(store *repository.Store, cfg config.TrackingConfig) *TrackingService {
	return &TrackingService{
		store: store,
		cfg:   cfg,
		now:   time.Now,
		log:   logger.New("TRACKING"),
	}
}

// Hit records one visit of a tracking link and resolves where to send the visitor
func (s *TrackingService) Hit(ctx context.Context, conversionID string, meta HitMeta) (*HitResult, error) {
	if err := s.verify(conversionID, meta.Query.Get("token")); err != nil {
		return nil, err
	}

	hit, err := s.store.RecordHit(ctx, conversionID, s.now(), activityFor(meta))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: conversion %s", ErrNotFound, conversionID)
		}
		return nil, fmt.Errorf("failed to record hit on %s: %w", conversionID, err)
	}
	if hit.First && hit.Send != nil {
		s.log.Debug("first %s of send %s", hit.Conversion.Kind, hit.Send.ID)
	}

	res := &HitResult{First: hit.First}
	switch dest := hit.Conversion.Destination; dest {
	case "":
		res.Pixel = true
	case "#":
		res.Location = s.cfg.FallbackURL
	default:
		res.Location = s.forward(dest, meta.Query)
	}
	if !res.Pixel && res.Location == "" {
		// no fallback configured
		res.Pixel = true
	}
	return res, nil
}

// verify checks the token when one was sent. Links minted without a secret carry none.
func (s *TrackingService) verify(conversionID, token string) error {
	if token == "" || s.cfg.Secret == "" {
		return nil
	}
	claims, err := utils.ParseTrackingToken(s.cfg.Secret, token)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidUsage, err)
	}
	if claims.ConversionID != conversionID {
		return usageErr("tracking token does not match conversion %s", conversionID)
	}
	return nil
}

// forward appends the extra query params of the tracking URL to dest
func (s *TrackingService) forward(dest string, query url.Values) string {
	u, err := url.Parse(dest)
	if err != nil {
		s.log.Warn("unparseable destination %q, using fallback", dest)
		return s.cfg.FallbackURL
	}

	q := u.Query()
	forwarded := false
	for k, vs := range query {
		if k == "token" {
			continue
		}
		for _, v := range vs {
			q.Add(k, v)
		}
		forwarded = true
	}
	if forwarded {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func activityFor(meta HitMeta) *models.CampaignActivity {
	ua := user_agent.New(meta.UserAgent)

	deviceType := "desktop"
	if ua.Mobile() {
		deviceType = "mobile"
	}
	browser, version := ua.Browser()
	if version != "" {
		browser += " " + version
	}

	return &models.CampaignActivity{
		IPAddress:  meta.IPAddress,
		UserAgent:  meta.UserAgent,
		DeviceType: deviceType,
		Browser:    browser,
		OS:         ua.OS(),
	}
}
