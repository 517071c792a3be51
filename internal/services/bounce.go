package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gorm.io/gorm"

	"talentmail/internal/models"
	"talentmail/internal/repository"
	"talentmail/internal/utils/logger"
)

// BounceNotification is a provider report about one message
type BounceNotification struct {
	MessageID        string
	BouncedAddresses []string
	Type             models.NotificationType
}

// BounceReconciler applies asynchronous delivery failures to sends and blasts
type BounceReconciler struct {
	store  *repository.Store
	client *http.Client
	log    *logger.Logger
}

func NewBounceReconciler(store *repository.Store) *BounceReconciler {
	return &BounceReconciler{
		store:  store,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    logger.New("BOUNCE"),
	}
}

// OnBounce records a provider notification. A bounce for a message id that
// was never sent returns ErrUnknownMessage. Replays are harmless: the blast
// counter only moves the first time a send is marked bounced.
func (r *BounceReconciler) OnBounce(ctx context.Context, n BounceNotification) error {
	if n.MessageID == "" {
		return usageErr("notification has no message id")
	}
	event := &models.BounceEvent{Type: n.Type, MessageID: n.MessageID, Recipients: n.BouncedAddresses}

	switch n.Type {
	case models.NotificationComplaint:
		// complaints are stored for audit only
		r.log.Info("complaint received for message %s from %d recipients", n.MessageID, len(n.BouncedAddresses))
		return r.store.CreateBounceEvent(ctx, event)
	case models.NotificationBounce:
	default:
		// delivery, send and open events share the topic and are acknowledged
		r.log.Debug("ignoring %q notification for message %s", n.Type, n.MessageID)
		return nil
	}

	send, err := r.store.GetSendByMessageID(ctx, n.MessageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return r.log.Error("provider bounced a message that was never sent", fmt.Errorf("%w: %s", ErrUnknownMessage, n.MessageID))
		}
		return fmt.Errorf("failed to look up send: %w", err)
	}
	event.SendID = &send.ID

	flipped, err := r.store.MarkSendBounced(ctx, send)
	if err != nil {
		return fmt.Errorf("failed to mark send %s bounced: %w", send.ID, err)
	}
	if !flipped {
		r.log.Debug("send %s was already bounced", send.ID)
	}

	flagged, err := r.store.FlagEmailsBounced(ctx, n.BouncedAddresses)
	if err != nil {
		return fmt.Errorf("failed to flag bounced addresses: %w", err)
	}

	if err := r.store.CreateBounceEvent(ctx, event); err != nil {
		return fmt.Errorf("failed to store bounce event: %w", err)
	}

	r.log.Info("bounce for send %s of blast %s, %d addresses flagged", send.ID, send.BlastID, flagged)
	return nil
}

// snsEnvelope is the outer message SNS posts to HTTP subscribers
type snsEnvelope struct {
	Type         string `json:"Type"`
	MessageID    string `json:"MessageId"`
	TopicArn     string `json:"TopicArn"`
	Message      string `json:"Message"`
	SubscribeURL string `json:"SubscribeURL"`
}

// sesNotification covers both SES notification and event publishing payloads
type sesNotification struct {
	NotificationType string `json:"notificationType"`
	EventType        string `json:"eventType"`
	Mail             struct {
		MessageID string `json:"messageId"`
	} `json:"mail"`
	Bounce struct {
		BounceType        string `json:"bounceType"`
		BouncedRecipients []struct {
			EmailAddress string `json:"emailAddress"`
		} `json:"bouncedRecipients"`
	} `json:"bounce"`
	Complaint struct {
		ComplainedRecipients []struct {
			EmailAddress string `json:"emailAddress"`
		} `json:"complainedRecipients"`
	} `json:"complaint"`
}

// ParseSESNotification unwraps an SES bounce or complaint message
func ParseSESNotification(raw []byte) (*BounceNotification, error) {
	var msg sesNotification
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, usageErr("malformed SES notification: %v", err)
	}

	kind := msg.NotificationType
	if kind == "" {
		kind = msg.EventType
	}

	n := &BounceNotification{MessageID: msg.Mail.MessageID, Type: models.NotificationType(kind)}
	switch n.Type {
	case models.NotificationBounce:
		for _, rcpt := range msg.Bounce.BouncedRecipients {
			n.BouncedAddresses = append(n.BouncedAddresses, rcpt.EmailAddress)
		}
	case models.NotificationComplaint:
		for _, rcpt := range msg.Complaint.ComplainedRecipients {
			n.BouncedAddresses = append(n.BouncedAddresses, rcpt.EmailAddress)
		}
	}
	return n, nil
}

// HandleSNS processes one SNS HTTP delivery. Subscription confirmations are
// answered by visiting SubscribeURL; notifications go through OnBounce.
func (r *BounceReconciler) HandleSNS(ctx context.Context, body []byte) error {
	var env snsEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return usageErr("malformed SNS message: %v", err)
	}

	switch env.Type {
	case "SubscriptionConfirmation":
		return r.confirmSubscription(ctx, env)
	case "Notification":
		n, err := ParseSESNotification([]byte(env.Message))
		if err != nil {
			return err
		}
		return r.OnBounce(ctx, *n)
	case "UnsubscribeConfirmation":
		r.log.Warn("SNS topic %s unsubscribed this endpoint", env.TopicArn)
		return nil
	default:
		// raw message delivery posts the SES payload without an envelope
		n, err := ParseSESNotification(body)
		if err != nil {
			return err
		}
		return r.OnBounce(ctx, *n)
	}
}

func (r *BounceReconciler) confirmSubscription(ctx context.Context, env snsEnvelope) error {
	u, err := url.Parse(env.SubscribeURL)
	if err != nil || u.Scheme != "https" || !strings.HasSuffix(u.Hostname(), ".amazonaws.com") {
		return usageErr("refusing to confirm subscription at %q", env.SubscribeURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to confirm SNS subscription: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("SNS subscription confirmation returned status %d", resp.StatusCode)
	}

	r.log.Success("confirmed SNS subscription to %s", env.TopicArn)
	return nil
}
