// Package push delivers Web Push notifications to users without an open connection.
package push

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/dmchat/internal/logger"
	"github.com/dmchat/internal/model"
	"github.com/dmchat/internal/observability"
)

// SubscriptionStore is the part of storage.PushSubscriptions the sender needs.
type SubscriptionStore interface {
	Subscriptions(ctx context.Context, userID string) ([]model.PushSubscription, error)
	RemoveSubscription(ctx context.Context, userID, endpoint string) error
}

// Notification is the JSON body the service worker receives.
type Notification struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

type Sender struct {
	subs SubscriptionStore
	opts webpush.Options
}

// NewSender builds a sender signing with keys. httpClient may be nil.
func NewSender(subs SubscriptionStore, keys *VAPIDKeys, subject string, ttl int, httpClient webpush.HTTPClient) *Sender {
	if ttl <= 0 {
		ttl = 3600
	}
	return &Sender{
		subs: subs,
		opts: webpush.Options{
			HTTPClient:      httpClient,
			Subscriber:      subject,
			VAPIDPublicKey:  keys.PublicKey,
			VAPIDPrivateKey: keys.PrivateKey,
			TTL:             ttl,
			Urgency:         webpush.UrgencyHigh,
		},
	}
}

func (s *Sender) PublicKey() string { return s.opts.VAPIDPublicKey }

// Notify sends to every subscription of userID. Subscriptions the push
// service reports as gone (404/410) are removed.
func (s *Sender) Notify(ctx context.Context, userID, title, body string, data map[string]string) {
	defer logger.DeferLogDuration("push.Notify", time.Now())()
	subs, err := s.subs.Subscriptions(ctx, userID)
	if err != nil {
		logger.Errorf("push subscriptions user=%s: %v", userID, err)
		return
	}
	if len(subs) == 0 {
		return
	}
	payload, err := json.Marshal(Notification{Title: title, Body: body, Data: data})
	if err != nil {
		logger.Errorf("push marshal: %v", err)
		return
	}
	for _, sub := range subs {
		wpSub := &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys:     webpush.Keys{P256dh: sub.Keys.P256dh, Auth: sub.Keys.Auth},
		}
		opts := s.opts
		resp, err := webpush.SendNotificationWithContext(ctx, payload, wpSub, &opts)
		if err != nil {
			observability.PushSent().WithLabelValues("error").Inc()
			logger.Errorf("push send %s: %v", truncate(sub.Endpoint, 50), err)
			continue
		}
		resp.Body.Close()
		switch {
		case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
			observability.PushSent().WithLabelValues("expired").Inc()
			if err := s.subs.RemoveSubscription(ctx, userID, sub.Endpoint); err != nil {
				logger.Errorf("push remove subscription user=%s: %v", userID, err)
			}
		case resp.StatusCode >= 300:
			observability.PushSent().WithLabelValues("rejected").Inc()
			logger.Errorf("push send %s: status %d", truncate(sub.Endpoint, 50), resp.StatusCode)
		default:
			observability.PushSent().WithLabelValues("ok").Inc()
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
