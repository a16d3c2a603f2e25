package webhooks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"ambudispatch/internal/store"
)

// Envelope is the JSON body posted to subscribers.
type Envelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	TS   string `json:"ts"`
	Data any    `json:"data"`
}

// Publisher queues events for every subscription interested in them. Delivery is left to Worker.
type Publisher struct {
	Store store.Webhooks
	Log   logrus.FieldLogger
	Now   func() time.Time
}

func NewPublisher(s store.Webhooks, log logrus.FieldLogger) *Publisher {
	return &Publisher{Store: s, Log: log, Now: func() time.Time { return time.Now().UTC() }}
}

// Emit enqueues eventType with data for all matching subscriptions. Errors are logged.
func (p *Publisher) Emit(ctx context.Context, eventType string, data any) {
	subs, err := p.Store.GetSubscriptionsForEvent(ctx, eventType)
	if err != nil {
		p.Log.WithError(err).WithField("event", eventType).Warn("webhook subscriptions lookup")
		return
	}
	if len(subs) == 0 {
		return
	}
	body, err := json.Marshal(Envelope{
		ID:   "evt_" + uuid.New().String(),
		Type: eventType,
		TS:   p.Now().Format(time.RFC3339),
		Data: data,
	})
	if err != nil {
		p.Log.WithError(err).WithField("event", eventType).Warn("webhook payload encode")
		return
	}
	for _, s := range subs {
		if _, err := p.Store.EnqueueWebhook(ctx, s.ID, eventType, s.URL, s.Secret, body); err != nil {
			p.Log.WithError(err).WithFields(logrus.Fields{"event": eventType, "subscriptionId": s.ID}).Warn("webhook enqueue")
		}
	}
}
