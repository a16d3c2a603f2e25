package api

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/sirupsen/logrus"

	"ambudispatch/internal/tracking"
)

// Notifier is implemented by webhooks.Publisher.
type Notifier interface {
	Emit(ctx context.Context, eventType string, data any)
}

// Fanout delivers domain events to live stream subscribers and to webhook subscriptions.
// It satisfies the notifier interfaces of the dispatch and tracking packages.
type Fanout struct {
	Broker   EventBroker
	Webhooks Notifier
	Log      logrus.FieldLogger
}

func (f *Fanout) Emit(ctx context.Context, eventType string, data any) {
	if f.Broker != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			f.Log.WithError(err).WithField("event", eventType).Warn("encode event")
		} else {
			f.Broker.Publish(topicFor(eventType), SSEEvent{Type: eventType, Data: raw})
		}
	}
	// per-tick snapshots are stream-only
	if f.Webhooks != nil && eventType != tracking.EventLocations {
		f.Webhooks.Emit(ctx, eventType, data)
	}
}

func topicFor(eventType string) string {
	switch {
	case strings.HasPrefix(eventType, "alert."):
		return TopicAlerts
	case strings.HasPrefix(eventType, "location"):
		return TopicLocations
	default:
		return TopicDispatch
	}
}
