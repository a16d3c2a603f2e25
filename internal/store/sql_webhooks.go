package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"ambudispatch/internal/model"
)

func (s *SQL) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	sub := model.Subscription{ID: uuid.New().String(), URL: req.URL, Events: nonNilStrings(req.Events), Secret: req.Secret}
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO subscriptions (id, url, events, secret, created_at) VALUES (?,?,?,?,?)`),
		sub.ID, sub.URL, encodeJSON(sub.Events), sub.Secret, formatTS(s.now()))
	if err != nil {
		return model.Subscription{}, err
	}
	return sub, nil
}

func (s *SQL) ListSubscriptions(ctx context.Context) ([]model.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, url, events, secret FROM subscriptions ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Subscription{}
	for rows.Next() {
		var sub model.Subscription
		var events string
		if err := rows.Scan(&sub.ID, &sub.URL, &events, &sub.Secret); err != nil {
			return nil, err
		}
		sub.Events = decodeStrings(events)
		out = append(out, sub)
	}
	return out, rows.Err()
}

// GetSubscriptionsForEvent filters in Go; event lists are stored as JSON text on both backends.
func (s *SQL) GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error) {
	all, err := s.ListSubscriptions(ctx)
	if err != nil {
		return nil, err
	}
	var out []model.Subscription
	for _, sub := range all {
		for _, e := range sub.Events {
			if e == eventType || e == "*" {
				out = append(out, sub)
				break
			}
		}
	}
	return out, nil
}

func (s *SQL) DeleteSubscription(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM subscriptions WHERE id = ?`), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQL) EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	id := uuid.New().String()
	now := formatTS(s.now())
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO webhook_deliveries (id, subscription_id, event_type, url, secret, payload,
		status, attempts, next_attempt_at, dedup_key, created_at) VALUES (?,?,?,?,?,?,?,0,?,?,?)
		ON CONFLICT (event_type, url, dedup_key) DO NOTHING`),
		id, subscriptionID, eventType, url, secret, string(payload), DeliveryPending, now, computeDedupKey(payload), now)
	if err != nil {
		return "", err
	}
	return id, nil
}

const deliveryCols = `id, subscription_id, event_type, url, secret, payload, status, attempts, next_attempt_at,
	last_error, response_code, latency_ms, delivered_at`

func scanDelivery(rs rowScanner) (WebhookDelivery, error) {
	var d WebhookDelivery
	var payload, next string
	var delivered sql.NullString
	if err := rs.Scan(&d.ID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &payload, &d.Status, &d.Attempts, &next,
		&d.LastError, &d.ResponseCode, &d.LatencyMs, &delivered); err != nil {
		return d, err
	}
	d.Payload = []byte(payload)
	d.NextAttemptAt = parseTS(next)
	d.DeliveredAt = parseTSPtr(delivered)
	return d, nil
}

func (s *SQL) queryDeliveries(ctx context.Context, query string, args ...any) ([]WebhookDelivery, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []WebhookDelivery{}
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQL) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryDeliveries(ctx, `SELECT `+deliveryCols+` FROM webhook_deliveries
		WHERE status IN ('pending','retry') AND next_attempt_at <= ? ORDER BY next_attempt_at, id LIMIT ?`,
		formatTS(s.now()), limit)
}

func (s *SQL) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	if success {
		_, err := s.db.ExecContext(ctx, s.q(`UPDATE webhook_deliveries SET status = ?, attempts = attempts + 1,
			response_code = ?, latency_ms = ?, delivered_at = ? WHERE id = ?`),
			DeliveryDelivered, responseCode, latencyMs, formatTS(s.now()), id)
		return err
	}
	next := s.now().Add(time.Minute)
	if nextAttemptAt != nil {
		next = *nextAttemptAt
	}
	_, err := s.db.ExecContext(ctx, s.q(`UPDATE webhook_deliveries SET status = ?, attempts = attempts + 1, last_error = ?,
		response_code = ?, latency_ms = ?, next_attempt_at = ? WHERE id = ?`),
		DeliveryRetry, lastError, responseCode, latencyMs, formatTS(next), id)
	return err
}

func (s *SQL) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	_, err := s.db.ExecContext(ctx, s.q(`UPDATE webhook_deliveries SET status = ?, attempts = attempts + 1, last_error = ?,
		response_code = ?, latency_ms = ? WHERE id = ?`), DeliveryFailed, lastError, responseCode, latencyMs, id)
	return err
}

func (s *SQL) ListWebhookDeliveries(ctx context.Context, status string) ([]WebhookDelivery, error) {
	if status == "" {
		return s.queryDeliveries(ctx, `SELECT `+deliveryCols+` FROM webhook_deliveries ORDER BY created_at, id`)
	}
	return s.queryDeliveries(ctx, `SELECT `+deliveryCols+` FROM webhook_deliveries WHERE status = ? ORDER BY created_at, id`, status)
}
