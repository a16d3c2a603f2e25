package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"ambudispatch/internal/config"
	"ambudispatch/internal/logging"
	"ambudispatch/internal/model"
	"ambudispatch/internal/store"
)

type recordStore struct {
	*store.Memory
	mu    sync.Mutex
	marks []MarkRec
	fails []FailRec
}
type MarkRec struct {
	ID            string
	Success       bool
	Code, Latency int
	LastErr       string
}
type FailRec struct {
	ID            string
	Code, Latency int
	LastErr       string
}

func (r *recordStore) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	r.mu.Lock()
	r.marks = append(r.marks, MarkRec{ID: id, Success: success, Code: responseCode, Latency: latencyMs, LastErr: lastError})
	r.mu.Unlock()
	return r.Memory.MarkWebhookDelivery(ctx, id, success, nextAttemptAt, lastError, responseCode, latencyMs)
}
func (r *recordStore) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	r.mu.Lock()
	r.fails = append(r.fails, FailRec{ID: id, Code: responseCode, Latency: latencyMs, LastErr: lastError})
	r.mu.Unlock()
	return r.Memory.FailWebhookDelivery(ctx, id, lastError, responseCode, latencyMs)
}

func newTestWorker(rs *recordStore, client *http.Client, maxAttempts int) *Worker {
	w := NewWorker(rs, config.WebhooksConfig{MaxAttempts: maxAttempts}, logging.Discard())
	w.HTTP = client
	return w
}

func TestWorkerProcessOnce_SuccessAndSignature(t *testing.T) {
	var gotSig, gotTS, gotType string
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(HeaderSignature)
		gotTS = r.Header.Get(HeaderTimestamp)
		gotType = r.Header.Get(HeaderEventType)
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(200)
	}))
	defer srv.Close()

	rs := &recordStore{Memory: store.NewMemory()}
	w := newTestWorker(rs, srv.Client(), 3)
	id, err := rs.Memory.EnqueueWebhook(context.Background(), "sub1", "alert.raised", srv.URL, "secret", []byte(`{"id":"evt1"}`))
	if err != nil || id == "" {
		t.Fatalf("enqueue failed: %v", err)
	}

	if n := w.processOnce(context.Background()); n != 1 {
		t.Fatalf("expected one attempt, got %d", n)
	}

	if gotType != "alert.raised" {
		t.Fatalf("missing event type header: %q", gotType)
	}
	ts, err := strconv.ParseInt(gotTS, 10, 64)
	if err != nil || !Verify("secret", ts, body, gotSig) {
		t.Fatalf("bad signature: sig=%q ts=%q", gotSig, gotTS)
	}
	if len(rs.marks) == 0 || !rs.marks[0].Success {
		t.Fatalf("expected mark success, got: %+v", rs.marks)
	}
	delivered, _ := rs.ListWebhookDeliveries(context.Background(), store.DeliveryDelivered)
	if len(delivered) != 1 {
		t.Fatalf("expected delivered item, got %+v", delivered)
	}
}

func TestWorkerProcessOnce_RetryThenFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(500) }))
	defer srv.Close()
	rs := &recordStore{Memory: store.NewMemory()}
	w := newTestWorker(rs, srv.Client(), 2)
	clock := time.Now().UTC()
	w.Now = func() time.Time { return clock }
	_, _ = rs.Memory.EnqueueWebhook(context.Background(), "sub1", "request.created", srv.URL, "", []byte(`{}`))

	w.processOnce(context.Background())
	if len(rs.marks) != 1 || rs.marks[0].Success || rs.marks[0].Code != 500 {
		t.Fatalf("expected a retry mark, got %+v", rs.marks)
	}
	if n := w.processOnce(context.Background()); n != 0 {
		t.Fatalf("retry must wait for backoff, attempted %d", n)
	}

	// pull the retry forward; this counts as a second attempt
	due, _ := rs.ListWebhookDeliveries(context.Background(), store.DeliveryRetry)
	past := time.Now().Add(-time.Second)
	_ = rs.Memory.MarkWebhookDelivery(context.Background(), due[0].ID, false, &past, "", 500, 0)

	w.processOnce(context.Background())
	if len(rs.fails) == 0 {
		t.Fatalf("expected fail recorded")
	}
}

func TestPublisherEnqueuesForMatchingSubscriptions(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	for _, events := range [][]string{{"alert.raised"}, {"*"}, {"request.created"}} {
		if _, err := s.CreateSubscription(ctx, model.SubscriptionRequest{URL: "http://example.test/hook", Events: events}); err != nil {
			t.Fatal(err)
		}
	}
	p := NewPublisher(s, logging.Discard())
	p.Emit(ctx, "alert.raised", map[string]string{"vehicleId": "v1"})

	items, err := s.ListWebhookDeliveries(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(items))
	}
	var env Envelope
	if err := json.Unmarshal(items[0].Payload, &env); err != nil {
		t.Fatal(err)
	}
	if env.Type != "alert.raised" || env.ID == "" {
		t.Fatalf("unexpected envelope %+v", env)
	}
}

func TestNextBackoff(t *testing.T) {
	if nextBackoff(0) != time.Second || nextBackoff(3) != 8*time.Second {
		t.Fatalf("unexpected backoff")
	}
	if nextBackoff(50) != 1024*time.Second {
		t.Fatalf("backoff must cap at 2^10s, got %s", nextBackoff(50))
	}
}
