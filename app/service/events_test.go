package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/vibast-solutions/ms-go-pay-ledger/app/entity"
	"github.com/vibast-solutions/ms-go-pay-ledger/config"
)

type webhookRecorder struct {
	mu     sync.Mutex
	status int
	bodies []eventEnvelope
	keys   []string
}

func (w *webhookRecorder) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	var env eventEnvelope
	_ = json.NewDecoder(r.Body).Decode(&env)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.bodies = append(w.bodies, env)
	w.keys = append(w.keys, r.Header.Get("X-API-Key"))
	rw.WriteHeader(w.status)
}

func newDispatcher(h *ledgerHarness, url string) *EventDispatcher {
	d := NewEventDispatcher(h.repos, config.EventsConfig{
		WebhookURL:    url,
		MaxAttempts:   2,
		RetryInterval: time.Minute,
		HTTPTimeout:   time.Second,
	}, "events-key")
	d.now = h.clock.Now
	return d
}

func TestDispatchDeliversInvoiceEvents(t *testing.T) {
	h := newLedgerHarness(t)
	recorder := &webhookRecorder{status: http.StatusAccepted}
	server := httptest.NewServer(recorder)
	defer server.Close()

	account := h.seedAccount(t, entity.PaymentMethodPAD)
	invoice := h.mustCreateInvoice(t, invoiceRequest("req-1", account.ID, entity.PaymentMethodPAD, 1000))

	delivered, err := newDispatcher(h, server.URL).RunDispatchEventsBatch(context.Background(), 10)
	if err != nil || delivered != 1 {
		t.Fatalf("expected one delivered event, got %d (%v)", delivered, err)
	}
	if len(recorder.bodies) != 1 {
		t.Fatalf("expected one webhook call, got %d", len(recorder.bodies))
	}
	got := recorder.bodies[0]
	if got.InvoiceID != invoice.ID || got.EventType != "invoice_created" || got.NewStatus != string(entity.InvoiceApproved) || got.CorrelationID != invoice.CorrelationID {
		t.Fatalf("unexpected envelope %+v", got)
	}
	if recorder.keys[0] != "events-key" {
		t.Fatalf("expected api key header, got %q", recorder.keys[0])
	}

	if delivered, _ := newDispatcher(h, server.URL).RunDispatchEventsBatch(context.Background(), 10); delivered != 0 {
		t.Fatalf("expected delivered events to stay delivered, got %d", delivered)
	}
}

func TestDispatchRetriesThenGivesUp(t *testing.T) {
	h := newLedgerHarness(t)
	recorder := &webhookRecorder{status: http.StatusInternalServerError}
	server := httptest.NewServer(recorder)
	defer server.Close()

	account := h.seedAccount(t, entity.PaymentMethodPAD)
	h.mustCreateInvoice(t, invoiceRequest("req-1", account.ID, entity.PaymentMethodPAD, 1000))
	dispatcher := newDispatcher(h, server.URL)

	if _, err := dispatcher.RunDispatchEventsBatch(context.Background(), 10); err == nil {
		t.Fatal("expected dispatch error")
	}
	due, _ := h.repos.Events.ListDueDispatch(context.Background(), h.clock.Now(), 10)
	if len(due) != 0 {
		t.Fatalf("expected failed event to wait for its retry, got %d due", len(due))
	}

	h.clock.Advance(time.Minute)
	due, _ = h.repos.Events.ListDueDispatch(context.Background(), h.clock.Now(), 10)
	if len(due) != 1 || due[0].DeliveryAttempts != 1 || due[0].DeliveryLastErr == nil {
		t.Fatalf("expected one retryable event, got %+v", due)
	}

	if _, err := dispatcher.RunDispatchEventsBatch(context.Background(), 10); err == nil {
		t.Fatal("expected second dispatch error")
	}
	h.clock.Advance(time.Hour)
	due, _ = h.repos.Events.ListDueDispatch(context.Background(), h.clock.Now(), 10)
	if len(due) != 0 {
		t.Fatalf("expected event to be given up after max attempts, got %d due", len(due))
	}
	if len(recorder.bodies) != 2 {
		t.Fatalf("expected two webhook calls, got %d", len(recorder.bodies))
	}
}

func TestDispatchWithoutWebhookMarksFailed(t *testing.T) {
	h := newLedgerHarness(t)
	account := h.seedAccount(t, entity.PaymentMethodPAD)
	h.mustCreateInvoice(t, invoiceRequest("req-1", account.ID, entity.PaymentMethodPAD, 1000))

	if _, err := newDispatcher(h, "").RunDispatchEventsBatch(context.Background(), 10); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	due, _ := h.repos.Events.ListDueDispatch(context.Background(), h.clock.Now().Add(time.Hour), 10)
	if len(due) != 0 {
		t.Fatalf("expected event to be marked failed, got %d due", len(due))
	}
}
