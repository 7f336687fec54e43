package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-pay-ledger/app/entity"
	"github.com/vibast-solutions/ms-go-pay-ledger/app/factory"
	"github.com/vibast-solutions/ms-go-pay-ledger/config"
)

type eventEnvelope struct {
	ID            uint64          `json:"id"`
	InvoiceID     uint64          `json:"invoice_id"`
	EventType     string          `json:"event_type"`
	OldStatus     string          `json:"old_status,omitempty"`
	NewStatus     string          `json:"new_status"`
	CorrelationID string          `json:"correlation_id"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// EventDispatcher delivers outbox rows to the downstream webhook with a
// bounded number of attempts.
type EventDispatcher struct {
	repos  Repositories
	cfg    config.EventsConfig
	apiKey string
	client *http.Client
	logger logrus.FieldLogger
	now    func() time.Time
}

func NewEventDispatcher(repos Repositories, cfg config.EventsConfig, apiKey string) *EventDispatcher {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &EventDispatcher{
		repos:  repos,
		cfg:    cfg,
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
		logger: factory.NewModuleLogger("event-dispatcher"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (d *EventDispatcher) RunDispatchEventsBatch(ctx context.Context, limit int32) (int, error) {
	now := d.now()
	items, err := d.repos.Events.ListDueDispatch(ctx, now, batchSize(limit))
	if err != nil {
		return 0, err
	}

	delivered := 0
	var firstErr error
	for _, event := range items {
		if event == nil {
			continue
		}
		if err := d.dispatch(ctx, event, now); err != nil {
			firstErr = keepFirstErr(firstErr, err)
			continue
		}
		delivered++
	}
	return delivered, firstErr
}

func (d *EventDispatcher) dispatch(ctx context.Context, event *entity.InvoiceEvent, now time.Time) error {
	if strings.TrimSpace(d.cfg.WebhookURL) == "" {
		errMsg := "events webhook url is empty"
		event.DeliveryStatus = entity.EventDeliveryFailed
		event.DeliveryNextAt = nil
		event.DeliveryLastErr = &errMsg
		event.UpdatedAt = now
		return d.repos.Events.UpdateDelivery(ctx, event)
	}

	envelope := eventEnvelope{
		ID:            event.ID,
		InvoiceID:     event.InvoiceID,
		EventType:     event.EventType,
		NewStatus:     string(event.NewStatus),
		CorrelationID: event.CorrelationID,
		CreatedAt:     event.CreatedAt,
	}
	if event.OldStatus != nil {
		envelope.OldStatus = string(*event.OldStatus)
	}
	if event.PayloadJSON != nil && json.Valid([]byte(*event.PayloadJSON)) {
		envelope.Payload = json.RawMessage(*event.PayloadJSON)
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return d.recordFailure(ctx, event, now, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Correlation-ID", event.CorrelationID)
	if d.apiKey != "" {
		req.Header.Set("X-API-Key", d.apiKey)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return d.recordFailure(ctx, event, now, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return d.recordFailure(ctx, event, now, fmt.Errorf("events endpoint returned status=%d", resp.StatusCode))
	}

	event.DeliveryStatus = entity.EventDeliverySuccess
	event.DeliveryNextAt = nil
	event.DeliveryLastErr = nil
	event.UpdatedAt = now
	return d.repos.Events.UpdateDelivery(ctx, event)
}

func (d *EventDispatcher) recordFailure(ctx context.Context, event *entity.InvoiceEvent, now time.Time, dispatchErr error) error {
	event.DeliveryAttempts++
	trimmed := truncate(dispatchErr.Error(), 1024)
	event.DeliveryLastErr = &trimmed

	maxAttempts := d.cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	if event.DeliveryAttempts >= maxAttempts {
		event.DeliveryStatus = entity.EventDeliveryFailed
		event.DeliveryNextAt = nil
	} else {
		retryInterval := d.cfg.RetryInterval
		if retryInterval <= 0 {
			retryInterval = 5 * time.Minute
		}
		next := now.Add(retryInterval)
		event.DeliveryStatus = entity.EventDeliveryPending
		event.DeliveryNextAt = &next
	}
	event.UpdatedAt = now

	if err := d.repos.Events.UpdateDelivery(ctx, event); err != nil {
		return err
	}

	d.logger.WithFields(logrus.Fields{
		"event_id":       event.ID,
		"invoice_id":     event.InvoiceID,
		"attempts":       event.DeliveryAttempts,
		"correlation_id": event.CorrelationID,
	}).WithError(dispatchErr).Warn("event_dispatch_failed")
	return dispatchErr
}
