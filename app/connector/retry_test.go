package connector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

type scriptedConnector struct {
	errs  []error
	calls int
}

func (c *scriptedConnector) System() System {
	return SystemCFS
}

func (c *scriptedConnector) Submit(ctx context.Context, req *Request) (*Ack, error) {
	c.calls++
	if _, ok := ctx.Deadline(); !ok {
		return nil, errors.New("attempt context has no deadline")
	}
	if c.calls <= len(c.errs) && c.errs[c.calls-1] != nil {
		return nil, c.errs[c.calls-1]
	}
	return &Ack{System: SystemCFS, Operation: req.Operation, Reference: "INV-1"}, nil
}

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Multiplier:      2,
		AttemptTimeout:  time.Second,
	}
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func TestRetryingRetriesTransientErrors(t *testing.T) {
	next := &scriptedConnector{errs: []error{
		&TransientError{System: SystemCFS, Operation: OpCreateInvoice, StatusCode: 503, Err: errors.New("unavailable")},
		&TransientError{System: SystemCFS, Operation: OpCreateInvoice, Err: errors.New("timeout")},
	}}
	c := WithRetry(next, fastPolicy(5), quietLogger())

	ack, err := c.Submit(context.Background(), &Request{Operation: OpCreateInvoice, CorrelationID: "corr-1"})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if ack.Reference != "INV-1" {
		t.Fatalf("unexpected ack: %+v", ack)
	}
	if next.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", next.calls)
	}
}

func TestRetryingDoesNotRetryPermanentErrors(t *testing.T) {
	next := &scriptedConnector{errs: []error{
		&PermanentError{System: SystemCFS, Operation: OpCreateInvoice, StatusCode: 400, Err: errors.New("bad site")},
	}}
	c := WithRetry(next, fastPolicy(5), quietLogger())

	_, err := c.Submit(context.Background(), &Request{Operation: OpCreateInvoice})
	if !IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if next.calls != 1 {
		t.Fatalf("expected a single call, got %d", next.calls)
	}
}

func TestRetryingStopsAfterMaxAttempts(t *testing.T) {
	transient := &TransientError{System: SystemCFS, Operation: OpApplyReceipt, StatusCode: 502, Err: errors.New("bad gateway")}
	next := &scriptedConnector{errs: []error{transient, transient, transient, transient}}
	c := WithRetry(next, fastPolicy(3), quietLogger())

	_, err := c.Submit(context.Background(), &Request{Operation: OpApplyReceipt})
	if !IsTransient(err) {
		t.Fatalf("expected transient error after exhausting attempts, got %v", err)
	}
	if next.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", next.calls)
	}
}

func TestRetryingHonoursCancelledContext(t *testing.T) {
	transient := &TransientError{System: SystemCFS, Operation: OpApplyReceipt, Err: errors.New("timeout")}
	next := &scriptedConnector{errs: []error{transient, transient, transient}}
	c := WithRetry(next, fastPolicy(3), quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Submit(ctx, &Request{Operation: OpApplyReceipt})
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if IsTransient(err) {
		t.Fatalf("cancelled context should not be reported as transient: %v", err)
	}
}

func TestRegistryGet(t *testing.T) {
	reg := NewRegistry(&scriptedConnector{})
	if _, err := reg.Get(SystemCFS); err != nil {
		t.Fatalf("expected CFS connector, got %v", err)
	}
	if _, err := reg.Get(SystemBCOL); !errors.Is(err, ErrSystemNotRegistered) {
		t.Fatalf("expected ErrSystemNotRegistered, got %v", err)
	}
}
