package connector

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// RetryPolicy is configured per connector.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	AttemptTimeout  time.Duration
	RatePerSecond   float64
	Burst           int
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     5,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     30 * time.Second,
		Multiplier:      2,
		AttemptTimeout:  15 * time.Second,
		RatePerSecond:   10,
		Burst:           5,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = def.InitialInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = def.MaxInterval
	}
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	if p.AttemptTimeout <= 0 {
		p.AttemptTimeout = def.AttemptTimeout
	}
	return p
}

func (p RetryPolicy) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.Multiplier = p.Multiplier
	b.MaxElapsedTime = 0
	return backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1))
}

// Retrying wraps a connector with the retry policy, a rate limiter and a
// bounded timeout per attempt.
type Retrying struct {
	next    Connector
	policy  RetryPolicy
	limiter *rate.Limiter
	logger  logrus.FieldLogger
}

func WithRetry(next Connector, policy RetryPolicy, logger logrus.FieldLogger) *Retrying {
	policy = policy.normalized()

	var limiter *rate.Limiter
	if policy.RatePerSecond > 0 {
		burst := policy.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(policy.RatePerSecond), burst)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Retrying{
		next:    next,
		policy:  policy,
		limiter: limiter,
		logger:  logger,
	}
}

func (r *Retrying) System() System {
	return r.next.System()
}

func (r *Retrying) Submit(ctx context.Context, req *Request) (*Ack, error) {
	var (
		ack     *Ack
		attempt int
	)

	operation := func() error {
		attempt++
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(classifyTransport(r.System(), req.Operation, err))
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, r.policy.AttemptTimeout)
		defer cancel()

		start := time.Now()
		result, err := r.next.Submit(attemptCtx, req)
		entry := r.logger.WithFields(logrus.Fields{
			"system":         r.System(),
			"operation":      req.Operation,
			"correlation_id": req.CorrelationID,
			"reference":      req.Reference,
			"attempt":        attempt,
			"latency":        time.Since(start).String(),
		})

		if err == nil {
			entry.Info("connector_call_succeeded")
			ack = result
			return nil
		}
		if IsTransient(err) {
			entry.WithError(err).Warn("connector_call_retrying")
			return err
		}

		entry.WithError(err).Error("connector_call_failed")
		return backoff.Permanent(err)
	}

	err := backoff.Retry(operation, backoff.WithContext(r.policy.newBackOff(), ctx))
	if err != nil {
		if IsTransient(err) {
			r.logger.WithError(err).WithFields(logrus.Fields{
				"system":         r.System(),
				"operation":      req.Operation,
				"correlation_id": req.CorrelationID,
				"attempts":       attempt,
			}).Error("connector_retries_exhausted")
		}
		if !IsTransient(err) && !IsPermanent(err) {
			err = classifyTransport(r.System(), req.Operation, err)
		}
		return nil, err
	}
	return ack, nil
}
