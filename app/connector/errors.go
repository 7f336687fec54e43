package connector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrSystemNotRegistered  = errors.New("connector system is not registered")
	ErrUnsupportedOperation = errors.New("operation is not supported by connector")
	ErrNotConfigured        = errors.New("connector is not configured")
)

// TransientError marks failures worth retrying: timeouts, network errors,
// throttling and 5xx responses.
type TransientError struct {
	System     System
	Operation  Operation
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s %s transient failure (status=%d): %v", e.System, e.Operation, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s transient failure: %v", e.System, e.Operation, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// PermanentError is surfaced without retry.
type PermanentError struct {
	System     System
	Operation  Operation
	StatusCode int
	Err        error
}

func (e *PermanentError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s %s rejected (status=%d): %v", e.System, e.Operation, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s rejected: %v", e.System, e.Operation, e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

func IsTransient(err error) bool {
	var target *TransientError
	return errors.As(err, &target)
}

func IsPermanent(err error) bool {
	var target *PermanentError
	return errors.As(err, &target)
}

func classifyStatus(system System, op Operation, statusCode int, body []byte) error {
	if statusCode < 400 {
		return nil
	}
	cause := fmt.Errorf("body=%s", truncate(string(body), 512))
	if statusCode == http.StatusTooManyRequests || statusCode == http.StatusRequestTimeout || statusCode >= 500 {
		return &TransientError{System: system, Operation: op, StatusCode: statusCode, Err: cause}
	}
	return &PermanentError{System: system, Operation: op, StatusCode: statusCode, Err: cause}
}

func classifyTransport(system System, op Operation, err error) error {
	if errors.Is(err, context.Canceled) {
		return &PermanentError{System: system, Operation: op, Err: err}
	}
	return &TransientError{System: system, Operation: op, Err: err}
}

func unsupported(system System, op Operation) error {
	return &PermanentError{System: system, Operation: op, Err: ErrUnsupportedOperation}
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	return value[:max]
}
