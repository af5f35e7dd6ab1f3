package types

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrConfigNotFound       = errors.New("config not found")
	ErrConfigParseFailed    = errors.New("config parse failed")
	ErrConfigValidateFailed = errors.New("config validate failed")
)

var (
	ErrCacheKeyEmpty        = errors.New("cache key empty")
	ErrCacheDisabled        = errors.New("cache store is disabled")
	ErrCacheVersionMismatch = errors.New("cache entry version mismatch")
)

var (
	ErrStorageTypeUnknown = errors.New("storage type unknown")
	ErrStorageClosed      = errors.New("storage closed")
	ErrQuotaExceeded      = errors.New("storage quota exceeded")
	ErrEntryCorrupted     = errors.New("stored entry corrupted")
)

var (
	ErrRequestCancelled  = errors.New("request cancelled")
	ErrFetcherIsNil      = errors.New("fetcher is nil")
	ErrCoordinatorClosed = errors.New("request coordinator closed")
)

var (
	ErrPushChannelClosed     = errors.New("push channel closed")
	ErrPushConnectFailed     = errors.New("push channel connect failed")
	ErrSubscriptionClosed    = errors.New("subscription closed")
	ErrSubscriptionNotActive = errors.New("subscription not active")
)

var (
	ErrInningsUnknown     = errors.New("innings unknown")
	ErrTimestampMissing   = errors.New("commentary item missing timestamp")
	ErrComponentNotFound  = errors.New("component not found")
	ErrServiceIsRunning   = errors.New("service is running")
	ErrServiceNotRunning  = errors.New("service is not running")
	ErrAlreadyRunning     = errors.New("already running")
	ErrNotRunning         = errors.New("not running")
	ErrCronJobNameIsEmpty = errors.New("cron job name is empty")
	ErrCronJobIsNil       = errors.New("cron job is nil")
	ErrCronSpecInvalid    = errors.New("cron expression invalid")
	ErrMetricsTypeUnknown = errors.New("metrics type unknown")
	ErrLoggerTypeUnknown  = errors.New("logger type unknown")
)

func Errorf(baseErr error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", baseErr, fmt.Sprintf(format, args...))
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

func NewErrorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

func IsError(err, target error) bool {
	return errors.Is(err, target)
}

// RequestError carries the HTTP-equivalent status of a failed fetch so the
// coordinator can distinguish dead resources from transient failures.
type RequestError struct {
	StatusCode int
	Err        error
}

func (e *RequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("request failed with status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("request failed with status %d", e.StatusCode)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure is worth retrying. Forbidden and
// not-found responses mean the resource is gone, not flaky.
func (e *RequestError) Retryable() bool {
	switch e.StatusCode {
	case 403, 404:
		return false
	default:
		return true
	}
}

func NewRequestError(statusCode int, err error) *RequestError {
	return &RequestError{StatusCode: statusCode, Err: err}
}

// IsRetryable classifies an arbitrary fetch error. Cancellation and
// non-retryable request errors abort immediately; everything else is
// treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRequestCancelled) || errors.Is(err, context.Canceled) {
		return false
	}
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Retryable()
	}
	return true
}
