package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"phasegate/internal/metrics"
)

// ErrStorageUnavailable is returned once transient storage errors outlast the retry budget.
var ErrStorageUnavailable = errors.New("storage unavailable")

type RetryConfig struct {
	InitialInterval time.Duration
	MaxElapsed      time.Duration
}

func (c RetryConfig) backoff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxInterval = time.Second
	bo.MaxElapsedTime = 5 * time.Second
	if c.InitialInterval > 0 {
		bo.InitialInterval = c.InitialInterval
	}
	if c.MaxElapsed > 0 {
		bo.MaxElapsedTime = c.MaxElapsed
	}
	bo.Reset()
	return bo
}

// IsTransient reports whether err is a lock contention error worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "sqlite_busy") ||
		strings.Contains(msg, "database table is locked")
}

// Retry runs op, retrying transient errors with exponential backoff. Other
// errors return immediately and unchanged.
func Retry(ctx context.Context, cfg RetryConfig, op func() error) error {
	err := backoff.RetryNotify(func() error {
		err := op()
		if err != nil && IsTransient(err) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(cfg.backoff(), ctx), func(error, time.Duration) {
		metrics.Get().StorageRetries.Inc()
	})
	if err != nil && IsTransient(err) {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return err
}
