// retry.go retries archive writes that fail on transient SQLite contention.
//
// Two CLI invocations archiving into the same WAL database can collide.
// busy_timeout absorbs most SQLITE_BUSY cases at the connection level; the
// remaining BUSY, LOCKED and IOERR_SHORT_READ results are retried here
// with exponential backoff and jitter.
package store

import (
	"errors"
	"math/rand/v2"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// retryConfig controls retry behavior for transient SQLite errors.
type retryConfig struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// defaultRetryConfig is used for all store write operations.
var defaultRetryConfig = retryConfig{
	maxRetries: 4,
	baseDelay:  25 * time.Millisecond,
	maxDelay:   400 * time.Millisecond,
}

// retryOnContention runs fn under defaultRetryConfig.
func retryOnContention(fn func() error) error {
	return retryOp(defaultRetryConfig, fn)
}

// isTransient reports whether err is SQLite contention that may clear on
// retry. Driver errors are classified by result code; anything that lost
// its type on the way up is matched on the driver's message text.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		switch {
		case code == sqlite3.SQLITE_IOERR_SHORT_READ:
			return true
		case code&0xff == sqlite3.SQLITE_BUSY, code&0xff == sqlite3.SQLITE_LOCKED:
			return true
		}
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}

// retryOp calls fn until it succeeds, returns a non-transient error, or
// cfg.maxRetries retries are spent. The last error is returned.
func retryOp(cfg retryConfig, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(); err == nil || !isTransient(err) || attempt == cfg.maxRetries {
			return err
		}
		time.Sleep(backoffDelay(cfg, attempt))
	}
}

// backoffDelay is baseDelay*2^attempt capped at maxDelay, plus up to
// baseDelay of jitter.
func backoffDelay(cfg retryConfig, attempt int) time.Duration {
	delay := cfg.baseDelay << uint(attempt)
	if delay > cfg.maxDelay || delay <= 0 {
		delay = cfg.maxDelay
	}
	if cfg.baseDelay > 0 {
		delay += rand.N(cfg.baseDelay)
	}
	return delay
}
