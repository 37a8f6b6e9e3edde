// Package retry wraps any broker operation with bounded exponential backoff,
// retrying only errors classified as transient (spec §4.3: a submit/close
// call may legitimately fail on a network blip, never on a rejected order).
package retry

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"
)

// Config controls the backoff schedule.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
}

// DefaultConfig supplies each field a caller leaves unusable: a zero or
// negative duration, or a negative MaxRetries. A MaxRetries of 0 is kept and
// means a single attempt.
var DefaultConfig = Config{
	MaxRetries:     3,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     30 * time.Second,
	Timeout:        2 * time.Minute,
}

func sanitize(cfg Config) Config {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultConfig.MaxRetries
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultConfig.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultConfig.MaxBackoff
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig.Timeout
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	return cfg
}

// Do runs op, retrying on transient errors with exponential backoff plus
// jitter, up to cfg.MaxRetries additional attempts or cfg.Timeout overall,
// whichever comes first. op is called at least once. The zero value of T is
// returned alongside a non-nil error on exhaustion or cancellation.
func Do[T any](ctx context.Context, cfg Config, logger *log.Logger, label string, op func(ctx context.Context) (T, error)) (T, error) {
	cfg = sanitize(cfg)
	if logger == nil {
		logger = log.Default()
	}

	var zero T
	callCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	var lastErr error
	backoff := cfg.InitialBackoff

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		select {
		case <-callCtx.Done():
			return zero, fmt.Errorf("retry: %s timed out after %v: %w", label, cfg.Timeout, callCtx.Err())
		default:
		}
		if ctx.Err() != nil {
			return zero, fmt.Errorf("retry: %s canceled: %w", label, ctx.Err())
		}

		logger.Printf("retry: %s attempt %d/%d", label, attempt+1, cfg.MaxRetries+1)
		result, err := op(callCtx)
		if err == nil {
			return result, nil
		}

		lastErr = err
		logger.Printf("retry: %s attempt %d failed: %v", label, attempt+1, err)

		if !isTransient(err) || attempt == cfg.MaxRetries {
			break
		}

		logger.Printf("retry: %s transient error, retrying in %v", label, backoff)
		select {
		case <-time.After(backoff):
			backoff = nextBackoff(backoff, cfg.MaxBackoff, logger)
		case <-callCtx.Done():
			return zero, fmt.Errorf("retry: %s timed out during backoff: %w", label, callCtx.Err())
		case <-ctx.Done():
			return zero, fmt.Errorf("retry: %s canceled during backoff: %w", label, ctx.Err())
		}
	}

	return zero, fmt.Errorf("retry: %s failed after %d attempts: %w", label, cfg.MaxRetries+1, lastErr)
}

func nextBackoff(current, max time.Duration, logger *log.Logger) time.Duration {
	backoff := time.Duration(float64(current) * 1.5)
	if backoff > max {
		backoff = max
	}

	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err != nil {
			logger.Printf("retry: failed to generate backoff jitter: %v", err)
		} else {
			backoff += time.Duration(jitterVal.Int64())
		}
	}
	return backoff
}

var transientPatterns = []string{
	"timeout",
	"i/o timeout",
	"connection refused",
	"connection reset",
	"temporary failure",
	"temporarily unavailable",
	"server error",
	"rate limit",
	"429",
	"502",
	"503",
	"504",
	"network",
	"dns",
	"tcp",
	"no such host",
	"deadline exceeded",
	"tls handshake",
	"broken pipe",
	"eof",
}

// isTransient classifies an error by matching common network/server-overload
// substrings; anything else (a rejected order, a validation failure) is
// treated as permanent and never retried.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
