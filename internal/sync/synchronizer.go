package sync

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/theblitlabs/parity-sync/internal/config"
)

// maxConsecutivePageFailures is the threshold at which a run declares total
// connectivity loss and stops early with partial results.
const maxConsecutivePageFailures = 3

// runMode selects how a run picks its lower time bound.
type runMode int

const (
	// modeAuto follows the configured sync mode and the stored watermark.
	modeAuto runMode = iota
	// modeForcedIncremental fetches from an explicitly supplied watermark.
	modeForcedIncremental
	// modeForcedFull ignores any watermark and fetches everything.
	modeForcedFull
)

// retryWithBackoff retries op with exponential backoff starting at the
// configured retry delay, doubling per attempt and capped at the configured
// maximum. Context cancellation stops retrying immediately.
func retryWithBackoff(ctx context.Context, cfg config.SyncConfig, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.RetryDelay
	b.Multiplier = 2
	b.MaxInterval = cfg.MaxRetryDelay
	b.MaxElapsedTime = 0
	b.RandomizationFactor = 0.1

	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(cfg.MaxRetries)), ctx))
}

// watermarkFloor keeps a new watermark from moving backwards past the one
// the run started from.
func watermarkFloor(candidate time.Time, since *time.Time) time.Time {
	if since != nil && candidate.Before(*since) {
		return *since
	}
	return candidate
}
