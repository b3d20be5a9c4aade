// Package sweeper periodically resubmits stuck ledger entries to the
// reconciler until they are confirmed or reach the retry ceiling.
package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/commentgame/comment-mirror/indexer/events"
	"github.com/commentgame/comment-mirror/indexer/ledger"
	"github.com/commentgame/comment-mirror/indexer/metrics"
	"github.com/commentgame/comment-mirror/indexer/store"
)

const (
	defaultCheckInterval = 30 * time.Second
	defaultMaxRetries    = 5
	defaultMinAge        = 15 * time.Second
	defaultBatchSize     = 100

	msgMaxRetries  = "max retries exceeded"
	msgNotObserved = "transaction not observed on chain"
)

// Applier re-applies a persisted event. Implemented by *reconciler.Engine.
type Applier interface {
	Retry(ctx context.Context, ev events.Event, txHash string) error
}

// Config holds configuration for the retry sweeper.
type Config struct {
	Ledger        *ledger.Store
	Applier       Applier
	CheckInterval time.Duration
	MaxRetries    int
	MinAge        time.Duration // entries updated more recently are left alone
	BatchSize     int
	Logger        zerolog.Logger
}

// Sweeper scans the ledger for pending and soft-failed entries and retries them.
type Sweeper struct {
	ledger        *ledger.Store
	applier       Applier
	checkInterval time.Duration
	maxRetries    int
	minAge        time.Duration
	batchSize     int
	now           func() time.Time
	logger        zerolog.Logger
}

type sweepResult struct {
	scanned   int
	confirmed int
	exhausted int
}

// NewSweeper creates a new retry sweeper.
func NewSweeper(cfg Config) *Sweeper {
	s := &Sweeper{
		ledger:        cfg.Ledger,
		applier:       cfg.Applier,
		checkInterval: cfg.CheckInterval,
		maxRetries:    cfg.MaxRetries,
		minAge:        cfg.MinAge,
		batchSize:     cfg.BatchSize,
		now:           time.Now,
		logger:        cfg.Logger.With().Str("component", "retry_sweeper").Logger(),
	}
	if s.checkInterval <= 0 {
		s.checkInterval = defaultCheckInterval
	}
	if s.maxRetries <= 0 {
		s.maxRetries = defaultMaxRetries
	}
	if s.minAge < 0 {
		s.minAge = defaultMinAge
	}
	if s.batchSize <= 0 {
		s.batchSize = defaultBatchSize
	}
	return s
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info().
		Dur("interval", s.checkInterval).
		Int("max_retries", s.maxRetries).
		Dur("min_age", s.minAge).
		Msg("starting retry sweeper")

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("retry sweeper stopped")
			return nil
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) sweepResult {
	var res sweepResult

	entries, err := s.ledger.ListRetryable(ctx, s.maxRetries, s.now().Add(-s.minAge), s.batchSize)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to query retryable transactions")
		return res
	}
	if len(entries) == 0 {
		return res
	}

	for i := range entries {
		if ctx.Err() != nil {
			break
		}
		res.scanned++
		switch s.retryEntry(ctx, &entries[i]) {
		case outcomeConfirmed:
			res.confirmed++
		case outcomeExhausted:
			res.exhausted++
		}
	}

	s.logger.Info().
		Int("scanned", res.scanned).
		Int("confirmed", res.confirmed).
		Int("exhausted", res.exhausted).
		Msg("retry sweep finished")
	return res
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeRetrying
	outcomeConfirmed
	outcomeExhausted
)

func (s *Sweeper) retryEntry(ctx context.Context, entry *store.PendingTransaction) outcome {
	logger := s.logger.With().
		Str("tx_hash", entry.TxHash).
		Str("event_type", entry.EventType).
		Int("retry_count", entry.RetryCount).
		Logger()

	// ListRetryable already filters these out
	if entry.RetryCount >= s.maxRetries {
		return s.exhaust(ctx, entry, msgMaxRetries, logger)
	}

	count, err := s.ledger.IncrementRetry(ctx, entry.TxHash)
	if err != nil {
		logger.Error().Err(err).Msg("failed to increment retry count")
		return outcomeSkipped
	}
	metrics.SweeperRetries.WithLabelValues(entry.EventType).Inc()

	if len(entry.EventData) == 0 {
		if count >= s.maxRetries {
			return s.exhaust(ctx, entry, msgNotObserved, logger)
		}
		logger.Debug().Msg("registered transaction not observed on chain yet")
		return outcomeRetrying
	}

	ev, err := events.Decode(entry.EventType, entry.EventData)
	if err != nil {
		logger.Error().Err(err).Msg("failed to decode persisted event")
		if err := s.ledger.MarkFailedPermanently(ctx, entry.TxHash, err.Error(), s.maxRetries); err != nil {
			logger.Error().Err(err).Msg("failed to mark undecodable entry as failed")
		}
		metrics.SweeperTerminalFailures.WithLabelValues(entry.EventType).Inc()
		return outcomeExhausted
	}

	if err := s.applier.Retry(ctx, ev, entry.TxHash); err != nil {
		if count >= s.maxRetries {
			return s.exhaust(ctx, entry, fmt.Sprintf("%s: %s", msgMaxRetries, err.Error()), logger)
		}
		logger.Debug().Err(err).Int("attempt", count).Msg("retry failed")
		return outcomeRetrying
	}

	logger.Info().Int("attempt", count).Msg("retried transaction confirmed")
	return outcomeConfirmed
}

func (s *Sweeper) exhaust(ctx context.Context, entry *store.PendingTransaction, message string, logger zerolog.Logger) outcome {
	if err := s.ledger.MarkFailed(ctx, entry.TxHash, message); err != nil {
		logger.Error().Err(err).Msg("failed to mark transaction as failed")
		return outcomeSkipped
	}
	metrics.SweeperTerminalFailures.WithLabelValues(entry.EventType).Inc()
	logger.Warn().Str("reason", message).Msg("giving up on transaction")
	return outcomeExhausted
}
