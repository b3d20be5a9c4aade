package evm

import (
	"context"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	merrors "github.com/commentgame/comment-mirror/indexer/errors"
	"github.com/commentgame/comment-mirror/indexer/metrics"
	"github.com/commentgame/comment-mirror/indexer/normalizer"
)

// Ingester consumes decoded logs. Implemented by the reconciliation engine.
type Ingester interface {
	Ingest(ctx context.Context, raw normalizer.RawLog) error
}

// ListenerConfig configures a Listener
type ListenerConfig struct {
	Contracts     []ethcommon.Address
	StartFrom     *int64 // nil or -1 starts at the confirmed head
	PollInterval  time.Duration
	Confirmations uint64
	MaxBlockRange uint64
	Retry         *merrors.RetryConfig
}

// Listener polls the chain for contract logs and hands them to the engine
// in (block, logIndex) order.
type Listener struct {
	reader   ChainReader
	decoder  *Decoder
	ingester Ingester
	cursor   *CursorStore
	cfg      ListenerConfig
	logger   zerolog.Logger
}

// NewListener creates a new listener
func NewListener(
	reader ChainReader,
	ingester Ingester,
	cursor *CursorStore,
	cfg ListenerConfig,
	logger zerolog.Logger,
) (*Listener, error) {
	if len(cfg.Contracts) == 0 {
		return nil, merrors.NewConfigError("no contract addresses to watch")
	}
	decoder, err := NewDecoder()
	if err != nil {
		return nil, err
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.MaxBlockRange == 0 {
		cfg.MaxBlockRange = 2000
	}
	if cfg.Retry == nil {
		cfg.Retry = merrors.DefaultRetryConfig()
	}

	l := &Listener{
		reader:   reader,
		decoder:  decoder,
		ingester: ingester,
		cursor:   cursor,
		logger:   logger.With().Str("component", "evm_listener").Logger(),
	}

	retry := *cfg.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = func(attempt int, delay time.Duration, err error) {
			l.logger.Warn().Err(err).Int("attempt", attempt).Dur("backoff", delay).Msg("rpc call failed, retrying")
		}
	}
	cfg.Retry = &retry
	l.cfg = cfg
	return l, nil
}

// Run polls until ctx is cancelled. Failed polls are logged and retried on
// the next tick.
func (l *Listener) Run(ctx context.Context) error {
	l.logger.Info().
		Int("contracts", len(l.cfg.Contracts)).
		Dur("poll_interval", l.cfg.PollInterval).
		Uint64("confirmations", l.cfg.Confirmations).
		Msg("starting log listener")

	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := l.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			metrics.ListenerErrors.Inc()
			l.logger.Error().Err(err).Msg("poll failed")
		}

		select {
		case <-ctx.Done():
			l.logger.Info().Msg("log listener stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Poll processes every confirmed block after the cursor.
func (l *Listener) Poll(ctx context.Context) error {
	var head uint64
	err := merrors.RetryWithConfig(ctx, func() error {
		var innerErr error
		head, innerErr = l.reader.BlockNumber(ctx)
		return innerErr
	}, l.cfg.Retry)
	if err != nil {
		return errors.Wrap(err, "failed to get latest block")
	}
	if head < l.cfg.Confirmations {
		return nil
	}
	safe := head - l.cfg.Confirmations

	from, err := l.startBlock(ctx, safe)
	if err != nil {
		return err
	}

	for from <= safe {
		to := from + l.cfg.MaxBlockRange - 1
		if to > safe {
			to = safe
		}
		if err := l.processRange(ctx, from, to); err != nil {
			return errors.Wrapf(err, "failed to process blocks %d-%d", from, to)
		}
		if err := l.cursor.SaveLastBlock(ctx, to); err != nil {
			return err
		}
		metrics.ListenerLastBlock.Set(float64(to))
		from = to + 1
	}
	return nil
}

// startBlock returns the first block to fetch. Without a stored cursor the
// configured start block is used, or the safe head when none is set.
func (l *Listener) startBlock(ctx context.Context, safe uint64) (uint64, error) {
	last, ok, err := l.cursor.LastBlock(ctx)
	if err != nil {
		return 0, err
	}
	if ok {
		return last + 1, nil
	}

	if l.cfg.StartFrom != nil && *l.cfg.StartFrom >= 0 {
		return uint64(*l.cfg.StartFrom), nil
	}
	return safe, nil
}

func (l *Listener) processRange(ctx context.Context, from, to uint64) error {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: l.cfg.Contracts,
		Topics:    [][]ethcommon.Hash{l.decoder.Topics()},
	}

	var logs []types.Log
	err := merrors.RetryWithConfig(ctx, func() error {
		var innerErr error
		logs, innerErr = l.reader.FilterLogs(ctx, query)
		return innerErr
	}, l.cfg.Retry)
	if err != nil {
		return err
	}

	sort.SliceStable(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})

	if len(logs) > 0 {
		l.logger.Info().
			Uint64("from_block", from).
			Uint64("to_block", to).
			Int("logs_found", len(logs)).
			Msg("found contract logs")
	}

	for _, log := range logs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := l.handleLog(ctx, log); err != nil {
			return err
		}
	}
	return nil
}

// handleLog drops malformed logs and leaves recorded apply failures to the
// sweeper. It only fails when an apply failure could not be written to the
// ledger, so the range is polled again instead of skipped.
func (l *Listener) handleLog(ctx context.Context, log types.Log) error {
	if log.Removed {
		l.logger.Warn().
			Str("tx_hash", log.TxHash.Hex()).
			Uint64("block", log.BlockNumber).
			Msg("skipping removed log")
		return nil
	}

	raw, err := l.decoder.Decode(log)
	if err != nil {
		metrics.MalformedEvents.WithLabelValues(raw.Name).Inc()
		l.logger.Warn().
			Err(err).
			Str("tx_hash", raw.TxHash).
			Uint64("block", raw.BlockNumber).
			Uint("log_index", raw.LogIndex).
			Msg("dropping undecodable log")
		return nil
	}
	metrics.ListenerLogsReceived.WithLabelValues(raw.Name).Inc()

	err = l.ingester.Ingest(ctx, raw)
	if err == nil {
		return nil
	}
	if merrors.IsUnrecordedFailure(err) {
		return errors.Wrapf(err, "failed to record log %s:%d", raw.TxHash, raw.LogIndex)
	}
	l.logger.Debug().
		Err(err).
		Str("event", raw.Name).
		Str("tx_hash", raw.TxHash).
		Str("code", string(merrors.CodeOf(err))).
		Msg("log not applied")
	return nil
}
