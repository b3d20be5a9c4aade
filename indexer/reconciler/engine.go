// Package reconciler applies normalized chain events to the mirror store
// exactly once per transaction hash.
//
// Every apply runs in one database transaction that both mutates the mirror
// tables and advances the ledger entry, so a hash is either fully applied and
// confirmed or not applied at all.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	merrors "github.com/commentgame/comment-mirror/indexer/errors"
	"github.com/commentgame/comment-mirror/indexer/events"
	"github.com/commentgame/comment-mirror/indexer/ledger"
	"github.com/commentgame/comment-mirror/indexer/metrics"
	"github.com/commentgame/comment-mirror/indexer/normalizer"
	"github.com/commentgame/comment-mirror/indexer/store"
)

const (
	defaultApplyTimeout = 10 * time.Second
	defaultMaxRetries   = 5

	// failureRecordTimeout bounds the follow-up transaction that records a failed apply.
	failureRecordTimeout = 5 * time.Second
)

// Config holds engine settings.
type Config struct {
	ApplyTimeout time.Duration // upper bound for one apply attempt
	MaxRetries   int           // retry ceiling, used to mark conflicts as terminal
}

// Engine applies events to the mirror store.
type Engine struct {
	db     *gorm.DB
	ledger *ledger.Store
	locks  *keyedMutex
	cfg    Config
	logger zerolog.Logger
}

// NewEngine creates a new reconciliation engine.
func NewEngine(db *gorm.DB, ledgerStore *ledger.Store, cfg Config, logger zerolog.Logger) *Engine {
	if cfg.ApplyTimeout <= 0 {
		cfg.ApplyTimeout = defaultApplyTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	return &Engine{
		db:     db,
		ledger: ledgerStore,
		locks:  newKeyedMutex(),
		cfg:    cfg,
		logger: logger.With().Str("component", "reconciler").Logger(),
	}
}

// Ingest normalizes a decoded log and applies it. Malformed logs are logged,
// counted and returned without touching the ledger.
func (e *Engine) Ingest(ctx context.Context, raw normalizer.RawLog) error {
	ev, err := normalizer.Normalize(raw)
	if err != nil {
		metrics.MalformedEvents.WithLabelValues(raw.Name).Inc()
		e.logger.Warn().
			Err(err).
			Str("event", raw.Name).
			Str("tx_hash", raw.TxHash).
			Uint64("block", raw.BlockNumber).
			Uint("log_index", raw.LogIndex).
			Msg("dropping malformed log")
		return err
	}

	txHash, err := normalizer.NormalizeTxHash(raw.TxHash)
	if err != nil {
		return err
	}
	return e.Apply(ctx, ev, txHash)
}

// Apply applies ev exactly once for txHash. Replays of a confirmed or
// terminally failed hash return nil. On failure the ledger entry is marked
// failed and the classified *errors.ReconcileError is returned.
func (e *Engine) Apply(ctx context.Context, ev events.Event, txHash string) error {
	return e.apply(ctx, ev, txHash, false)
}

// Retry is Apply for the sweeper: the entry is attempted even when its retry
// count has just reached the ceiling. Confirmed entries are still skipped.
func (e *Engine) Retry(ctx context.Context, ev events.Event, txHash string) error {
	return e.apply(ctx, ev, txHash, true)
}

func (e *Engine) apply(ctx context.Context, ev events.Event, txHash string, retry bool) error {
	if ev == nil {
		return merrors.NewInternalError("nil event", nil)
	}

	start := time.Now()
	eventType := ev.Type()
	defer func() {
		metrics.ApplyLatency.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	}()

	payload, err := events.Encode(ev)
	if err != nil {
		return merrors.NewInternalError("failed to encode event", err)
	}

	applyCtx, cancel := context.WithTimeout(ctx, e.cfg.ApplyTimeout)
	defer cancel()

	unlock, err := e.locks.Lock(applyCtx, ev.GameAddress())
	if err != nil {
		lockErr := merrors.NewTimeoutError(txHash, "gave up waiting for game lock", err).
			WithContext("game_address", ev.GameAddress())
		return e.fail(ctx, ev, txHash, payload, lockErr)
	}
	defer unlock()

	duplicate := false
	err = e.db.WithContext(applyCtx).Transaction(func(tx *gorm.DB) error {
		l := e.ledger.WithTx(tx)

		created, existing, err := l.RecordSeen(applyCtx, txHash, ev.GameAddress(), eventType, payload)
		if err != nil {
			return err
		}
		if !created {
			// An entry registered off-chain is applied on its first observation
			// whatever the sweeper has recorded for it meanwhile.
			observed := len(existing.EventData) > 0
			done := existing.Status == store.StatusConfirmed
			if observed && !retry {
				done = ledger.IsTerminal(existing, e.cfg.MaxRetries)
			}
			if done {
				duplicate = true
				return nil
			}
			claimed, err := l.Claim(applyCtx, txHash)
			if err != nil {
				return err
			}
			if !claimed {
				duplicate = true
				return nil
			}
		}

		if err := e.dispatch(applyCtx, tx, ev, txHash); err != nil {
			return err
		}
		return l.MarkConfirmed(applyCtx, txHash)
	})

	if err == nil {
		if duplicate {
			metrics.EventsApplied.WithLabelValues(eventType, metrics.OutcomeDuplicate).Inc()
			e.logger.Debug().Str("tx_hash", txHash).Str("event_type", eventType).Msg("transaction already processed")
			return nil
		}
		metrics.EventsApplied.WithLabelValues(eventType, metrics.OutcomeConfirmed).Inc()
		e.logger.Info().
			Str("tx_hash", txHash).
			Str("event_type", eventType).
			Str("game_address", ev.GameAddress()).
			Msg("event applied")
		return nil
	}

	return e.fail(ctx, ev, txHash, payload, merrors.ClassifyStoreError(txHash, err))
}

// fail records recErr in the ledger. When that write fails too the caller
// gets an unrecorded-failure error instead, since nothing will retry the hash.
func (e *Engine) fail(ctx context.Context, ev events.Event, txHash string, payload []byte, recErr *merrors.ReconcileError) error {
	if err := e.recordFailure(ctx, ev, txHash, payload, recErr); err != nil {
		metrics.EventsApplied.WithLabelValues(ev.Type(), metrics.OutcomeUnrecorded).Inc()
		e.logger.Error().
			Err(err).
			Str("tx_hash", txHash).
			Str("event_type", ev.Type()).
			Str("apply_error", recErr.Error()).
			Msg("failed to record apply failure in ledger")
		return merrors.NewUnrecordedFailure(txHash, recErr, err)
	}
	return recErr
}

// recordFailure writes the failure to the ledger in a fresh transaction, since
// the apply transaction (and with it any new ledger row) was rolled back.
func (e *Engine) recordFailure(ctx context.Context, ev events.Event, txHash string, payload []byte, recErr *merrors.ReconcileError) error {
	failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureRecordTimeout)
	defer cancel()

	retryable := recErr.IsRetryable()
	err := e.db.WithContext(failCtx).Transaction(func(tx *gorm.DB) error {
		l := e.ledger.WithTx(tx)
		if _, _, err := l.RecordSeen(failCtx, txHash, ev.GameAddress(), ev.Type(), payload); err != nil {
			return err
		}
		if retryable {
			return l.MarkFailed(failCtx, txHash, recErr.Error())
		}
		return l.MarkFailedPermanently(failCtx, txHash, recErr.Error(), e.cfg.MaxRetries)
	})

	if err != nil {
		return err
	}

	logEvent := e.logger.Warn()
	outcome := metrics.OutcomeRetryable
	if !retryable {
		logEvent = e.logger.Error()
		outcome = metrics.OutcomeTerminal
	}
	metrics.EventsApplied.WithLabelValues(ev.Type(), outcome).Inc()
	logEvent.
		Err(recErr).
		Str("tx_hash", txHash).
		Str("event_type", ev.Type()).
		Str("game_address", ev.GameAddress()).
		Str("code", string(recErr.Code)).
		Bool("retryable", retryable).
		Msg("failed to apply event")
	return nil
}

func (e *Engine) dispatch(ctx context.Context, tx *gorm.DB, ev events.Event, txHash string) error {
	switch ev := ev.(type) {
	case *events.GameCreated:
		return applyGameCreated(ctx, tx, ev, txHash)
	case *events.CommentAdded:
		return applyCommentAdded(ctx, tx, ev, txHash)
	case *events.PrizeClaimed:
		return applyPrizeClaimed(ctx, tx, ev, txHash)
	default:
		return merrors.NewInternalError(fmt.Sprintf("unsupported event %T", ev), nil)
	}
}

func applyGameCreated(ctx context.Context, tx *gorm.DB, ev *events.GameCreated, txHash string) error {
	var count int64
	if err := tx.WithContext(ctx).
		Model(&store.Game{}).
		Where("gameAddress = ?", ev.GameAddr).
		Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return merrors.NewStateConflict(txHash, "game already exists", nil).
			WithContext("game_address", ev.GameAddr)
	}

	game := store.Game{
		GameAddress:     ev.GameAddr,
		GameID:          ev.GameID,
		GameToken:       ev.GameToken,
		TokenSymbol:     ev.TokenSymbol,
		TokenName:       ev.TokenName,
		Initiator:       ev.Initiator,
		Cost:            ev.Cost,
		GameTime:        ev.GameTime,
		EndTime:         ev.EndTime,
		PrizePool:       ev.PrizePool,
		LastCommentor:   ev.LastCommentor,
		IsEnded:         ev.IsEnded,
		LastBlockNumber: ev.Pos.BlockNumber,
		LastLogIndex:    ev.Pos.LogIndex,
		TxHash:          txHash,
	}
	return tx.WithContext(ctx).Create(&game).Error
}

func applyCommentAdded(ctx context.Context, tx *gorm.DB, ev *events.CommentAdded, txHash string) error {
	var game store.Game
	if err := tx.WithContext(ctx).Where("gameAddress = ?", ev.GameAddr).First(&game).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return merrors.NewMissingParent(txHash, ev.GameAddr)
		}
		return err
	}

	comment := store.Comment{
		GameAddress:      ev.GameAddr,
		Commentor:        ev.Commentor,
		Message:          ev.Message,
		EndTime:          ev.NewEndTime,
		CurrentPrizePool: ev.PrizePool,
		TxHash:           txHash,
		CreatedAt:        ev.Timestamp,
	}
	if err := tx.WithContext(ctx).Create(&comment).Error; err != nil {
		return err
	}

	updates := map[string]any{}
	if ev.NewEndTime.After(game.EndTime) {
		updates["endTime"] = ev.NewEndTime
	}
	// Comments applied out of order must not roll the pool or the leader back.
	last := events.Position{BlockNumber: game.LastBlockNumber, LogIndex: game.LastLogIndex}
	if ev.Pos.After(last) {
		updates["prizePool"] = ev.PrizePool
		updates["lastCommentor"] = ev.Commentor
		updates["lastBlockNumber"] = ev.Pos.BlockNumber
		updates["lastLogIndex"] = ev.Pos.LogIndex
	}
	if len(updates) == 0 {
		return nil
	}

	return tx.WithContext(ctx).
		Model(&store.Game{}).
		Where("id = ?", game.ID).
		Updates(updates).Error
}

func applyPrizeClaimed(ctx context.Context, tx *gorm.DB, ev *events.PrizeClaimed, txHash string) error {
	result := tx.WithContext(ctx).
		Model(&store.Game{}).
		Where("gameAddress = ?", ev.GameAddr).
		Updates(map[string]any{
			"isClaimed": true,
			"isEnded":   true,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return merrors.NewMissingParent(txHash, ev.GameAddr)
	}
	return nil
}
