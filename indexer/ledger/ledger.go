// Package ledger provides access to the PendingTransaction table, which
// records per transaction hash whether a chain event has been applied to the
// mirror store.
package ledger

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/commentgame/comment-mirror/indexer/store"
)

// ErrNotFound is returned when no ledger entry exists for a hash.
var ErrNotFound = errors.New("transaction not found")

// Store provides database access for ledger entries.
type Store struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// NewStore creates a new ledger store.
func NewStore(db *gorm.DB, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With().Str("component", "ledger").Logger(),
	}
}

// WithTx returns a Store bound to an open transaction.
func (s *Store) WithTx(tx *gorm.DB) *Store {
	return &Store{db: tx, logger: s.logger}
}

// IsTerminal reports whether entry will never be retried again.
func IsTerminal(entry *store.PendingTransaction, ceiling int) bool {
	switch entry.Status {
	case store.StatusConfirmed:
		return true
	case store.StatusFailed:
		return entry.RetryCount >= ceiling
	default:
		return false
	}
}

// RecordSeen inserts a pending entry for txHash unless one exists. When the
// entry already exists it is returned as found with created=false. An
// existing entry without payload (registered before the log was observed) is
// then backfilled with eventData; the returned row still shows the empty
// payload so callers can tell a first observation apart.
func (s *Store) RecordSeen(ctx context.Context, txHash, gameAddress, eventType string, eventData []byte) (bool, *store.PendingTransaction, error) {
	entry := store.PendingTransaction{
		TxHash:      txHash,
		GameAddress: gameAddress,
		EventType:   eventType,
		Status:      store.StatusPending,
		EventData:   eventData,
	}

	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "txHash"}},
			DoNothing: true,
		}).
		Create(&entry)
	if result.Error != nil {
		return false, nil, errors.Wrapf(result.Error, "failed to record transaction %s", txHash)
	}
	if result.RowsAffected > 0 {
		return true, &entry, nil
	}

	existing, err := s.Get(ctx, txHash)
	if err != nil {
		return false, nil, err
	}

	if len(existing.EventData) == 0 && len(eventData) > 0 {
		backfill := map[string]any{
			"eventData":   eventData,
			"gameAddress": gameAddress,
			"eventType":   eventType,
		}
		if err := s.db.WithContext(ctx).
			Model(&store.PendingTransaction{}).
			Where("txHash = ? AND eventData IS NULL", txHash).
			Updates(backfill).Error; err != nil {
			return false, nil, errors.Wrapf(err, "failed to backfill event data for %s", txHash)
		}
	}

	return false, existing, nil
}

// Register pre-announces a transaction submitted off-chain. The entry has no
// payload until the listener observes the log. Duplicates are a no-op.
func (s *Store) Register(ctx context.Context, txHash, gameAddress, eventType string) (bool, error) {
	created, _, err := s.RecordSeen(ctx, txHash, gameAddress, eventType, nil)
	if err != nil {
		return false, err
	}
	if created {
		s.logger.Debug().Str("tx_hash", txHash).Str("event_type", eventType).Msg("registered transaction")
	}
	return created, nil
}

// Claim moves a non-confirmed entry back to pending. It returns false when
// the entry is already confirmed.
func (s *Store) Claim(ctx context.Context, txHash string) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&store.PendingTransaction{}).
		Where("txHash = ? AND status <> ?", txHash, store.StatusConfirmed).
		Update("status", store.StatusPending)
	if result.Error != nil {
		return false, errors.Wrapf(result.Error, "failed to claim transaction %s", txHash)
	}
	return result.RowsAffected > 0, nil
}

// MarkConfirmed marks the entry as applied and clears any previous error.
func (s *Store) MarkConfirmed(ctx context.Context, txHash string) error {
	result := s.db.WithContext(ctx).
		Model(&store.PendingTransaction{}).
		Where("txHash = ?", txHash).
		Updates(map[string]any{
			"status":       store.StatusConfirmed,
			"errorMessage": nil,
		})
	if result.Error != nil {
		return errors.Wrapf(result.Error, "failed to confirm transaction %s", txHash)
	}
	if result.RowsAffected == 0 {
		return errors.Wrapf(ErrNotFound, "confirm %s", txHash)
	}
	return nil
}

// MarkFailed records a retryable failure. Confirmed entries are left alone.
func (s *Store) MarkFailed(ctx context.Context, txHash, message string) error {
	result := s.db.WithContext(ctx).
		Model(&store.PendingTransaction{}).
		Where("txHash = ? AND status <> ?", txHash, store.StatusConfirmed).
		Updates(map[string]any{
			"status":       store.StatusFailed,
			"errorMessage": message,
		})
	if result.Error != nil {
		return errors.Wrapf(result.Error, "failed to mark transaction %s as failed", txHash)
	}
	return nil
}

// MarkFailedPermanently records a failure and lifts retryCount to ceiling so
// the sweeper never picks the entry up again.
func (s *Store) MarkFailedPermanently(ctx context.Context, txHash, message string, ceiling int) error {
	result := s.db.WithContext(ctx).
		Model(&store.PendingTransaction{}).
		Where("txHash = ? AND status <> ?", txHash, store.StatusConfirmed).
		Updates(map[string]any{
			"status":       store.StatusFailed,
			"errorMessage": message,
			"retryCount":   gorm.Expr("MAX(retryCount, ?)", ceiling),
		})
	if result.Error != nil {
		return errors.Wrapf(result.Error, "failed to mark transaction %s as permanently failed", txHash)
	}
	return nil
}

// IncrementRetry bumps retryCount and returns the new value.
func (s *Store) IncrementRetry(ctx context.Context, txHash string) (int, error) {
	result := s.db.WithContext(ctx).
		Model(&store.PendingTransaction{}).
		Where("txHash = ?", txHash).
		Update("retryCount", gorm.Expr("retryCount + 1"))
	if result.Error != nil {
		return 0, errors.Wrapf(result.Error, "failed to increment retry count for %s", txHash)
	}
	if result.RowsAffected == 0 {
		return 0, errors.Wrapf(ErrNotFound, "increment retry %s", txHash)
	}

	entry, err := s.Get(ctx, txHash)
	if err != nil {
		return 0, err
	}
	return entry.RetryCount, nil
}

// ListRetryable returns pending and soft-failed entries below maxRetries that
// were last updated before olderThan, oldest first.
func (s *Store) ListRetryable(ctx context.Context, maxRetries int, olderThan time.Time, limit int) ([]store.PendingTransaction, error) {
	var entries []store.PendingTransaction
	query := s.db.WithContext(ctx).
		Where("status IN ? AND retryCount < ? AND updatedAt < ?",
			[]string{store.StatusPending, store.StatusFailed}, maxRetries, olderThan).
		Order("createdAt ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&entries).Error; err != nil {
		return nil, errors.Wrap(err, "failed to query retryable transactions")
	}
	return entries, nil
}

// Get returns the entry for txHash or ErrNotFound.
func (s *Store) Get(ctx context.Context, txHash string) (*store.PendingTransaction, error) {
	var entry store.PendingTransaction
	if err := s.db.WithContext(ctx).Where("txHash = ?", txHash).First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrap(ErrNotFound, txHash)
		}
		return nil, errors.Wrapf(err, "failed to get transaction %s", txHash)
	}
	return &entry, nil
}

// CountByStatus returns the number of entries per status. Statuses with no
// entries are reported as zero.
func (s *Store) CountByStatus(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	if err := s.db.WithContext(ctx).
		Model(&store.PendingTransaction{}).
		Select("status AS status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "failed to count transactions")
	}

	counts := map[string]int64{
		store.StatusPending:   0,
		store.StatusConfirmed: 0,
		store.StatusFailed:    0,
	}
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}
