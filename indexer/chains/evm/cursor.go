package evm

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/commentgame/comment-mirror/indexer/store"
)

// CursorStore persists the last block the listener has fully processed.
type CursorStore struct {
	db *gorm.DB
}

// NewCursorStore creates a new cursor store
func NewCursorStore(db *gorm.DB) *CursorStore {
	return &CursorStore{db: db}
}

// LastBlock returns the stored cursor. ok is false when nothing was stored yet.
func (cs *CursorStore) LastBlock(ctx context.Context) (uint64, bool, error) {
	var state store.ChainState
	err := cs.db.WithContext(ctx).Order("id ASC").First(&state).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, false, nil
		}
		return 0, false, errors.Wrap(err, "failed to get chain state")
	}
	return state.LastBlock, true, nil
}

// SaveLastBlock stores block as the cursor. The cursor never moves backward.
func (cs *CursorStore) SaveLastBlock(ctx context.Context, block uint64) error {
	return cs.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var state store.ChainState
		err := tx.Order("id ASC").First(&state).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			state = store.ChainState{LastBlock: block}
			if err := tx.Create(&state).Error; err != nil {
				return errors.Wrap(err, "failed to create chain state")
			}
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "failed to query chain state")
		}

		if block <= state.LastBlock {
			return nil
		}
		if err := tx.Model(&state).Updates(map[string]interface{}{
			"lastBlock": block,
			"updatedAt": time.Now(),
		}).Error; err != nil {
			return errors.Wrap(err, "failed to update chain state")
		}
		return nil
	})
}
