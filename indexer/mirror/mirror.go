// Package mirror serves reads of the mirrored game state and owns the
// CommentLike table.
package mirror

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/commentgame/comment-mirror/indexer/metrics"
	"github.com/commentgame/comment-mirror/indexer/store"
)

var (
	// ErrGameNotFound is returned when no game is mirrored for an address.
	ErrGameNotFound = errors.New("game not found")
	// ErrCommentNotFound is returned when a comment id is unknown.
	ErrCommentNotFound = errors.New("comment not found")
)

// LikeResult is the state of a like after a toggle.
type LikeResult struct {
	Liked     bool `json:"liked"`
	LikeCount int  `json:"likeCount"`
}

// Store provides read access to games and comments, and like toggling.
type Store struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// NewStore creates a new mirror store.
func NewStore(db *gorm.DB, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With().Str("component", "mirror").Logger(),
	}
}

// ListGames returns games newest first.
func (s *Store) ListGames(ctx context.Context, limit, offset int) ([]store.Game, error) {
	var games []store.Game
	if err := s.db.WithContext(ctx).
		Order("createdAt DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&games).Error; err != nil {
		return nil, errors.Wrap(err, "failed to list games")
	}
	return games, nil
}

// GetGame returns the game mirrored for address.
func (s *Store) GetGame(ctx context.Context, address string) (*store.Game, error) {
	var game store.Game
	if err := s.db.WithContext(ctx).Where("gameAddress = ?", address).First(&game).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrap(ErrGameNotFound, address)
		}
		return nil, errors.Wrapf(err, "failed to get game %s", address)
	}
	return &game, nil
}

// ListComments returns the comments of a game newest first.
func (s *Store) ListComments(ctx context.Context, gameAddress string, limit, offset int) ([]store.Comment, error) {
	var comments []store.Comment
	if err := s.db.WithContext(ctx).
		Where("gameAddress = ?", gameAddress).
		Order("createdAt DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&comments).Error; err != nil {
		return nil, errors.Wrapf(err, "failed to list comments for %s", gameAddress)
	}
	return comments, nil
}

// ToggleLike flips userAddress's like on a comment. The like row and the
// comment's likeCount change in the same transaction.
func (s *Store) ToggleLike(ctx context.Context, commentID uint, userAddress string) (LikeResult, error) {
	var result LikeResult

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var comment store.Comment
		if err := tx.Select("id").First(&comment, commentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrCommentNotFound
			}
			return err
		}

		deleted := tx.
			Where("commentId = ? AND userAddress = ?", commentID, userAddress).
			Delete(&store.CommentLike{})
		if deleted.Error != nil {
			return deleted.Error
		}

		if deleted.RowsAffected > 0 {
			if err := tx.Model(&store.Comment{}).
				Where("id = ? AND likeCount > 0", commentID).
				Update("likeCount", gorm.Expr("likeCount - 1")).Error; err != nil {
				return err
			}
			result.Liked = false
		} else {
			like := store.CommentLike{CommentID: commentID, UserAddress: userAddress}
			if err := tx.Create(&like).Error; err != nil {
				return err
			}
			if err := tx.Model(&store.Comment{}).
				Where("id = ?", commentID).
				Update("likeCount", gorm.Expr("likeCount + 1")).Error; err != nil {
				return err
			}
			result.Liked = true
		}

		return tx.Model(&store.Comment{}).
			Select("likeCount").
			Where("id = ?", commentID).
			Scan(&result.LikeCount).Error
	})
	if err != nil {
		if errors.Is(err, ErrCommentNotFound) {
			return LikeResult{}, errors.Wrapf(ErrCommentNotFound, "comment %d", commentID)
		}
		return LikeResult{}, errors.Wrapf(err, "failed to toggle like on comment %d", commentID)
	}

	state := "unliked"
	if result.Liked {
		state = "liked"
	}
	metrics.LikeToggles.WithLabelValues(state).Inc()
	s.logger.Debug().
		Uint("comment_id", commentID).
		Str("user_address", userAddress).
		Bool("liked", result.Liked).
		Int("like_count", result.LikeCount).
		Msg("like toggled")

	return result, nil
}
