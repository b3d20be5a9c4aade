package api

import (
	"context"

	"github.com/commentgame/comment-mirror/indexer/mirror"
	"github.com/commentgame/comment-mirror/indexer/store"
)

// MirrorStore defines the game and comment methods needed by the API server
type MirrorStore interface {
	ListGames(ctx context.Context, limit, offset int) ([]store.Game, error)
	GetGame(ctx context.Context, address string) (*store.Game, error)
	ListComments(ctx context.Context, gameAddress string, limit, offset int) ([]store.Comment, error)
	ToggleLike(ctx context.Context, commentID uint, userAddress string) (mirror.LikeResult, error)
}

// LedgerStore defines the ledger methods needed by the API server
type LedgerStore interface {
	Register(ctx context.Context, txHash, gameAddress, eventType string) (bool, error)
	Get(ctx context.Context, txHash string) (*store.PendingTransaction, error)
	CountByStatus(ctx context.Context) (map[string]int64, error)
}
