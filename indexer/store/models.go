// Package store contains the GORM models persisted by the mirror node.
//
// Table and column names are camelCase and pinned explicitly because other
// services query these tables directly:
//
//	PendingTransaction   ingestion ledger, one row per transaction hash
//	Game                 mirrored game state
//	Comment              one row per CommentAdded log
//	CommentLike          (commentId, userAddress) like rows
//	ChainState           listener cursor
package store

import (
	"time"
)

// Ledger statuses.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusFailed    = "failed"
)

// Event types recorded in the ledger.
const (
	EventTypeGameCreated  = "GAME_CREATED"
	EventTypeCommentAdded = "COMMENT_ADDED"
	EventTypePrizeClaimed = "PRIZE_CLAIMED"
)

// ValidEventType reports whether t is one of the ledger event types.
func ValidEventType(t string) bool {
	switch t {
	case EventTypeGameCreated, EventTypeCommentAdded, EventTypePrizeClaimed:
		return true
	}
	return false
}

// PendingTransaction tracks ingestion status per transaction hash.
// EventData holds the JSON-encoded normalized event and is nil for entries
// registered off-chain before the log was observed.
type PendingTransaction struct {
	ID           uint      `gorm:"column:id;primaryKey" json:"id"`
	TxHash       string    `gorm:"column:txHash;uniqueIndex;not null" json:"txHash"`
	GameAddress  string    `gorm:"column:gameAddress;index" json:"gameAddress"`
	EventType    string    `gorm:"column:eventType;not null" json:"eventType"`
	Status       string    `gorm:"column:status;index;not null" json:"status"` // "pending", "confirmed", "failed"
	ErrorMessage *string   `gorm:"column:errorMessage;type:text" json:"errorMessage"`
	RetryCount   int       `gorm:"column:retryCount;not null;default:0" json:"retryCount"`
	EventData    []byte    `gorm:"column:eventData" json:"-"`
	CreatedAt    time.Time `gorm:"column:createdAt;index" json:"createdAt"`
	UpdatedAt    time.Time `gorm:"column:updatedAt" json:"updatedAt"`
}

// TableName pins the ledger table name.
func (PendingTransaction) TableName() string {
	return "PendingTransaction"
}

// Game is the mirrored state of one game contract.
// Amounts are base-10 strings since they may exceed 64 bits.
type Game struct {
	ID              uint      `gorm:"column:id;primaryKey" json:"id"`
	GameAddress     string    `gorm:"column:gameAddress;uniqueIndex;not null" json:"gameAddress"`
	GameID          string    `gorm:"column:gameId" json:"gameId"`
	GameToken       string    `gorm:"column:gameToken" json:"gameToken"`
	TokenSymbol     string    `gorm:"column:tokenSymbol" json:"tokenSymbol"`
	TokenName       string    `gorm:"column:tokenName" json:"tokenName"`
	Initiator       string    `gorm:"column:initiator;index" json:"initiator"`
	Cost            string    `gorm:"column:cost" json:"cost"`
	GameTime        string    `gorm:"column:gameTime" json:"gameTime"` // seconds added per comment
	EndTime         time.Time `gorm:"column:endTime" json:"endTime"`
	PrizePool       string    `gorm:"column:prizePool" json:"prizePool"`
	LastCommentor   string    `gorm:"column:lastCommentor" json:"lastCommentor"`
	IsEnded         bool      `gorm:"column:isEnded;not null;default:false" json:"isEnded"`
	IsClaimed       bool      `gorm:"column:isClaimed;not null;default:false" json:"isClaimed"`
	LastBlockNumber uint64    `gorm:"column:lastBlockNumber" json:"-"`
	LastLogIndex    uint      `gorm:"column:lastLogIndex" json:"-"`
	TxHash          string    `gorm:"column:txHash" json:"txHash"`
	CreatedAt       time.Time `gorm:"column:createdAt;index" json:"createdAt"`
	UpdatedAt       time.Time `gorm:"column:updatedAt" json:"updatedAt"`
}

// TableName pins the game table name.
func (Game) TableName() string {
	return "Game"
}

// Comment is one CommentAdded log. CreatedAt is the on-chain timestamp.
type Comment struct {
	ID               uint      `gorm:"column:id;primaryKey" json:"id"`
	GameAddress      string    `gorm:"column:gameAddress;index;not null" json:"gameAddress"`
	Commentor        string    `gorm:"column:commentor;index" json:"commentor"`
	Message          string    `gorm:"column:message;type:text" json:"message"`
	LikeCount        int       `gorm:"column:likeCount;not null;default:0;check:likeCount >= 0" json:"likeCount"`
	EndTime          time.Time `gorm:"column:endTime" json:"endTime"`
	CurrentPrizePool string    `gorm:"column:currentPrizePool" json:"currentPrizePool"`
	TxHash           string    `gorm:"column:txHash;index" json:"txHash"`
	CreatedAt        time.Time `gorm:"column:createdAt;index" json:"createdAt"`
}

// TableName pins the comment table name.
func (Comment) TableName() string {
	return "Comment"
}

// CommentLike records that a user liked a comment.
type CommentLike struct {
	CommentID   uint      `gorm:"column:commentId;primaryKey;autoIncrement:false" json:"commentId"`
	UserAddress string    `gorm:"column:userAddress;primaryKey" json:"userAddress"`
	CreatedAt   time.Time `gorm:"column:createdAt" json:"createdAt"`
}

// TableName pins the like table name.
func (CommentLike) TableName() string {
	return "CommentLike"
}

// ChainState tracks the last block the listener has fully processed.
// One record per database.
type ChainState struct {
	ID        uint      `gorm:"column:id;primaryKey"`
	LastBlock uint64    `gorm:"column:lastBlock"`
	UpdatedAt time.Time `gorm:"column:updatedAt"`
}

// TableName pins the cursor table name.
func (ChainState) TableName() string {
	return "ChainState"
}
