// Package events defines the closed set of normalized chain events the
// reconciler applies to the mirror store.
//
// All addresses are lower-case 0x-prefixed hex, all token amounts are base-10
// strings and all timestamps are UTC.
package events

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/commentgame/comment-mirror/indexer/store"
)

// Position is the on-chain location of a log.
type Position struct {
	BlockNumber uint64 `json:"blockNumber"`
	LogIndex    uint   `json:"logIndex"`
}

// After reports whether p is strictly later than other in chain order.
func (p Position) After(other Position) bool {
	if p.BlockNumber != other.BlockNumber {
		return p.BlockNumber > other.BlockNumber
	}
	return p.LogIndex > other.LogIndex
}

// Event is implemented only by the types in this package.
type Event interface {
	// Type returns the ledger event type.
	Type() string
	// GameAddress returns the game the event belongs to.
	GameAddress() string
	// Position returns where the log was emitted.
	Position() Position

	sealed()
}

// GameCreated announces a new game contract.
type GameCreated struct {
	Pos           Position  `json:"position"`
	GameID        string    `json:"gameId"`
	GameAddr      string    `json:"gameAddress"`
	GameToken     string    `json:"gameToken"`
	TokenSymbol   string    `json:"tokenSymbol"`
	TokenName     string    `json:"tokenName"`
	Initiator     string    `json:"initiator"`
	GameTime      string    `json:"gameTime"`
	EndTime       time.Time `json:"endTime"`
	Cost          string    `json:"cost"`
	PrizePool     string    `json:"prizePool"`
	LastCommentor string    `json:"lastCommentor"`
	IsEnded       bool      `json:"isEnded"`
}

// CommentAdded is a paid comment that extends the game timer.
type CommentAdded struct {
	Pos        Position  `json:"position"`
	GameAddr   string    `json:"gameAddress"`
	Commentor  string    `json:"commentor"`
	Message    string    `json:"message"`
	NewEndTime time.Time `json:"newEndTime"`
	PrizePool  string    `json:"prizePool"`
	Timestamp  time.Time `json:"timestamp"`
}

// PrizeClaimed marks the game prize as paid out.
type PrizeClaimed struct {
	Pos      Position `json:"position"`
	GameAddr string   `json:"gameAddress"`
}

func (e *GameCreated) Type() string        { return store.EventTypeGameCreated }
func (e *GameCreated) GameAddress() string { return e.GameAddr }
func (e *GameCreated) Position() Position  { return e.Pos }
func (e *GameCreated) sealed()             {}

func (e *CommentAdded) Type() string        { return store.EventTypeCommentAdded }
func (e *CommentAdded) GameAddress() string { return e.GameAddr }
func (e *CommentAdded) Position() Position  { return e.Pos }
func (e *CommentAdded) sealed()             {}

func (e *PrizeClaimed) Type() string        { return store.EventTypePrizeClaimed }
func (e *PrizeClaimed) GameAddress() string { return e.GameAddr }
func (e *PrizeClaimed) Position() Position  { return e.Pos }
func (e *PrizeClaimed) sealed()             {}

// Encode serializes an event for the ledger's eventData column.
func Encode(ev Event) ([]byte, error) {
	if ev == nil {
		return nil, errors.New("nil event")
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to encode %s event", ev.Type())
	}
	return data, nil
}

// Decode rebuilds an event from its ledger type and eventData payload.
func Decode(eventType string, data []byte) (Event, error) {
	if len(data) == 0 {
		return nil, errors.Errorf("empty event data for %s", eventType)
	}

	var ev Event
	switch eventType {
	case store.EventTypeGameCreated:
		ev = &GameCreated{}
	case store.EventTypeCommentAdded:
		ev = &CommentAdded{}
	case store.EventTypePrizeClaimed:
		ev = &PrizeClaimed{}
	default:
		return nil, errors.Errorf("unknown event type %q", eventType)
	}

	if err := json.Unmarshal(data, ev); err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s event", eventType)
	}
	if ev.GameAddress() == "" {
		return nil, errors.Errorf("decoded %s event has no game address", eventType)
	}
	return ev, nil
}
