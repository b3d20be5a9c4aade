// Package normalizer turns decoded contract logs into typed events.
//
// Normalize is pure: it never touches the ledger or the store. Every rejection
// is a MALFORMED_EVENT error carrying the event name and transaction hash.
package normalizer

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	merrors "github.com/commentgame/comment-mirror/indexer/errors"
	"github.com/commentgame/comment-mirror/indexer/events"
)

// Contract event names as they appear in the ABI.
const (
	EventGameCreated  = "GameCreated"
	EventCommentAdded = "CommentAdded"
	EventPrizeClaimed = "PrizeClaimed"
)

// RawLog is a decoded log: the ABI event name plus its arguments keyed by
// parameter name.
type RawLog struct {
	Name        string
	TxHash      string
	BlockNumber uint64
	LogIndex    uint
	Fields      map[string]any
}

var eventFields = map[string][]string{
	EventGameCreated: {
		"gameId", "gameAddr", "gameTokenAddr", "tokenSymbol", "tokenName", "initiator",
		"gameTime", "endTime", "cost", "prizePool", "lastCommentor", "isEnded",
	},
	EventCommentAdded: {
		"gameAddress", "commentor", "message", "newEndTime", "prizePool", "timestamp",
	},
	EventPrizeClaimed: {
		"gameAddress",
	},
}

// Normalize validates raw and converts it to the matching typed event.
func Normalize(raw RawLog) (events.Event, error) {
	if _, err := normalizeTxHash(raw.TxHash); err != nil {
		return nil, malformed(raw, err.Error())
	}

	expected, ok := eventFields[raw.Name]
	if !ok {
		return nil, malformed(raw, fmt.Sprintf("unknown event %q", raw.Name))
	}
	if len(raw.Fields) != len(expected) {
		return nil, malformed(raw, fmt.Sprintf("expected %d fields, got %d", len(expected), len(raw.Fields)))
	}
	for _, name := range expected {
		if _, ok := raw.Fields[name]; !ok {
			return nil, malformed(raw, fmt.Sprintf("missing field %q", name))
		}
	}

	p := &fieldParser{fields: raw.Fields}
	pos := events.Position{BlockNumber: raw.BlockNumber, LogIndex: raw.LogIndex}

	var ev events.Event
	switch raw.Name {
	case EventGameCreated:
		ev = &events.GameCreated{
			Pos:           pos,
			GameID:        p.amount("gameId"),
			GameAddr:      p.address("gameAddr"),
			GameToken:     p.address("gameTokenAddr"),
			TokenSymbol:   p.str("tokenSymbol"),
			TokenName:     p.str("tokenName"),
			Initiator:     p.address("initiator"),
			GameTime:      p.amount("gameTime"),
			EndTime:       p.timestamp("endTime"),
			Cost:          p.amount("cost"),
			PrizePool:     p.amount("prizePool"),
			LastCommentor: p.address("lastCommentor"),
			IsEnded:       p.boolean("isEnded"),
		}
	case EventCommentAdded:
		ev = &events.CommentAdded{
			Pos:        pos,
			GameAddr:   p.address("gameAddress"),
			Commentor:  p.address("commentor"),
			Message:    p.str("message"),
			NewEndTime: p.timestamp("newEndTime"),
			PrizePool:  p.amount("prizePool"),
			Timestamp:  p.timestamp("timestamp"),
		}
	case EventPrizeClaimed:
		ev = &events.PrizeClaimed{
			Pos:      pos,
			GameAddr: p.address("gameAddress"),
		}
	}

	if p.err != nil {
		return nil, malformed(raw, p.err.Error())
	}
	return ev, nil
}

// NormalizeTxHash validates a 32-byte hex hash and lower-cases it.
func NormalizeTxHash(hash string) (string, error) {
	h, err := normalizeTxHash(hash)
	if err != nil {
		return "", merrors.NewValidationError(err.Error())
	}
	return h, nil
}

// NormalizeAddress validates a 20-byte hex address and lower-cases it.
func NormalizeAddress(addr string) (string, error) {
	a, err := parseAddress(addr)
	if err != nil {
		return "", merrors.NewValidationError(err.Error())
	}
	return a, nil
}

func malformed(raw RawLog, reason string) *merrors.ReconcileError {
	return merrors.NewMalformedEvent(raw.TxHash, reason).
		WithContext("event", raw.Name).
		WithContext("block_number", raw.BlockNumber).
		WithContext("log_index", raw.LogIndex)
}

func normalizeTxHash(hash string) (string, error) {
	b, err := hexutil.Decode(hash)
	if err != nil {
		return "", fmt.Errorf("invalid tx hash %q: %v", hash, err)
	}
	if len(b) != ethcommon.HashLength {
		return "", fmt.Errorf("invalid tx hash %q: want %d bytes, got %d", hash, ethcommon.HashLength, len(b))
	}
	return strings.ToLower(hash), nil
}

func parseAddress(s string) (string, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return "", fmt.Errorf("address %q must be 0x-prefixed", s)
	}
	if !ethcommon.IsHexAddress(s) {
		return "", fmt.Errorf("address %q is not 20-byte hex", s)
	}
	return strings.ToLower(ethcommon.HexToAddress(s).Hex()), nil
}

// fieldParser converts fields one by one and keeps the first error.
type fieldParser struct {
	fields map[string]any
	err    error
}

func (p *fieldParser) fail(name string, format string, args ...any) {
	if p.err == nil {
		p.err = fmt.Errorf("field %q: %s", name, fmt.Sprintf(format, args...))
	}
}

func (p *fieldParser) address(name string) string {
	switch v := p.fields[name].(type) {
	case ethcommon.Address:
		return strings.ToLower(v.Hex())
	case *ethcommon.Address:
		if v == nil {
			p.fail(name, "nil address")
			return ""
		}
		return strings.ToLower(v.Hex())
	case string:
		a, err := parseAddress(v)
		if err != nil {
			p.fail(name, "%v", err)
			return ""
		}
		return a
	default:
		p.fail(name, "unsupported address type %T", v)
		return ""
	}
}

func (p *fieldParser) str(name string) string {
	v, ok := p.fields[name].(string)
	if !ok {
		p.fail(name, "expected string, got %T", p.fields[name])
		return ""
	}
	return v
}

func (p *fieldParser) boolean(name string) bool {
	switch v := p.fields[name].(type) {
	case bool:
		return v
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			p.fail(name, "invalid bool %q", v)
		}
		return b
	default:
		p.fail(name, "expected bool, got %T", v)
		return false
	}
}

func (p *fieldParser) integer(name string) *uint256.Int {
	var b *big.Int
	switch v := p.fields[name].(type) {
	case *big.Int:
		b = v
	case uint64:
		return uint256.NewInt(v)
	case int64:
		if v < 0 {
			p.fail(name, "negative value %d", v)
			return nil
		}
		return uint256.NewInt(uint64(v))
	case string:
		var ok bool
		if strings.HasPrefix(v, "0x") || strings.HasPrefix(v, "0X") {
			b, ok = new(big.Int).SetString(v[2:], 16)
		} else {
			b, ok = new(big.Int).SetString(v, 10)
		}
		if !ok {
			p.fail(name, "non-numeric value %q", v)
			return nil
		}
	default:
		p.fail(name, "unsupported integer type %T", v)
		return nil
	}

	if b == nil {
		p.fail(name, "nil integer")
		return nil
	}
	if b.Sign() < 0 {
		p.fail(name, "negative value %s", b.String())
		return nil
	}
	u, overflow := uint256.FromBig(b)
	if overflow {
		p.fail(name, "value exceeds 256 bits")
		return nil
	}
	return u
}

func (p *fieldParser) amount(name string) string {
	u := p.integer(name)
	if u == nil {
		return ""
	}
	return u.Dec()
}

func (p *fieldParser) timestamp(name string) time.Time {
	u := p.integer(name)
	if u == nil {
		return time.Time{}
	}
	if !u.IsUint64() || u.Uint64() > math.MaxInt64 {
		p.fail(name, "timestamp %s out of range", u.Dec())
		return time.Time{}
	}
	return time.Unix(int64(u.Uint64()), 0).UTC()
}
