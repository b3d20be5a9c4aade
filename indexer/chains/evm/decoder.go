package evm

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"

	"github.com/commentgame/comment-mirror/indexer/normalizer"
)

//go:embed comment_game.abi.json
var commentGameABI string

// Decoder maps raw logs of the comment game contracts to named field maps.
type Decoder struct {
	contract abi.ABI
	byTopic  map[ethcommon.Hash]abi.Event
}

// NewDecoder parses the embedded contract ABI.
func NewDecoder() (*Decoder, error) {
	parsed, err := abi.JSON(strings.NewReader(commentGameABI))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse comment game ABI")
	}

	byTopic := make(map[ethcommon.Hash]abi.Event, len(parsed.Events))
	for _, ev := range parsed.Events {
		byTopic[ev.ID] = ev
	}
	return &Decoder{contract: parsed, byTopic: byTopic}, nil
}

// Topics returns the topic0 hashes of all watched events.
func (d *Decoder) Topics() []ethcommon.Hash {
	topics := make([]ethcommon.Hash, 0, len(d.byTopic))
	for _, name := range []string{normalizer.EventGameCreated, normalizer.EventCommentAdded, normalizer.EventPrizeClaimed} {
		topics = append(topics, d.contract.Events[name].ID)
	}
	return topics
}

// Decode unpacks both indexed and data arguments of log. Values keep the
// types the ABI package produces (common.Address, *big.Int, string, bool).
func (d *Decoder) Decode(log types.Log) (normalizer.RawLog, error) {
	raw := normalizer.RawLog{
		TxHash:      log.TxHash.Hex(),
		BlockNumber: log.BlockNumber,
		LogIndex:    log.Index,
	}
	if len(log.Topics) == 0 {
		return raw, fmt.Errorf("log has no topics")
	}

	ev, ok := d.byTopic[log.Topics[0]]
	if !ok {
		return raw, fmt.Errorf("unknown event topic %s", log.Topics[0].Hex())
	}
	raw.Name = ev.RawName

	var indexed abi.Arguments
	for _, arg := range ev.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if len(log.Topics)-1 != len(indexed) {
		return raw, fmt.Errorf("%s: expected %d indexed topics, got %d", ev.RawName, len(indexed), len(log.Topics)-1)
	}

	fields := make(map[string]any, len(ev.Inputs))
	if err := ev.Inputs.NonIndexed().UnpackIntoMap(fields, log.Data); err != nil {
		return raw, errors.Wrapf(err, "failed to unpack %s data", ev.RawName)
	}
	if err := abi.ParseTopicsIntoMap(fields, indexed, log.Topics[1:]); err != nil {
		return raw, errors.Wrapf(err, "failed to parse %s topics", ev.RawName)
	}
	raw.Fields = fields
	return raw, nil
}
