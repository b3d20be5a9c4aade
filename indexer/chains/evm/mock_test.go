package evm

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/commentgame/comment-mirror/indexer/normalizer"
)

// mockChainReader is a mock implementation of ChainReader for testing
type mockChainReader struct {
	mock.Mock
}

func (m *mockChainReader) BlockNumber(ctx context.Context) (uint64, error) {
	args := m.Called(ctx)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *mockChainReader) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	args := m.Called(ctx, q)
	if logs := args.Get(0); logs != nil {
		return logs.([]types.Log), args.Error(1)
	}
	return nil, args.Error(1)
}

// recordingIngester keeps every log it is handed.
type recordingIngester struct {
	mu   sync.Mutex
	raws []normalizer.RawLog
}

func (r *recordingIngester) Ingest(_ context.Context, raw normalizer.RawLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.raws = append(r.raws, raw)
	return nil
}

func (r *recordingIngester) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.raws))
	for i, raw := range r.raws {
		out[i] = raw.Name
	}
	return out
}

func rangeStarting(from uint64) interface{} {
	return mock.MatchedBy(func(q ethereum.FilterQuery) bool {
		return q.FromBlock != nil && q.FromBlock.Uint64() == from
	})
}

var (
	contractAddr = ethcommon.HexToAddress("0x00000000000000000000000000000000000000f0")
	gameAddr     = ethcommon.HexToAddress("0x00000000000000000000000000000000000000AA")
	aliceAddr    = ethcommon.HexToAddress("0x00000000000000000000000000000000000000A1")
	tokenAddr    = ethcommon.HexToAddress("0x00000000000000000000000000000000000000cc")
)

// packLog ABI-encodes an event the way the contract would emit it.
func packLog(t *testing.T, d *Decoder, name string, block uint64, index uint, txHash ethcommon.Hash, values map[string]interface{}) types.Log {
	t.Helper()
	ev, ok := d.contract.Events[name]
	require.True(t, ok, name)

	topics := []ethcommon.Hash{ev.ID}
	var data []interface{}
	for _, arg := range ev.Inputs {
		v, ok := values[arg.Name]
		require.True(t, ok, "missing value for %s", arg.Name)
		if arg.Indexed {
			encoded, err := abi.MakeTopics([]interface{}{v})
			require.NoError(t, err)
			topics = append(topics, encoded[0][0])
			continue
		}
		data = append(data, v)
	}

	packed, err := ev.Inputs.NonIndexed().Pack(data...)
	require.NoError(t, err)

	return types.Log{
		Address:     contractAddr,
		Topics:      topics,
		Data:        packed,
		BlockNumber: block,
		TxHash:      txHash,
		Index:       index,
	}
}

func gameCreatedValues() map[string]interface{} {
	return map[string]interface{}{
		"gameId":        big.NewInt(1),
		"gameAddr":      gameAddr,
		"gameTokenAddr": tokenAddr,
		"tokenSymbol":   "CMT",
		"tokenName":     "Comment Token",
		"initiator":     aliceAddr,
		"gameTime":      big.NewInt(600),
		"endTime":       big.NewInt(1_700_000_000),
		"cost":          big.NewInt(100),
		"prizePool":     big.NewInt(0),
		"lastCommentor": ethcommon.Address{},
		"isEnded":       false,
	}
}

func commentAddedValues(message string, endTime, pool int64) map[string]interface{} {
	return map[string]interface{}{
		"gameAddress": gameAddr,
		"commentor":   aliceAddr,
		"message":     message,
		"newEndTime":  big.NewInt(endTime),
		"prizePool":   big.NewInt(pool),
		"timestamp":   big.NewInt(endTime - 600),
	}
}

func hashOf(n int64) ethcommon.Hash {
	return ethcommon.BigToHash(big.NewInt(n))
}

func rangeQuery(from, to int64) ethereum.FilterQuery {
	return ethereum.FilterQuery{FromBlock: big.NewInt(from), ToBlock: big.NewInt(to)}
}
