package evm

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	merrors "github.com/commentgame/comment-mirror/indexer/errors"
)

func TestClient_Failover(t *testing.T) {
	primary := &mockChainReader{}
	backup := &mockChainReader{}
	c := newClient(zerolog.Nop(), primary, backup)

	primary.On("BlockNumber", mock.Anything).Return(uint64(0), errors.New("connection refused")).Once()
	backup.On("BlockNumber", mock.Anything).Return(uint64(42), nil).Twice()

	height, err := c.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), height)

	// The endpoint that answered is tried first next time.
	height, err = c.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), height)

	primary.AssertNumberOfCalls(t, "BlockNumber", 1)
	backup.AssertNumberOfCalls(t, "BlockNumber", 2)
}

func TestClient_AllEndpointsFail(t *testing.T) {
	primary := &mockChainReader{}
	backup := &mockChainReader{}
	c := newClient(zerolog.Nop(), primary, backup)

	primary.On("FilterLogs", mock.Anything, mock.Anything).Return(nil, errors.New("502 bad gateway"))
	backup.On("FilterLogs", mock.Anything, mock.Anything).Return(nil, errors.New("503 unavailable"))

	_, err := c.FilterLogs(context.Background(), rangeQuery(1, 2))
	require.Error(t, err)
	assert.True(t, merrors.HasCode(err, merrors.ErrCodeRPC))
	assert.Contains(t, err.Error(), "503 unavailable")
}

func TestClient_NoEndpoints(t *testing.T) {
	c := newClient(zerolog.Nop())
	_, err := c.BlockNumber(context.Background())
	require.Error(t, err)
	assert.True(t, merrors.HasCode(err, merrors.ErrCodeRPC))
}

func TestClient_FilterLogs(t *testing.T) {
	reader := &mockChainReader{}
	c := newClient(zerolog.Nop(), reader)

	want := []types.Log{{BlockNumber: 7, TxHash: hashOf(7)}}
	reader.On("FilterLogs", mock.Anything, rangeStarting(1)).Return(want, nil)

	logs, err := c.FilterLogs(context.Background(), rangeQuery(1, 10))
	require.NoError(t, err)
	assert.Equal(t, want, logs)
}

func TestClient_RateLimit(t *testing.T) {
	reader := &mockChainReader{}
	c := newClient(zerolog.Nop(), reader)
	c.limiter = newLimiter(20)
	reader.On("BlockNumber", mock.Anything).Return(uint64(1), nil)

	// 20 rps with a burst of 20: the next 10 calls must wait ~0.5s in total.
	for i := 0; i < 20; i++ {
		_, err := c.BlockNumber(context.Background())
		require.NoError(t, err)
	}
	start := time.Now()
	for i := 0; i < 10; i++ {
		_, err := c.BlockNumber(context.Background())
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 400*time.Millisecond)
}

func TestClient_RateLimitHonoursContext(t *testing.T) {
	reader := &mockChainReader{}
	c := newClient(zerolog.Nop(), reader)
	c.limiter = newLimiter(0.1)
	reader.On("BlockNumber", mock.Anything).Return(uint64(1), nil).Once()

	_, err := c.BlockNumber(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.BlockNumber(ctx)
	require.Error(t, err)
	assert.True(t, merrors.HasCode(err, merrors.ErrCodeTimeout))
	reader.AssertNumberOfCalls(t, "BlockNumber", 1)
}

func TestNewLimiter(t *testing.T) {
	assert.Nil(t, newLimiter(0))
	assert.Nil(t, newLimiter(-1))

	l := newLimiter(0.5)
	require.NotNil(t, l)
	assert.Equal(t, 1, l.Burst())
	assert.Equal(t, 5, newLimiter(5).Burst())
}
