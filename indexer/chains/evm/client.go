package evm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	merrors "github.com/commentgame/comment-mirror/indexer/errors"
	"github.com/commentgame/comment-mirror/indexer/metrics"
)

// ChainReader is the subset of ethclient.Client the listener needs.
type ChainReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

type endpoint struct {
	url    string
	reader ChainReader
	closer func()
}

// Client fans RPC calls out over several endpoints, moving to the next one
// when a call fails. Calls are throttled by a shared token bucket when a rate
// limit is configured.
type Client struct {
	mu        sync.Mutex
	endpoints []endpoint
	current   int
	limiter   *rate.Limiter
	logger    zerolog.Logger
}

// Dial connects to every URL that answers eth_chainId. All endpoints must
// report the same chain. requestsPerSecond <= 0 disables throttling.
func Dial(ctx context.Context, urls []string, requestsPerSecond float64, logger zerolog.Logger) (*Client, error) {
	logger = logger.With().Str("component", "evm_client").Logger()

	var (
		endpoints []endpoint
		chainID   int64 = -1
	)
	for _, url := range urls {
		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		ethClient, err := ethclient.DialContext(dialCtx, url)
		if err != nil {
			cancel()
			logger.Warn().Err(err).Str("rpc_url", url).Msg("failed to connect to EVM RPC")
			continue
		}

		id, err := ethClient.ChainID(dialCtx)
		cancel()
		if err != nil {
			ethClient.Close()
			logger.Warn().Err(err).Str("rpc_url", url).Msg("failed to get chain ID")
			continue
		}
		if chainID >= 0 && id.Int64() != chainID {
			ethClient.Close()
			return nil, merrors.NewConfigError(fmt.Sprintf("chain ID mismatch: %s reports %d, expected %d", url, id.Int64(), chainID))
		}
		chainID = id.Int64()

		endpoints = append(endpoints, endpoint{url: url, reader: ethClient, closer: ethClient.Close})
		logger.Info().Str("rpc_url", url).Int64("chain_id", chainID).Msg("connected to EVM RPC")
	}

	if len(endpoints) == 0 {
		return nil, merrors.NewNetworkError("no reachable RPC endpoint", nil)
	}
	return &Client{endpoints: endpoints, limiter: newLimiter(requestsPerSecond), logger: logger}, nil
}

func newLimiter(requestsPerSecond float64) *rate.Limiter {
	if requestsPerSecond <= 0 {
		return nil
	}
	burst := int(requestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
}

func newClient(logger zerolog.Logger, readers ...ChainReader) *Client {
	c := &Client{logger: logger}
	for i, r := range readers {
		c.endpoints = append(c.endpoints, endpoint{url: fmt.Sprintf("endpoint-%d", i), reader: r})
	}
	return c
}

// BlockNumber returns the latest block height.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var height uint64
	err := c.executeWithFailover(ctx, "eth_blockNumber", func(r ChainReader) error {
		var innerErr error
		height, innerErr = r.BlockNumber(ctx)
		return innerErr
	})
	return height, err
}

// FilterLogs runs eth_getLogs.
func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	var logs []types.Log
	err := c.executeWithFailover(ctx, "eth_getLogs", func(r ChainReader) error {
		var innerErr error
		logs, innerErr = r.FilterLogs(ctx, q)
		return innerErr
	})
	return logs, err
}

// Close closes all endpoint connections.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ep := range c.endpoints {
		if ep.closer != nil {
			ep.closer()
		}
	}
}

// executeWithFailover tries each endpoint once, starting with the last one
// that worked. The returned error is an RPC error so callers can retry it.
func (c *Client) executeWithFailover(ctx context.Context, operation string, fn func(ChainReader) error) error {
	c.mu.Lock()
	start := c.current
	n := len(c.endpoints)
	c.mu.Unlock()

	if n == 0 {
		return merrors.NewRPCError(fmt.Sprintf("no endpoint available for %s", operation), nil)
	}

	var lastErr error
	for attempt := 0; attempt < n; attempt++ {
		idx := (start + attempt) % n
		ep := c.endpoints[idx]

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return merrors.NewTimeoutError("", operation+" cancelled while throttled", err)
			}
		}

		began := time.Now()
		err := fn(ep.reader)
		metrics.RPCCalls.WithLabelValues(operation, rpcOutcome(err)).Inc()
		if err == nil {
			c.mu.Lock()
			c.current = idx
			c.mu.Unlock()
			return nil
		}
		if ctx.Err() != nil {
			return merrors.NewTimeoutError("", operation+" cancelled", ctx.Err())
		}

		lastErr = err
		c.logger.Warn().
			Str("operation", operation).
			Str("url", ep.url).
			Dur("latency", time.Since(began)).
			Int("attempt", attempt+1).
			Err(err).
			Msg("operation failed, trying next endpoint")
	}
	return merrors.NewRPCError(fmt.Sprintf("%s failed on all %d endpoints", operation, n), lastErr)
}

func rpcOutcome(err error) string {
	if err == nil {
		return "ok"
	}
	return "error"
}
