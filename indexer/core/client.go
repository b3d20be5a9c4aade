// Package core wires the mirror node: store, reconciler, sweeper, query
// server and, when configured, the chain log listener.
package core

import (
	"context"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/commentgame/comment-mirror/indexer/api"
	"github.com/commentgame/comment-mirror/indexer/chains/evm"
	"github.com/commentgame/comment-mirror/indexer/config"
	"github.com/commentgame/comment-mirror/indexer/db"
	"github.com/commentgame/comment-mirror/indexer/ledger"
	"github.com/commentgame/comment-mirror/indexer/mirror"
	"github.com/commentgame/comment-mirror/indexer/reconciler"
	"github.com/commentgame/comment-mirror/indexer/sweeper"
)

// MirrorNode owns every long-running task of the daemon.
type MirrorNode struct {
	cfg    config.Config
	log    zerolog.Logger
	db     *db.DB
	engine *reconciler.Engine
	sweep  *sweeper.Sweeper
	server *api.Server
}

// NewMirrorNode builds the node on top of an open database.
func NewMirrorNode(cfg config.Config, log zerolog.Logger, database *db.DB) (*MirrorNode, error) {
	if database == nil {
		return nil, errors.New("database is nil")
	}
	client := database.Client()

	ledgerStore := ledger.NewStore(client, log)
	engine := reconciler.NewEngine(client, ledgerStore, reconciler.Config{
		ApplyTimeout: cfg.ApplyTimeout(),
		MaxRetries:   cfg.SweeperMaxRetries,
	}, log)

	sw := sweeper.NewSweeper(sweeper.Config{
		Ledger:        ledgerStore,
		Applier:       engine,
		CheckInterval: cfg.SweeperInterval(),
		MaxRetries:    cfg.SweeperMaxRetries,
		MinAge:        cfg.SweeperMinAge(),
		BatchSize:     cfg.SweeperBatchSize,
		Logger:        log,
	})

	server := api.NewServer(log, cfg.QueryServerPort, mirror.NewStore(client, log), ledgerStore)

	return &MirrorNode{
		cfg:    cfg,
		log:    log,
		db:     database,
		engine: engine,
		sweep:  sw,
		server: server,
	}, nil
}

// Start runs all tasks until ctx is cancelled or one of them fails, then
// closes the database.
func (n *MirrorNode) Start(ctx context.Context) error {
	n.log.Info().Msg("🚀 Starting mirror node...")

	var listener *evm.Listener
	if n.cfg.ChainSourceEnabled() {
		l, closeChain, err := n.newListener(ctx)
		if err != nil {
			return n.shutdown(errors.Wrap(err, "failed to start chain log listener"))
		}
		defer closeChain()
		listener = l
	} else {
		n.log.Warn().Msg("no rpc_urls or contract_addresses configured, chain log listener disabled")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return n.server.Run(gctx) })
	g.Go(func() error { return n.sweep.Run(gctx) })
	if listener != nil {
		g.Go(func() error { return listener.Run(gctx) })
	}

	n.log.Info().Msg("✅ Initialization complete. Entering main loop...")
	err := g.Wait()

	n.log.Info().Msg("🛑 Shutting down mirror node...")
	return n.shutdown(err)
}

func (n *MirrorNode) newListener(ctx context.Context) (*evm.Listener, func(), error) {
	client, err := evm.Dial(ctx, n.cfg.RPCURLs, n.cfg.RPCRequestsPerSecond, n.log)
	if err != nil {
		return nil, nil, err
	}

	contracts := make([]ethcommon.Address, 0, len(n.cfg.ContractAddresses))
	for _, addr := range n.cfg.ContractAddresses {
		contracts = append(contracts, ethcommon.HexToAddress(addr))
	}

	listener, err := evm.NewListener(client, n.engine, evm.NewCursorStore(n.db.Client()), evm.ListenerConfig{
		Contracts:     contracts,
		StartFrom:     n.cfg.EventStartFrom,
		PollInterval:  n.cfg.EventPollingInterval(),
		Confirmations: n.cfg.BlockConfirmations,
		MaxBlockRange: n.cfg.MaxBlockRange,
	}, n.log)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return listener, client.Close, nil
}

func (n *MirrorNode) shutdown(runErr error) error {
	if err := n.db.Close(); err != nil {
		n.log.Error().Err(err).Msg("failed to close database")
		if runErr == nil {
			runErr = err
		}
	}
	return runErr
}
