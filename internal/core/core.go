// Package core wires the copy-trading pipeline's concrete collaborators
// into one Core value, passed by borrow to whatever drives it (the
// daemon's main loop, or a test harness). This follows the Design Notes'
// "pass a single Core value holding {config_snapshot, cache, rpc, signer,
// sink} by borrow rather than relying on module-loaded singletons" -- the
// same shape the teacher's cmd/klingond/main.go builds up by hand (node,
// storage, wallet service, coordinator) before wiring callbacks between
// them.
package core

import (
	"context"
	"fmt"

	"github.com/copytrade/engine/internal/aggregator"
	"github.com/copytrade/engine/internal/analyzer"
	"github.com/copytrade/engine/internal/builders"
	"github.com/copytrade/engine/internal/configstore"
	"github.com/copytrade/engine/internal/coordinator"
	"github.com/copytrade/engine/internal/coreconfig"
	"github.com/copytrade/engine/internal/executor"
	"github.com/copytrade/engine/internal/fanout"
	"github.com/copytrade/engine/internal/ingress"
	"github.com/copytrade/engine/internal/model"
	"github.com/copytrade/engine/internal/poolcache"
	"github.com/copytrade/engine/internal/ports"
	"github.com/copytrade/engine/internal/rpcclient"
	"github.com/copytrade/engine/internal/signer"
	"github.com/copytrade/engine/internal/solwire"
	"github.com/copytrade/engine/internal/storage"
	"github.com/copytrade/engine/internal/streamsource"
	"github.com/copytrade/engine/pkg/logging"
)

// Core holds every long-lived collaborator the daemon needs, constructed
// once at startup from a loaded coreconfig.Config.
type Core struct {
	Config *coreconfig.Config

	RPC     ports.ChainRPC
	Signer  ports.SigningOracle
	Storage *storage.Storage

	ConfigStore *configstore.Store

	Ingress    *ingress.Ingress
	Analyzer   *analyzer.Analyzer
	Executor   *executor.Executor
	Coordinator *coordinator.Coordinator

	Sink ports.EventSink

	log *logging.Logger
}

// New constructs every collaborator named by cfg but does not start any
// background loop (Run does that) -- the same New-then-Start split the
// teacher's node.New / node.Start and storage.New follow.
func New(ctx context.Context, cfg *coreconfig.Config) (*Core, error) {
	log := logging.GetDefault().Component("core")

	store, err := storage.New(storage.Config{DataDir: cfg.Storage.DataDir})
	if err != nil {
		return nil, fmt.Errorf("core: init storage: %w", err)
	}

	cs, err := configstore.New(configstore.Config{
		DataDir:  cfg.Storage.DataDir,
		FileName: cfg.Storage.ConfigStoreDSN,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("core: init config store: %w", err)
	}

	rpcClient := rpcclient.New(cfg.RPC.HTTPEndpoint, cfg.RPC.RequestTimeout)
	resolver := rpcclient.NewTableResolver(rpcClient)

	var signingOracle ports.SigningOracle
	if cfg.RPC.SigningOracleURL != "" {
		signingOracle = signer.NewRemoteOracle(cfg.RPC.SigningOracleURL, cfg.RPC.SigningOracleTimeout)
	} else {
		dev, err := signer.NewDevFixture(cfg.RPC.DevMnemonic)
		if err != nil {
			store.Close()
			cs.Close()
			return nil, fmt.Errorf("core: init dev signing fixture: %w", err)
		}
		signingOracle = dev
	}

	builders.ConfigureRouterResolver(resolver)

	poolCache, err := poolcache.New(poolcache.Config{
		TTL:      cfg.PoolCache.TTL,
		Capacity: cfg.PoolCache.Capacity,
	})
	if err != nil {
		store.Close()
		cs.Close()
		return nil, fmt.Errorf("core: init pool cache: %w", err)
	}

	if cfg.Aggregator.BaseURL != "" {
		builders.ConfigureAggregatorClient(aggregator.New(cfg.Aggregator.BaseURL, cfg.Aggregator.Timeout))
	}

	streamSrc := streamsource.New(cfg.RPC.WebsocketEndpoint, rpcClient)
	ing, err := ingress.New(streamSrc, ingress.Config{
		DedupCapacity:    cfg.Ingress.DedupCapacity,
		FreshnessHorizon: cfg.Ingress.FreshnessHorizon,
	})
	if err != nil {
		store.Close()
		cs.Close()
		return nil, fmt.Errorf("core: init ingress: %w", err)
	}
	for _, m := range cfg.Ingress.WatchedMasters {
		pk, err := solwire.PubkeyFromBase58(m)
		if err != nil {
			log.Warn("core: skipping invalid watched master", "value", m, "error", err)
			continue
		}
		ing.Subscribe(pk)
	}

	an := analyzer.New(resolver)

	mevTip, err := cfg.Executor.MEVTipLamports()
	if err != nil {
		store.Close()
		cs.Close()
		return nil, fmt.Errorf("core: parse MEV tip amount: %w", err)
	}

	positionReader := executor.NewChainPositionReader(rpcClient)

	var sink ports.EventSink = &storageSink{store: store}
	if cfg.Fanout.Enabled {
		pub, err := fanout.New(ctx, fanout.Config{
			Topic:          cfg.Fanout.Topic,
			ListenAddrs:    cfg.Fanout.ListenAddrs,
			BootstrapPeers: cfg.Fanout.BootstrapPeers,
		})
		if err != nil {
			log.Warn("core: fanout transport unavailable, continuing without it", "error", err)
		} else {
			sink = &fanout.Tee{Primary: sink, Fanout: pub}
		}
	}

	exec := executor.New(executor.Config{
		SkipSimulation:       cfg.Executor.SkipSimulation,
		MEVProtectionEnabled: cfg.Executor.MEVProtectionEnabled,
		MEVTipLamports:       mevTip,
		ConfirmDeadline:      cfg.Executor.ConfirmDeadline,
		BlockhashMaxAge:      cfg.Executor.BlockhashMaxAge,
		MaxSubmitRetries:     cfg.Executor.MaxSubmitRetries,
	}, rpcClient, signingOracle, sink, positionReader)

	coord, err := coordinator.New(coordinator.Config{
		FollowerConcurrency: cfg.Coordinator.FollowerConcurrency,
		FollowerQueueDepth:  cfg.Coordinator.FollowerQueueDepth,
		PlanDeadline:        cfg.Coordinator.PlanDeadline,
		IdempotencyCapacity: cfg.Coordinator.IdempotencyCapacity,
	}, cs, exec, cs, cs, poolCache, rpcClient)
	if err != nil {
		store.Close()
		cs.Close()
		return nil, fmt.Errorf("core: init coordinator: %w", err)
	}

	return &Core{
		Config:      cfg,
		RPC:         rpcClient,
		Signer:      signingOracle,
		Storage:     store,
		ConfigStore: cs,
		Ingress:     ing,
		Analyzer:    an,
		Executor:    exec,
		Coordinator: coord,
		Sink:        sink,
		log:         log,
	}, nil
}

// Run starts the Coordinator's Config Store watch loop and the ingress
// reconnect loop, then drives Ingress -> Analyzer -> Coordinator until ctx
// is cancelled.
func (c *Core) Run(ctx context.Context) error {
	if err := c.Coordinator.Start(ctx); err != nil {
		return fmt.Errorf("core: start coordinator: %w", err)
	}

	go func() {
		if err := c.Ingress.Run(ctx); err != nil && ctx.Err() == nil {
			c.log.Error("core: ingress loop exited", "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tx, ok := <-c.Ingress.Out():
			if !ok {
				return nil
			}
			intent, err := c.Analyzer.Analyze(tx)
			if err != nil {
				c.log.Warn("core: analyzer error", "error", err)
				continue
			}
			if intent == nil {
				continue
			}
			c.Coordinator.Dispatch(ctx, intent)
		}
	}
}

// Close releases every collaborator holding a resource (database
// connections, the chain-params default cluster's commitment is
// stateless and needs none).
func (c *Core) Close() error {
	var firstErr error
	if err := c.ConfigStore.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := c.Storage.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Pause stops the Coordinator from dispatching new plans. Satisfies
// control.Engine.
func (c *Core) Pause() {
	c.Coordinator.Pause()
}

// Resume undoes a prior Pause. Satisfies control.Engine.
func (c *Core) Resume() {
	c.Coordinator.Resume()
}

// Paused reports the current pause state. Satisfies control.Engine.
func (c *Core) Paused() bool {
	return c.Coordinator.Paused()
}

// Drain waits for every in-flight TradePlan to reach a terminal state.
// Satisfies control.Engine.
func (c *Core) Drain(ctx context.Context) error {
	return c.Coordinator.Drain(ctx)
}

// ReloadConfig re-fetches the Config Store's active-follower snapshot
// immediately, rather than waiting for the next poll tick. Satisfies
// control.Engine.
func (c *Core) ReloadConfig(ctx context.Context) error {
	snap, err := c.ConfigStore.ListActiveFollowers(ctx)
	if err != nil {
		return fmt.Errorf("core: reload config snapshot: %w", err)
	}
	c.Coordinator.ApplySnapshot(snap)
	return nil
}

// CountOutcomesByStatus reports the durable ledger's outcome counts for a
// status. Satisfies control.Engine.
func (c *Core) CountOutcomesByStatus(status model.OutcomeStatus) (int, error) {
	return c.Storage.CountByStatus(status)
}

// storageSink adapts *storage.Storage to ports.EventSink, recording every
// outcome to the durable ledger as the primary sink.
type storageSink struct {
	store *storage.Storage
}

var _ ports.EventSink = (*storageSink)(nil)

func (s *storageSink) Publish(ctx context.Context, outcome *model.TradeOutcome) error {
	return s.store.RecordOutcome(outcome)
}
