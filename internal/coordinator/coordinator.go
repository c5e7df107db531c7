// Package coordinator implements the Coordinator (spec §4.6): it joins
// the Analyzer's SwapIntent stream to the Config Store's active-follower
// set, builds one TradePlan per (intent, follower), enforces idempotency
// and per-follower bounded concurrency, and drives each plan through the
// Protocol Builder and Executor to a terminal TradeOutcome.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/copytrade/engine/internal/builders"
	"github.com/copytrade/engine/internal/chainparams"
	"github.com/copytrade/engine/internal/domain"
	"github.com/copytrade/engine/internal/executor"
	"github.com/copytrade/engine/internal/metrics"
	"github.com/copytrade/engine/internal/model"
	"github.com/copytrade/engine/internal/poolcache"
	"github.com/copytrade/engine/internal/ports"
	"github.com/copytrade/engine/internal/solwire"
	"github.com/copytrade/engine/pkg/logging"
)

// PubkeyResolver resolves a follower's wallet address from its key
// handle without exposing private key material -- the same boundary the
// Signing Oracle enforces for Sign (spec §6). signer.DevFixture and a
// production Signing Oracle client both satisfy this narrowly.
type PubkeyResolver interface {
	Pubkey(keyHandle string) (solwire.Pubkey, error)
}

// SellFractionResolver returns the basis-point fraction of a follower's
// current holding to sell for a given follower. The spec's Config Store
// schema (§6) carries no dedicated sell-fraction field, so this is kept
// as a narrow seam the Config Store implementation can back however it
// likes (a column, a default constant, a per-follower override).
type SellFractionResolver interface {
	SellFractionBps(followerID string) uint32
}

// Config configures one Coordinator.
type Config struct {
	FollowerConcurrency int // K, default chainparams.DefaultFollowerConcurrency
	FollowerQueueDepth  int
	PlanDeadline        time.Duration
	IdempotencyCapacity int
}

// DefaultConfig returns the spec-documented defaults.
func DefaultConfig() Config {
	return Config{
		FollowerConcurrency: chainparams.DefaultFollowerConcurrency,
		FollowerQueueDepth:  chainparams.DefaultFollowerQueueDepth,
		PlanDeadline:        chainparams.DefaultPlanDeadlineSeconds * time.Second,
		IdempotencyCapacity: chainparams.DefaultIdempotencyCacheCapacity,
	}
}

// Coordinator dispatches SwapIntents to per-follower plan queues.
type Coordinator struct {
	cfg     Config
	store   ports.ConfigStore
	exec    *executor.Executor
	wallets PubkeyResolver
	sellFr  SellFractionResolver
	cache   *poolcache.Cache
	rpc     ports.ChainRPC
	log     *logging.Logger

	snapshot atomic.Pointer[ports.ConfigSnapshot]
	seen     *lru.Cache[string, struct{}]

	queuesMu sync.Mutex
	queues   map[string]*followerQueue

	paused   atomic.Bool
	inFlight sync.WaitGroup
}

// New constructs a Coordinator. cache and rpc are passed straight through
// to builders.Build so protocol builders can quote live pool state (spec
// §4.3's ConstantProductAmm family); nil is valid when no native
// constant-product protocol builder will ever run (e.g. in tests that
// only exercise the router/aggregator path). Call Start before
// dispatching any intents.
func New(cfg Config, store ports.ConfigStore, exec *executor.Executor, wallets PubkeyResolver, sellFr SellFractionResolver, cache *poolcache.Cache, rpc ports.ChainRPC) (*Coordinator, error) {
	seen, err := lru.New[string, struct{}](cfg.IdempotencyCapacity)
	if err != nil {
		return nil, fmt.Errorf("coordinator: idempotency cache: %w", err)
	}
	return &Coordinator{
		cfg:     cfg,
		store:   store,
		exec:    exec,
		wallets: wallets,
		sellFr:  sellFr,
		cache:   cache,
		rpc:     rpc,
		log:     logging.GetDefault().Component("coordinator"),
		seen:    seen,
		queues:  make(map[string]*followerQueue),
	}, nil
}

// Start loads the initial Config Store snapshot and begins watching for
// changes, refreshing the snapshot on each event (spec §6: "The
// Coordinator refreshes its snapshot on each event").
func (c *Coordinator) Start(ctx context.Context) error {
	snap, err := c.store.ListActiveFollowers(ctx)
	if err != nil {
		return fmt.Errorf("coordinator: initial snapshot: %w", err)
	}
	c.snapshot.Store(snap)

	changes, err := c.store.OnChange(ctx)
	if err != nil {
		return fmt.Errorf("coordinator: subscribe to config changes: %w", err)
	}
	go c.watchChanges(ctx, changes)
	return nil
}

func (c *Coordinator) watchChanges(ctx context.Context, changes <-chan ports.ChangeEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-changes:
			if !ok {
				return
			}
			snap, err := c.store.ListActiveFollowers(ctx)
			if err != nil {
				c.log.Warn("failed to refresh config snapshot", "event", ev.Type, "follower_id", ev.FollowerID, "error", err)
				continue
			}
			c.snapshot.Store(snap)
		}
	}
}

// Dispatch fans a SwapIntent out to every active follower subscribed to
// its master wallet (spec §4.6: "no ordering guarantees across
// followers"). It returns once every matching follower's plan has been
// either enqueued or dropped -- not once the plans have finished running.
func (c *Coordinator) Dispatch(ctx context.Context, intent *model.SwapIntent) {
	if c.paused.Load() {
		return
	}
	snap := c.snapshot.Load()
	if snap == nil {
		return
	}
	matches := snap.FollowersByMaster(intent.MasterWallet)
	if len(matches) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, follower := range matches {
		follower := follower
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.dispatchOne(ctx, intent, follower)
		}()
	}
	wg.Wait()
}

func (c *Coordinator) dispatchOne(ctx context.Context, intent *model.SwapIntent, follower ports.FollowerSnapshotEntry) {
	plan := &model.TradePlan{
		PlanID:      uuid.NewString(),
		FollowerID:  follower.FollowerID,
		KeyHandle:   follower.KeyHandle,
		IntentRef:   intent,
		SlippageBps: follower.SlippageBps,
		MaxPerTrade: follower.MaxPerTradeRaw,
		Deadline:    intent.ObservedAt.Add(c.cfg.PlanDeadline),
	}
	if intent.Direction == domain.Buy {
		plan.ScaledInputAmount = executor.ScaleBuyAmount(follower.InputSizeRaw, follower.MaxPerTradeRaw)
	} else if c.sellFr != nil {
		plan.SellFractionBps = c.sellFr.SellFractionBps(follower.FollowerID)
	}

	key := plan.IdempotencyKey()
	if _, dup := c.seen.Get(key); dup {
		metrics.CoordinatorDuplicatesDropped.Inc()
		return
	}
	c.seen.Add(key, struct{}{})

	q := c.queueFor(ctx, follower.FollowerID)
	q.enqueue(plan)
}

// queueFor returns the follower's queue, starting its K workers lazily on
// first use.
func (c *Coordinator) queueFor(ctx context.Context, followerID string) *followerQueue {
	c.queuesMu.Lock()
	defer c.queuesMu.Unlock()

	if q, ok := c.queues[followerID]; ok {
		return q
	}
	q := newFollowerQueue(c.cfg.FollowerQueueDepth)
	c.queues[followerID] = q
	for i := 0; i < c.cfg.FollowerConcurrency; i++ {
		go q.worker(ctx, c.runPlan)
	}
	return q
}

// runPlan scales the sell-side amount (if needed), builds the follower's
// instructions, and runs them through the Executor to a terminal
// TradeOutcome.
func (c *Coordinator) runPlan(ctx context.Context, plan *model.TradePlan) {
	c.inFlight.Add(1)
	defer c.inFlight.Done()

	if !plan.IsLive(time.Now()) {
		c.exec.EmitExpired(ctx, plan)
		return
	}
	intent := plan.IntentRef

	followerWallet, err := c.wallets.Pubkey(plan.KeyHandle)
	if err != nil {
		c.log.Warn("failed to resolve follower wallet", "plan_id", plan.PlanID, "error", err)
		return
	}

	if intent.Direction == domain.Sell {
		amount, ok, err := c.exec.ScaleSellAmount(ctx, followerWallet, intent.OutputMint, plan.SellFractionBps)
		if err != nil {
			c.log.Warn("sell amount scaling failed", "plan_id", plan.PlanID, "error", err)
			return
		}
		if !ok {
			c.exec.EmitNoPosition(ctx, plan)
			return
		}
		plan.ScaledInputAmount = amount
	}

	if err := plan.Validate(); err != nil {
		c.log.Warn("plan failed validation", "plan_id", plan.PlanID, "error", err)
		return
	}

	follower := builders.FollowerParams{
		Wallet:            followerWallet,
		ScaledInputAmount: plan.ScaledInputAmount,
		SlippageBps:       plan.SlippageBps,
	}
	instrs, err := builders.Build(ctx, intent, follower, c.cache, c.rpc)
	if err != nil && errors.Is(err, builders.ErrPoolStateUnavailable) {
		// spec §7: "PoolStateUnavailable -> retry once then
		// Skipped/PoolUnavailable" -- a cache miss racing a TTL sweep is
		// common enough to deserve one immediate retry before giving up.
		instrs, err = builders.Build(ctx, intent, follower, c.cache, c.rpc)
	}
	if err != nil {
		if errors.Is(err, builders.ErrPoolStateUnavailable) {
			c.exec.EmitPoolUnavailable(ctx, plan)
		} else {
			c.exec.EmitUnclonable(ctx, plan)
		}
		return
	}

	c.exec.Run(ctx, plan, instrs, c.priorityTier(), followerWallet)
}

// ApplySnapshot installs snap as the current active-follower snapshot
// immediately, bypassing the Config Store's change-notification channel
// (used by the control server's reload-config command).
func (c *Coordinator) ApplySnapshot(snap *ports.ConfigSnapshot) {
	c.snapshot.Store(snap)
}

// Pause stops Dispatch from enqueueing new plans; plans already queued
// or running are unaffected.
func (c *Coordinator) Pause() {
	c.paused.Store(true)
}

// Resume undoes a prior Pause.
func (c *Coordinator) Resume() {
	c.paused.Store(false)
}

// Paused reports the current pause state.
func (c *Coordinator) Paused() bool {
	return c.paused.Load()
}

// Drain blocks until every plan currently running to completion finishes,
// or ctx is cancelled. Callers should Pause first so new plans stop
// arriving while draining.
func (c *Coordinator) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.inFlight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// priorityTier is a placeholder congestion-driven selection; a real
// deployment wires this to the 30s-refreshed signal described in
// spec §4.5 step 2. Defaulting to normal keeps behavior deterministic
// until that signal is wired in by core startup.
func (c *Coordinator) priorityTier() executor.PriorityTier {
	return executor.PriorityNormal
}
