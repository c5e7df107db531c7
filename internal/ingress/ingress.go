// Package ingress implements Stream Ingress (spec §4.1): it consumes an
// unbounded stream of confirmed master-wallet transactions, deduplicates
// by signature, and applies backpressure and reconnect-with-backoff.
package ingress

import (
	"context"
	"math/rand"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/copytrade/engine/internal/chainparams"
	"github.com/copytrade/engine/internal/metrics"
	"github.com/copytrade/engine/internal/ports"
	"github.com/copytrade/engine/internal/solwire"
	"github.com/copytrade/engine/pkg/logging"
)

// Config configures Stream Ingress.
type Config struct {
	DedupCapacity       int
	FreshnessHorizon    time.Duration
	ReconnectMinBackoff time.Duration
	ReconnectMaxBackoff time.Duration
	ReconnectJitter     float64 // fraction, e.g. 0.25 for +/-25%
}

// DefaultConfig returns the §4.1 documented defaults.
func DefaultConfig() Config {
	return Config{
		DedupCapacity:       chainparams.DefaultIngressDedupCapacity,
		FreshnessHorizon:    chainparams.DefaultFreshnessHorizonSeconds * time.Second,
		ReconnectMinBackoff: 250 * time.Millisecond,
		ReconnectMaxBackoff: 8 * time.Second,
		ReconnectJitter:     0.25,
	}
}

// membershipOp is a queued Subscribe/Unsubscribe mutation, applied
// atomically on reconnect per §4.1 ("re-register every currently-watched
// master atomically before resuming delivery").
type membershipOp struct {
	add    bool
	master solwire.Pubkey
}

// Ingress watches the union of every subscribed master wallet and
// delivers deduplicated, fresh RawTransactions downstream.
type Ingress struct {
	cfg    Config
	source ports.StreamSource
	log    *logging.Logger

	mu       sync.Mutex
	watched  map[solwire.Pubkey]struct{}
	degraded bool

	seen *lru.Cache[solwire.Signature, struct{}]

	out     chan *solwire.RawTransaction
	pending chan membershipOp

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs an Ingress bound to the given Stream Source.
func New(source ports.StreamSource, cfg Config) (*Ingress, error) {
	if cfg.DedupCapacity <= 0 {
		cfg.DedupCapacity = chainparams.DefaultIngressDedupCapacity
	}
	defaults := DefaultConfig()
	if cfg.ReconnectMinBackoff <= 0 {
		cfg.ReconnectMinBackoff = defaults.ReconnectMinBackoff
	}
	if cfg.ReconnectMaxBackoff <= 0 {
		cfg.ReconnectMaxBackoff = defaults.ReconnectMaxBackoff
	}
	if cfg.ReconnectJitter == 0 {
		cfg.ReconnectJitter = defaults.ReconnectJitter
	}
	seen, err := lru.New[solwire.Signature, struct{}](cfg.DedupCapacity)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Ingress{
		cfg:     cfg,
		source:  source,
		log:     logging.GetDefault().Component("ingress"),
		watched: make(map[solwire.Pubkey]struct{}),
		seen:    seen,
		out:     make(chan *solwire.RawTransaction, 1024),
		pending: make(chan membershipOp, 256),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Out returns the channel downstream consumers (the Transaction Analyzer)
// read from.
func (ing *Ingress) Out() <-chan *solwire.RawTransaction {
	return ing.out
}

// Subscribe adds masters to the watched set. Membership changes take
// effect within one ingress cycle (<=1s) per §4.1, or are queued if a
// reconnect is in progress.
func (ing *Ingress) Subscribe(masters ...solwire.Pubkey) {
	ing.mu.Lock()
	degraded := ing.degraded
	for _, m := range masters {
		ing.watched[m] = struct{}{}
	}
	ing.mu.Unlock()

	if degraded {
		return // applied in bulk on reconnect via ing.watched
	}
	for _, m := range masters {
		select {
		case ing.pending <- membershipOp{add: true, master: m}:
		case <-ing.ctx.Done():
			return
		}
	}
}

// Unsubscribe removes a master from the watched set.
func (ing *Ingress) Unsubscribe(master solwire.Pubkey) {
	ing.mu.Lock()
	delete(ing.watched, master)
	degraded := ing.degraded
	ing.mu.Unlock()

	if degraded {
		return
	}
	select {
	case ing.pending <- membershipOp{add: false, master: master}:
	case <-ing.ctx.Done():
	}
}

// Run starts the ingress loop: connect, apply queued membership, forward
// deduplicated fresh transactions, and reconnect with backoff on error.
// It blocks until the context is cancelled or Close is called.
func (ing *Ingress) Run(ctx context.Context) error {
	backoff := ing.cfg.ReconnectMinBackoff
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ing.ctx.Done():
			return nil
		default:
		}

		err := ing.runOnce(ctx)
		if err == nil {
			return nil // clean shutdown
		}

		ing.mu.Lock()
		ing.degraded = true
		ing.mu.Unlock()
		metrics.StreamDegraded.Inc()
		ing.log.Warn("stream degraded, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-time.After(jitter(backoff, ing.cfg.ReconnectJitter)):
		case <-ctx.Done():
			return ctx.Err()
		}

		backoff *= 2
		if backoff > ing.cfg.ReconnectMaxBackoff {
			backoff = ing.cfg.ReconnectMaxBackoff
		}
	}
}

func (ing *Ingress) runOnce(ctx context.Context) error {
	ing.mu.Lock()
	masters := make([]solwire.Pubkey, 0, len(ing.watched))
	for m := range ing.watched {
		masters = append(masters, m)
	}
	ing.mu.Unlock()

	sub, err := ing.source.Subscribe(ctx, masters)
	if err != nil {
		return err
	}

	ing.mu.Lock()
	ing.degraded = false
	ing.mu.Unlock()
	backoff := ing.cfg.ReconnectMinBackoff
	_ = backoff

	for {
		select {
		case tx, ok := <-sub:
			if !ok {
				return errStreamClosed
			}
			ing.handle(tx)
		case op := <-ing.pending:
			ing.applyMembership(ctx, op)
		case <-ctx.Done():
			return nil
		}
	}
}

func (ing *Ingress) applyMembership(ctx context.Context, op membershipOp) {
	if op.add {
		ing.mu.Lock()
		ing.watched[op.master] = struct{}{}
		ing.mu.Unlock()
		if _, err := ing.source.Subscribe(ctx, []solwire.Pubkey{op.master}); err != nil {
			ing.log.Warn("subscribe for added master failed", "master", op.master.String(), "error", err)
		}
	} else {
		ing.mu.Lock()
		delete(ing.watched, op.master)
		ing.mu.Unlock()
		_ = ing.source.Unsubscribe(ctx, op.master)
	}
}

func (ing *Ingress) handle(tx *solwire.RawTransaction) {
	sig := tx.MasterSignature()

	if ing.seen.Contains(sig) {
		metrics.DedupDropped.Inc()
		return
	}
	ing.seen.Add(sig, struct{}{})

	if ing.cfg.FreshnessHorizon > 0 && tx.BlockTime > 0 {
		age := time.Since(time.Unix(tx.BlockTime, 0))
		if age > ing.cfg.FreshnessHorizon {
			metrics.StaleDropped.Inc()
			return
		}
	}

	select {
	case ing.out <- tx:
	default:
		// Backpressure: the channel is full, drop rather than block the
		// ingress loop indefinitely. The source remains at-least-once so a
		// resend may eventually arrive; this is logged for visibility.
		ing.log.Warn("ingress output backpressured, dropping transaction", "signature", sig.String())
	}
}

// Close stops the ingress loop and releases the underlying source.
func (ing *Ingress) Close() error {
	ing.cancel()
	ing.wg.Wait()
	return ing.source.Close()
}

func jitter(d time.Duration, frac float64) time.Duration {
	if frac <= 0 {
		return d
	}
	delta := float64(d) * frac
	offset := (rand.Float64()*2 - 1) * delta
	return d + time.Duration(offset)
}

var errStreamClosed = errStringer("ingress: stream source closed its channel")

type errStringer string

func (e errStringer) Error() string { return string(e) }
