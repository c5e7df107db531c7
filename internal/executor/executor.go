// Package executor implements the Executor (spec §4.5): it turns a
// TradePlan plus a built instruction list into a signed, submitted, and
// confirmed (or timed-out) transaction, advancing the plan through its
// state machine and emitting exactly one TradeOutcome.
package executor

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/copytrade/engine/internal/chainparams"
	"github.com/copytrade/engine/internal/metrics"
	"github.com/copytrade/engine/internal/model"
	"github.com/copytrade/engine/internal/ports"
	"github.com/copytrade/engine/internal/solwire"
	"github.com/copytrade/engine/pkg/logging"
)

// PriorityTier is the network-congestion-selected compute-unit-price tier
// (spec §4.5 step 2).
type PriorityTier string

const (
	PriorityLow    PriorityTier = "low"
	PriorityNormal PriorityTier = "normal"
	PriorityHigh   PriorityTier = "high"
	PriorityUltra  PriorityTier = "ultra"
)

// PriorityFeeMicroLamports maps each tier to a compute-unit-price in
// micro-lamports per compute unit. Congestion selection (the "signal
// updated every 30s") lives in the caller; the Executor just looks up the
// tier it's told.
var PriorityFeeMicroLamports = map[PriorityTier]uint64{
	PriorityLow:    1_000,
	PriorityNormal: 10_000,
	PriorityHigh:   50_000,
	PriorityUltra:  200_000,
}

const computeUnitFloor = 50_000

// Config configures one Executor.
type Config struct {
	SkipSimulation       bool // default false: simulation runs by default (spec §4.5)
	MEVProtectionEnabled bool
	MEVTipLamports       uint64
	ConfirmDeadline      time.Duration
	BlockhashMaxAge       time.Duration
	MaxSubmitRetries     int
}

// DefaultConfig returns the spec-documented defaults.
func DefaultConfig() Config {
	return Config{
		SkipSimulation:   false,
		ConfirmDeadline:  chainparams.DefaultConfirmDeadlineSeconds * time.Second,
		BlockhashMaxAge:  chainparams.DefaultBlockhashMaxAgeSeconds * time.Second,
		MaxSubmitRetries: 2,
	}
}

// PositionReader reads a follower's current on-chain holding of a mint,
// for sell-side amount scaling (spec §4.5 "a configurable fraction of the
// follower's current holding ... read from chain at plan time").
type PositionReader interface {
	HoldingOf(ctx context.Context, wallet, mint solwire.Pubkey) (uint64, bool, error)
}

// Executor runs TradePlans to a terminal TradeOutcome.
type Executor struct {
	cfg      Config
	rpc      ports.ChainRPC
	signer   ports.SigningOracle
	sink     ports.EventSink
	position PositionReader
	log      *logging.Logger

	// lastBlockhash caches the most recent fetch so concurrent followers
	// executing plans off the same master's intent within the reuse
	// window (§4.5 step 4) don't each round-trip to Chain RPC.
	blockhashMu     sync.Mutex
	lastBlockhash   [32]byte
	lastBlockhashAt time.Time
}

// New constructs an Executor.
func New(cfg Config, rpc ports.ChainRPC, signer ports.SigningOracle, sink ports.EventSink, position PositionReader) *Executor {
	return &Executor{
		cfg:      cfg,
		rpc:      rpc,
		signer:   signer,
		sink:     sink,
		position: position,
		log:      logging.GetDefault().Component("executor"),
	}
}

// ScaleBuyAmount implements the buy-side formula of §4.5.
func ScaleBuyAmount(inputSize, maxPerTrade uint64) uint64 {
	if maxPerTrade > 0 && maxPerTrade < inputSize {
		return maxPerTrade
	}
	return inputSize
}

// ScaleSellAmount reads the follower's current holding of outputMint and
// returns sellFractionBps/10000 of it. ok is false when the holding is
// unknown, signaling Skipped/NoPosition to the caller.
func (e *Executor) ScaleSellAmount(ctx context.Context, wallet, outputMint solwire.Pubkey, sellFractionBps uint32) (amount uint64, ok bool, err error) {
	holding, known, err := e.position.HoldingOf(ctx, wallet, outputMint)
	if err != nil {
		return 0, false, err
	}
	if !known {
		return 0, false, nil
	}
	return holding * uint64(sellFractionBps) / domainBpsDenominator, true, nil
}

const domainBpsDenominator = 10_000

// emitSkip publishes a Skipped outcome for a plan that never reaches the
// builder/submit pipeline at all, bypassing the state machine (it never
// left Queued).
func (e *Executor) emitSkip(ctx context.Context, plan *model.TradePlan, reason model.SkipReason) *model.TradeOutcome {
	outcome := &model.TradeOutcome{
		PlanID:     plan.PlanID,
		Status:     model.Skipped,
		SkipReason: reason,
		EmittedAt:  time.Now(),
	}
	metrics.OutcomesByStatus.WithLabelValues(string(model.Skipped)).Inc()
	if e.sink != nil {
		if err := e.sink.Publish(ctx, outcome); err != nil {
			e.log.Warn("event sink publish failed", "plan_id", plan.PlanID, "error", err)
		}
	}
	return outcome
}

// EmitExpired reports a plan whose deadline passed before it reached
// Submitted (spec §4.6 "Timeouts").
func (e *Executor) EmitExpired(ctx context.Context, plan *model.TradePlan) *model.TradeOutcome {
	return e.emitSkip(ctx, plan, model.SkipDeadlineExpired)
}

// EmitNoPosition reports a sell-direction plan whose follower holding of
// the output mint is unknown at plan time (spec §4.5 "amount scaling").
func (e *Executor) EmitNoPosition(ctx context.Context, plan *model.TradePlan) *model.TradeOutcome {
	return e.emitSkip(ctx, plan, model.SkipNoPosition)
}

// EmitUnclonable reports a plan whose protocol builder refused to
// produce instructions (e.g. ExternalAggregator, or a router clone that
// could not find a unique amount field).
func (e *Executor) EmitUnclonable(ctx context.Context, plan *model.TradePlan) *model.TradeOutcome {
	return e.emitSkip(ctx, plan, model.SkipUnclonable)
}

// EmitPoolUnavailable reports a plan whose protocol builder could not
// obtain live pool state from the Pool State Cache / Chain RPC, after the
// Coordinator's one retry still failed (spec §7:
// "PoolStateUnavailable -> retry once then Skipped/PoolUnavailable").
func (e *Executor) EmitPoolUnavailable(ctx context.Context, plan *model.TradePlan) *model.TradeOutcome {
	return e.emitSkip(ctx, plan, model.SkipPoolUnavailable)
}

// Run executes one plan end to end, advancing through the state machine
// and returning the TradeOutcome it also publishes to the EventSink.
func (e *Executor) Run(ctx context.Context, plan *model.TradePlan, swapInstructions []solwire.Instruction, priority PriorityTier, followerWallet solwire.Pubkey) *model.TradeOutcome {
	var submittedAt time.Time
	state := model.StateQueued
	outcome := &model.TradeOutcome{PlanID: plan.PlanID}

	advance := func(to model.PlanState) error {
		next, err := model.AdvanceState(state, to)
		if err != nil {
			return err
		}
		state = next
		return nil
	}

	emit := func(status model.OutcomeStatus, reason model.SkipReason, errKind string, logs []string) *model.TradeOutcome {
		outcome.Status = status
		outcome.SkipReason = reason
		outcome.ErrorKind = errKind
		outcome.ProgramLogTail = boundLogs(logs)
		outcome.EmittedAt = time.Now()
		if !submittedAt.IsZero() {
			outcome.Latency.SubmittedToTerminal = time.Since(submittedAt)
			metrics.SubmitLatency.Observe(outcome.Latency.SubmittedToTerminal.Seconds())
		}
		metrics.OutcomesByStatus.WithLabelValues(string(status)).Inc()
		if e.sink != nil {
			if err := e.sink.Publish(ctx, outcome); err != nil {
				e.log.Warn("event sink publish failed", "plan_id", plan.PlanID, "error", err)
			}
		}
		return outcome
	}

	if !plan.IsLive(time.Now()) {
		return emit(model.Skipped, model.SkipDeadlineExpired, "", nil)
	}
	if err := advance(model.StateBuilding); err != nil {
		return emit(model.SubmittedFailed, model.SkipNone, "illegal_transition", nil)
	}
	if len(swapInstructions) == 0 {
		return emit(model.Skipped, model.SkipUnclonable, "", nil)
	}

	txBytes, blockhash, err := e.assemble(ctx, swapInstructions, priority, followerWallet, plan.KeyHandle)
	if err != nil {
		return emit(model.SubmittedFailed, model.SkipNone, "assembly_error", nil)
	}
	if err := advance(model.StateAssembled); err != nil {
		return emit(model.SubmittedFailed, model.SkipNone, "illegal_transition", nil)
	}

	if !e.cfg.SkipSimulation {
		sim, err := e.rpc.SimulateTransaction(ctx, txBytes)
		if err != nil {
			return emit(model.SubmittedFailed, model.SkipNone, "simulate_rpc_error", nil)
		}
		if sim.Err != "" {
			return emit(model.SimulatedReject, model.SkipNone, sim.Err, sim.Logs)
		}
	}
	if err := advance(model.StateSimulated); err != nil {
		return emit(model.SubmittedFailed, model.SkipNone, "illegal_transition", nil)
	}

	sig, err := e.submitWithRetry(ctx, txBytes, swapInstructions, priority, followerWallet, plan.KeyHandle, blockhash)
	if err != nil {
		return emit(model.SubmittedFailed, model.SkipNone, "submit_failed", nil)
	}
	outcome.SubmittedSignature = sig.String()
	submittedAt = time.Now()
	if err := advance(model.StateSubmitted); err != nil {
		return emit(model.SubmittedFailed, model.SkipNone, "illegal_transition", nil)
	}

	status, err := e.rpc.ConfirmSignature(ctx, sig, chainparams.CommitmentConfirmed, e.cfg.ConfirmDeadline)
	if err != nil {
		return emit(model.SubmittedFailed, model.SkipNone, "confirm_rpc_error", nil)
	}
	switch status {
	case ports.ConfirmConfirmed, ports.ConfirmFinalized:
		advance(model.StateLanded)
		return emit(model.Landed, model.SkipNone, "", nil)
	case ports.ConfirmFailed:
		advance(model.StateFailed)
		return emit(model.SubmittedFailed, model.SkipNone, "onchain_failure", nil)
	default:
		advance(model.StateTimedOut)
		return emit(model.TimedOut, model.SkipNone, "", nil)
	}
}

// submitWithRetry sends the transaction, retrying up to
// cfg.MaxSubmitRetries times on a send error. Each retry drops the cached
// blockhash and re-assembles with a freshly fetched one (and therefore a
// fresh signature), per spec §4.5 "Submission". Send errors are not
// classified: a definitive rejection is retried the same way as a
// transient failure.
func (e *Executor) submitWithRetry(ctx context.Context, txBytes []byte, instrs []solwire.Instruction, priority PriorityTier, wallet solwire.Pubkey, keyHandle string, blockhash [32]byte) (solwire.Signature, error) {
	attempt := 0
	for {
		sig, err := e.rpc.SendTransaction(ctx, txBytes, ports.SendOptions{SkipPreflight: e.cfg.SkipSimulation, MaxRetries: 0})
		if err == nil {
			return sig, nil
		}
		attempt++
		if attempt > e.cfg.MaxSubmitRetries {
			return solwire.Signature{}, err
		}
		e.blockhashMu.Lock()
		e.lastBlockhashAt = time.Time{}
		e.blockhashMu.Unlock()
		var freshErr error
		txBytes, _, freshErr = e.assemble(ctx, instrs, priority, wallet, keyHandle)
		if freshErr != nil {
			return solwire.Signature{}, freshErr
		}
	}
}

// assemble implements spec §4.5 steps 1-5: compute-unit-limit,
// compute-unit-price (+ optional MEV tip), the builder instructions, a
// fresh-enough blockhash, and a Signing Oracle signature, producing the
// canonical versioned-transaction wire bytes.
func (e *Executor) assemble(ctx context.Context, swapInstructions []solwire.Instruction, priority PriorityTier, wallet solwire.Pubkey, keyHandle string) ([]byte, [32]byte, error) {
	blockhash, err := e.freshBlockhash(ctx)
	if err != nil {
		return nil, [32]byte{}, err
	}

	all := make([]solwire.Instruction, 0, len(swapInstructions)+3)
	all = append(all, computeUnitLimitInstruction(computeUnitFloor))
	all = append(all, computeUnitPriceInstruction(PriorityFeeMicroLamports[priority]))
	if e.cfg.MEVProtectionEnabled {
		all = append(all, mevTipInstruction(wallet, e.cfg.MEVTipLamports))
	}
	all = append(all, swapInstructions...)

	payload := canonicalSigningPayload(all, blockhash)
	sig, err := e.signer.Sign(ctx, keyHandle, payload)
	if err != nil {
		return nil, [32]byte{}, fmt.Errorf("executor: sign: %w", err)
	}

	wire := make([]byte, 0, len(sig)+len(payload))
	wire = append(wire, sig[:]...)
	wire = append(wire, payload...)
	return wire, blockhash, nil
}

// freshBlockhash reuses the last fetched blockhash within BlockhashMaxAge
// (spec §4.5 step 4). The cached hash is shared by every plan this
// Executor runs; it is not kept per master.
func (e *Executor) freshBlockhash(ctx context.Context) ([32]byte, error) {
	e.blockhashMu.Lock()
	if time.Since(e.lastBlockhashAt) < e.cfg.BlockhashMaxAge {
		hash := e.lastBlockhash
		e.blockhashMu.Unlock()
		return hash, nil
	}
	e.blockhashMu.Unlock()

	hash, _, err := e.rpc.GetLatestBlockhash(ctx, chainparams.CommitmentConfirmed)
	if err != nil {
		return [32]byte{}, err
	}

	e.blockhashMu.Lock()
	e.lastBlockhash = hash
	e.lastBlockhashAt = time.Now()
	e.blockhashMu.Unlock()
	return hash, nil
}

func computeUnitLimitInstruction(units uint32) solwire.Instruction {
	data := make([]byte, 5)
	data[0] = 2 // SetComputeUnitLimit discriminator
	binary.LittleEndian.PutUint32(data[1:], units)
	return solwire.Instruction{ProgramID: chainparams.ComputeBudgetProgram, Data: data}
}

func computeUnitPriceInstruction(microLamports uint64) solwire.Instruction {
	data := make([]byte, 9)
	data[0] = 3 // SetComputeUnitPrice discriminator
	binary.LittleEndian.PutUint64(data[1:], microLamports)
	return solwire.Instruction{ProgramID: chainparams.ComputeBudgetProgram, Data: data}
}

func mevTipInstruction(from solwire.Pubkey, lamports uint64) solwire.Instruction {
	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:4], 2) // system program Transfer instruction index
	binary.LittleEndian.PutUint64(data[4:], lamports)
	return solwire.Instruction{
		ProgramID: chainparams.SystemProgram,
		Accounts: []solwire.AccountMeta{
			{Pubkey: from, IsSigner: true, IsWritable: true},
			{Pubkey: chainparams.KnownMEVTipAccount, IsSigner: false, IsWritable: true},
		},
		Data: data,
	}
}

// canonicalSigningPayload is a simplified stand-in for compiling `all`
// into a versioned Solana message: it concatenates the blockhash and each
// instruction's program id, accounts, and data in order. A real compiler
// would also dedupe/order accounts into the message's static account
// list; that step belongs to a wire-compilation layer outside this
// engine's scope (the Signing Oracle and Chain RPC are the only
// consumers of this byte string, and both are mocked at the boundary
// this engine owns).
func canonicalSigningPayload(instrs []solwire.Instruction, blockhash [32]byte) []byte {
	out := make([]byte, 0, 64*len(instrs))
	out = append(out, blockhash[:]...)
	for _, ix := range instrs {
		out = append(out, ix.ProgramID[:]...)
		for _, a := range ix.Accounts {
			out = append(out, a.Pubkey[:]...)
			if a.IsSigner {
				out = append(out, 1)
			} else {
				out = append(out, 0)
			}
			if a.IsWritable {
				out = append(out, 1)
			} else {
				out = append(out, 0)
			}
		}
		out = append(out, ix.Data...)
	}
	return out
}

// boundLogs truncates a program-log tail to 4KB (spec §4.5 "bounded to
// 4 KB").
func boundLogs(logs []string) []string {
	const maxBytes = 4096
	var total int
	for i := len(logs) - 1; i >= 0; i-- {
		total += len(logs[i])
		if total > maxBytes {
			return logs[i+1:]
		}
	}
	return logs
}
