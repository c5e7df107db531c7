package model

import (
	"errors"
	"time"
)

// TradePlan is the Coordinator's per-follower projection of a SwapIntent
// (spec §3).
type TradePlan struct {
	PlanID            string
	FollowerID        string
	KeyHandle         string
	IntentRef         *SwapIntent // borrowed; drop when the plan retires
	ScaledInputAmount uint64
	SlippageBps       uint32
	Deadline          time.Time

	MaxPerTrade uint64 // follower.max_per_trade_raw, kept for invariant checks

	// SellFractionBps is the fraction (in basis points) of the follower's
	// current holding to sell, resolved against chain state at plan-run
	// time rather than at plan-build time (§4.5's "amount scaling").
	// Unused for Buy-direction plans, whose ScaledInputAmount is already
	// known when the plan is built.
	SellFractionBps uint32
}

// IdempotencyKey returns the (master_signature, follower_id) key the
// Coordinator uses to guarantee at most one TradePlan per pair (§4.6).
func (p *TradePlan) IdempotencyKey() string {
	if p.IntentRef == nil {
		return ""
	}
	return p.IntentRef.MasterSignature.String() + ":" + p.FollowerID
}

// Validate checks the TradePlan invariants from spec §3 and §8.
func (p *TradePlan) Validate() error {
	if p.ScaledInputAmount == 0 {
		return ErrZeroScaledAmount
	}
	if p.MaxPerTrade > 0 && p.ScaledInputAmount > p.MaxPerTrade {
		return ErrScaledAmountExceedsMax
	}
	return nil
}

// IsLive reports whether the plan's parent intent has not yet expired.
func (p *TradePlan) IsLive(now time.Time) bool {
	return now.Before(p.Deadline)
}

var (
	ErrZeroScaledAmount       = errors.New("model: trade plan scaled input amount is zero")
	ErrScaledAmountExceedsMax = errors.New("model: trade plan scaled input amount exceeds follower max per trade")
)

// PlanState is the per-TradePlan state machine of §4.5.
type PlanState string

const (
	StateQueued    PlanState = "queued"
	StateBuilding  PlanState = "building"
	StateAssembled PlanState = "assembled"
	StateSimulated PlanState = "simulated"
	StateSubmitted PlanState = "submitted"
	StateLanded    PlanState = "landed"
	StateFailed    PlanState = "failed"
	StateTimedOut  PlanState = "timed_out"
)

// terminal lists the states with no outgoing transition.
var terminal = map[PlanState]bool{
	StateLanded:   true,
	StateFailed:   true,
	StateTimedOut: true,
}

// IsTerminal reports whether a state has no further transitions.
func (s PlanState) IsTerminal() bool { return terminal[s] }

// allowedTransitions enumerates the legal edges of the state machine;
// AdvanceState rejects any edge not listed here, enforcing "no cycles".
var allowedTransitions = map[PlanState][]PlanState{
	StateQueued:    {StateBuilding},
	StateBuilding:  {StateAssembled, StateFailed, StateTimedOut},
	StateAssembled: {StateSimulated, StateFailed, StateTimedOut},
	StateSimulated: {StateSubmitted, StateFailed, StateTimedOut},
	StateSubmitted: {StateLanded, StateFailed, StateTimedOut},
}

// ErrIllegalTransition is returned when a state transition does not
// appear in allowedTransitions.
var ErrIllegalTransition = errors.New("model: illegal plan state transition")

// AdvanceState validates and returns the next state, or ErrIllegalTransition
// if `to` is not reachable from `from`.
func AdvanceState(from, to PlanState) (PlanState, error) {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return to, nil
		}
	}
	return from, ErrIllegalTransition
}
