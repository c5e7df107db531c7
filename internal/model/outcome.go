package model

import "time"

// OutcomeStatus is the terminal status of a TradePlan (spec §3, §4.5).
type OutcomeStatus string

const (
	Landed            OutcomeStatus = "landed"
	SimulatedReject   OutcomeStatus = "simulated_reject"
	SubmittedFailed   OutcomeStatus = "submitted_failed"
	TimedOut          OutcomeStatus = "timed_out"
	Skipped           OutcomeStatus = "skipped"
)

// SkipReason refines a Skipped outcome with the specific cause, matching
// the Skipped/* variants named throughout spec §7.
type SkipReason string

const (
	SkipNone               SkipReason = ""
	SkipNoPosition         SkipReason = "no_position"
	SkipPoolUnavailable    SkipReason = "pool_unavailable"
	SkipUnclonable         SkipReason = "unclonable"
	SkipNoFunds            SkipReason = "no_funds"
	SkipSigner             SkipReason = "signer"
	SkipDeadlineExpired    SkipReason = "deadline_expired"
	SkipAmbiguousAmount    SkipReason = "ambiguous_amount_field"
	SkipDuplicate          SkipReason = "duplicate"
)

// LatencyBreakdown records the wall-clock cost of each pipeline stage for
// one TradePlan, used for observability only.
type LatencyBreakdown struct {
	ObservedToBuild    time.Duration
	BuildToAssembled   time.Duration
	AssembledToSimulated time.Duration
	SimulatedToSubmitted time.Duration
	SubmittedToTerminal  time.Duration
}

// TradeOutcome is the executor's terminal record, emitted exactly once per
// TradePlan (spec §3).
type TradeOutcome struct {
	PlanID              string
	SubmittedSignature  string // empty if never submitted
	Status              OutcomeStatus
	SkipReason          SkipReason
	ErrorKind           string
	ProgramLogTail      []string // bounded to 4KB by the executor
	Latency             LatencyBreakdown
	EmittedAt           time.Time
}
