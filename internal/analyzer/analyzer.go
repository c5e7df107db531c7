// Package analyzer implements the Transaction Analyzer (spec §4.2): given
// a RawTransaction, it decides whether it represents a supported swap and,
// if so, extracts a SwapIntent.
package analyzer

import (
	"errors"
	"fmt"
	"time"

	"github.com/copytrade/engine/internal/domain"
	"github.com/copytrade/engine/internal/model"
	"github.com/copytrade/engine/internal/solwire"
	"github.com/copytrade/engine/pkg/logging"
)

// Errors surfaced for observability per §4.2 ("Fails only on unrecoverable
// decode errors"); none of these are fatal to the pipeline.
var (
	ErrIncompleteAccounts = errors.New("analyzer: incomplete address-table accounts")
)

// AddressTableResolver fetches the contents of address lookup tables
// referenced by a transaction's message, so the analyzer can expand
// account indices beyond the static account list. Implementations
// typically delegate to the Pool State Cache or a direct Chain RPC call.
type AddressTableResolver interface {
	ResolveTables(lookups []solwire.AddressTableLookup) (map[solwire.Pubkey][]solwire.Pubkey, error)
}

// Analyzer classifies RawTransactions and extracts SwapIntents.
type Analyzer struct {
	tables AddressTableResolver
	log    *logging.Logger
}

// New constructs an Analyzer. tables may be nil for transactions that
// never carry address-table lookups (legacy messages); attempting to
// resolve a v0 message's lookups with a nil resolver returns
// ErrIncompleteAccounts.
func New(tables AddressTableResolver) *Analyzer {
	return &Analyzer{tables: tables, log: logging.GetDefault().Component("analyzer")}
}

// candidateMatch is one recognized program invocation within the
// transaction, before the native-over-aggregator tie-break of §4.2 step 2.
type candidateMatch struct {
	protocol     domain.Protocol
	programID    solwire.Pubkey
	outerIndex   int
	innerIndex   int // -1 for an outer instruction
	instruction  solwire.CompiledInstruction
}

// Analyze implements the analyze(tx) -> Option<SwapIntent> contract of
// spec §4.2. A nil, nil return means "ignore": non-swap, unknown protocol,
// malformed (within tolerance), or self-transfer.
func (a *Analyzer) Analyze(tx *solwire.RawTransaction) (*model.SwapIntent, error) {
	if tx == nil || tx.Message == nil || tx.Failed {
		return nil, nil
	}

	resolved, writable, err := a.resolveAccounts(tx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIncompleteAccounts, err)
	}

	matches := a.findCandidates(tx, resolved)
	if len(matches) == 0 {
		return a.tryExternalAggregatorFallback(tx, resolved)
	}

	match := tieBreak(matches)

	intent, err := a.extract(tx, match, resolved, writable)
	if err != nil {
		return nil, err
	}
	if intent == nil {
		return nil, nil
	}

	if validateErr := intent.Validate(); validateErr != nil {
		// Edge cases from §4.2: same-mint hop or non-swap balance pattern.
		return nil, nil
	}

	return intent, nil
}

func (a *Analyzer) resolveAccounts(tx *solwire.RawTransaction) ([]solwire.Pubkey, []bool, error) {
	if len(tx.Message.AddressTableLookups) == 0 {
		accounts := make([]solwire.Pubkey, 0, len(tx.Message.AccountKeys))
		writable := make([]bool, 0, len(tx.Message.AccountKeys))
		for i, k := range tx.Message.AccountKeys {
			accounts = append(accounts, k)
			writable = append(writable, tx.Message.IsAccountWritableStatic(i))
		}
		return accounts, writable, nil
	}

	if a.tables == nil {
		return nil, nil, errors.New("address table lookups present but no resolver configured")
	}
	tableContents, err := a.tables.ResolveTables(tx.Message.AddressTableLookups)
	if err != nil {
		return nil, nil, err
	}
	return tx.Message.ResolvedAccounts(tableContents)
}

// findCandidates scans outer instructions and inner (CPI) instructions for
// invocations of a program in the registry (spec §4.2 step 1-2).
func (a *Analyzer) findCandidates(tx *solwire.RawTransaction, resolved []solwire.Pubkey) []candidateMatch {
	var matches []candidateMatch

	scan := func(outerIdx, innerIdx int, ci solwire.CompiledInstruction) {
		if int(ci.ProgramIDIndex) >= len(resolved) {
			return
		}
		programID := resolved[ci.ProgramIDIndex]
		protocol, ok := domain.ProgramRegistry[programID]
		if !ok {
			return
		}
		matches = append(matches, candidateMatch{
			protocol:    protocol,
			programID:   programID,
			outerIndex:  outerIdx,
			innerIndex:  innerIdx,
			instruction: ci,
		})
	}

	for i, ci := range tx.Message.Instructions {
		scan(i, -1, ci)
	}
	for _, group := range tx.InnerInstructions {
		for j, ci := range group.Instructions {
			scan(group.Index, j, ci)
		}
	}

	return matches
}

// tieBreak implements spec §4.2 step 2: native protocol program wins over
// a router/aggregator program when both appear.
func tieBreak(matches []candidateMatch) candidateMatch {
	for _, m := range matches {
		if m.protocol.IsNative() {
			return m
		}
	}
	return matches[0]
}

// tryExternalAggregatorFallback implements the edge case: "Unknown program
// on the instruction where the swap happens, but recognizable
// token-balance delta against a known pool => classify as
// ExternalAggregator."
//
// Since the defining characteristic of this path is precisely that no
// known program matched, the analyzer here only confirms the master
// wallet had a token balance delta at all; it does not attempt to
// identify a "known pool" (that would require a protocol match, which by
// construction is absent). If there is no balance delta, the transaction
// is genuinely non-swap traffic and is ignored.
func (a *Analyzer) tryExternalAggregatorFallback(tx *solwire.RawTransaction, resolved []solwire.Pubkey) (*model.SwapIntent, error) {
	deltas := tokenDeltasForOwner(tx, tx.Message.AccountKeys[0])
	if len(deltas) < 2 {
		return nil, nil
	}

	inMint, inAmt, outMint, outAmt, ok := pickInOut(deltas)
	if !ok {
		return nil, nil
	}

	intent := &model.SwapIntent{
		MasterSignature:           tx.MasterSignature(),
		MasterWallet:              tx.Message.AccountKeys[0],
		Direction:                 directionFor(inMint, outMint),
		InputMint:                 inMint,
		OutputMint:                outMint,
		MasterInputAmount:         inAmt,
		MasterOutputAmountObserved: outAmt,
		Protocol:                  domain.ExternalAggregator,
		PoolDescriptor: model.PoolDescriptor{
			Protocol: domain.ExternalAggregator,
			Pool:     resolved[0], // no native pool is known; carry the fee payer/program context
		},
		OriginalTransaction: tx,
		ObservedAt:          time.Now(),
	}
	return intent, nil
}
