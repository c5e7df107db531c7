// Package model defines the pipeline's core value types (spec §3):
// SwapIntent, PoolDescriptor, TradePlan, PoolCacheEntry, and TradeOutcome.
// All fields are value types; ownership flows with the pipeline stage that
// currently holds them, never a shared mutable graph.
package model

import (
	"errors"
	"time"

	"github.com/copytrade/engine/internal/domain"
	"github.com/copytrade/engine/internal/solwire"
)

// PoolDescriptor is the protocol-specific bundle of account references a
// builder needs to produce an equivalent swap against a specific pool:
// the pool itself plus any required sidecars (config, vaults, authority,
// address-table references).
type PoolDescriptor struct {
	Protocol  domain.Protocol
	Pool      solwire.Pubkey
	Config    solwire.Pubkey
	Authority solwire.Pubkey
	VaultBase solwire.Pubkey
	VaultQuote solwire.Pubkey
	Observation solwire.Pubkey
	// ExtraAccounts carries any protocol-specific accounts not covered by
	// the fields above (e.g. tick-array-bitmap extension, event authority,
	// platform/creator vaults).
	ExtraAccounts map[string]solwire.Pubkey
	// AddressTables lists the lookup tables this pool's CPI graph uses, so
	// the analyzer and builders can request their resolved contents from
	// the Pool State Cache / Chain RPC.
	AddressTables []solwire.Pubkey
}

// IsEmpty reports whether the descriptor lacks even its pool address,
// violating the SwapIntent invariant that it be non-empty.
func (d PoolDescriptor) IsEmpty() bool {
	return d.Pool.IsZero()
}

// SwapIntent is the analyzer's output for one recognized master swap
// (spec §3).
type SwapIntent struct {
	MasterSignature            solwire.Signature
	MasterWallet                solwire.Pubkey
	Direction                   domain.Direction
	InputMint                   solwire.Pubkey
	OutputMint                  solwire.Pubkey
	MasterInputAmount           uint64
	MasterOutputAmountObserved  uint64
	Protocol                    domain.Protocol
	PoolDescriptor              PoolDescriptor
	OriginalTransaction         *solwire.RawTransaction
	ObservedAt                  time.Time
}

// Validate checks the SwapIntent invariants from spec §3 and §8.
func (s *SwapIntent) Validate() error {
	if s.Direction != domain.Buy && s.Direction != domain.Sell {
		return ErrInvalidDirection
	}
	if s.InputMint == s.OutputMint {
		return ErrSameMint
	}
	if s.MasterInputAmount == 0 {
		return ErrZeroAmount
	}
	if s.PoolDescriptor.IsEmpty() {
		return ErrEmptyPoolDescriptor
	}
	return nil
}

var (
	ErrInvalidDirection    = errors.New("model: swap intent has invalid direction")
	ErrSameMint            = errors.New("model: swap intent input and output mints are equal")
	ErrZeroAmount          = errors.New("model: swap intent master input amount is zero")
	ErrEmptyPoolDescriptor = errors.New("model: swap intent pool descriptor is empty or inconsistent")
)
