package domain

import "github.com/copytrade/engine/internal/solwire"

// Well-known program IDs for each native protocol, and the router/
// aggregator programs the analyzer treats as ancillary context. These are
// the addresses the analyzer's registry matches instruction invocations
// against (spec §4.2 step 2).
var (
	ProgramBondingCurve             = solwire.MustPubkey("6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P")
	ProgramConstantProductAmm       = solwire.MustPubkey("675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8")
	ProgramConcentratedLiquidityAmm = solwire.MustPubkey("CAMMCzo5YL8w4VFF8KVHrK22GGUsp5VTaW7grrKgrWqK")
	ProgramConstantProductAmmV2     = solwire.MustPubkey("CPMMoo8L3F4NbTegBCKVNunggL7H1ZpdTHKxQB5qKP1C")
	ProgramLaunchpadCurve           = solwire.MustPubkey("LanMV9sAd7wArD4vJFi2qDdfnVhFxYSUg6eADduJ3uj")
	ProgramBinLiquidityAmm          = solwire.MustPubkey("LBUZKhRxPF3XUpBCjp4YzTKgLccjZhTSDM9YuVaPwxo")
	ProgramDynamicBondingCurve      = solwire.MustPubkey("dbcij3LWUppWqq96dh6gJWwBifmcGfLSB5D4DuSMaqN")
	ProgramDynamicCpAmm             = solwire.MustPubkey("cpamdpZCGKUy5JxQXB4dcpGPiikHawvSWAd6mEn1sGG")
	ProgramRouterAggregator         = solwire.MustPubkey("JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4")
)

// ProgramRegistry maps a known program ID to the protocol it identifies.
// Tie-break (native over aggregator) is applied by the analyzer when more
// than one entry matches within the same transaction.
var ProgramRegistry = map[solwire.Pubkey]Protocol{
	ProgramBondingCurve:             BondingCurve,
	ProgramConstantProductAmm:       ConstantProductAmm,
	ProgramConcentratedLiquidityAmm: ConcentratedLiquidityAmm,
	ProgramConstantProductAmmV2:     ConstantProductAmmV2,
	ProgramLaunchpadCurve:           LaunchpadCurve,
	ProgramBinLiquidityAmm:          BinLiquidityAmm,
	ProgramDynamicBondingCurve:      DynamicBondingCurve,
	ProgramDynamicCpAmm:             DynamicCpAmm,
	ProgramRouterAggregator:         RouterAggregator,
}

// AccountLayout documents the fixed account-index slots a protocol's swap
// instruction uses, per spec §4.2 step 3 ("the known account-index slots,
// e.g. pool at slot k, config at slot k+2"). Indices are positions within
// the *instruction's* account list (CompiledInstruction.Accounts), not the
// message-wide account list.
type AccountLayout struct {
	PoolIdx        int
	ConfigIdx      int // -1 if the protocol has no separate config account
	AuthorityIdx   int
	VaultBaseIdx   int
	VaultQuoteIdx  int
	ObservationIdx int // -1 if not applicable
	AccountCount   int // total accounts the native instruction publishes (scenario 1: 16)
}

// Layouts documents the canonical account layout per native protocol.
var Layouts = map[Protocol]AccountLayout{
	BondingCurve: {
		PoolIdx: 2, ConfigIdx: 0, AuthorityIdx: 1,
		VaultBaseIdx: 3, VaultQuoteIdx: 4, ObservationIdx: -1,
		AccountCount: 16,
	},
	ConstantProductAmm: {
		PoolIdx: 1, ConfigIdx: 3, AuthorityIdx: 2,
		VaultBaseIdx: 5, VaultQuoteIdx: 6, ObservationIdx: -1,
		AccountCount: 18,
	},
	ConcentratedLiquidityAmm: {
		PoolIdx: 2, ConfigIdx: 1, AuthorityIdx: 0,
		VaultBaseIdx: 5, VaultQuoteIdx: 6, ObservationIdx: 7,
		AccountCount: 9,
	},
	ConstantProductAmmV2: {
		PoolIdx: 2, ConfigIdx: 1, AuthorityIdx: 0,
		VaultBaseIdx: 6, VaultQuoteIdx: 7, ObservationIdx: -1,
		AccountCount: 13,
	},
	LaunchpadCurve: {
		PoolIdx: 4, ConfigIdx: 3, AuthorityIdx: 2,
		VaultBaseIdx: 5, VaultQuoteIdx: 6, ObservationIdx: -1,
		AccountCount: 14,
	},
	BinLiquidityAmm: {
		PoolIdx: 1, ConfigIdx: -1, AuthorityIdx: 0,
		VaultBaseIdx: 4, VaultQuoteIdx: 5, ObservationIdx: -1,
		AccountCount: 15,
	},
	DynamicBondingCurve: {
		PoolIdx: 2, ConfigIdx: 1, AuthorityIdx: 0,
		VaultBaseIdx: 4, VaultQuoteIdx: 5, ObservationIdx: -1,
		AccountCount: 13,
	},
	DynamicCpAmm: {
		PoolIdx: 1, ConfigIdx: 0, AuthorityIdx: 2,
		VaultBaseIdx: 5, VaultQuoteIdx: 6, ObservationIdx: -1,
		AccountCount: 14,
	},
}
