// Package chainparams defines cluster parameters and well-known program
// identifiers for the Solana network(s) this engine operates against. It
// mirrors the teacher's internal/chain package in spirit -- hardcoded,
// centralized chain facts with no external configuration needed -- scaled
// down to the single chain family this spec targets.
package chainparams

import "github.com/copytrade/engine/internal/solwire"

// Cluster identifies a Solana cluster.
type Cluster string

const (
	Mainnet Cluster = "mainnet-beta"
	Devnet  Cluster = "devnet"
)

// Commitment is a confirmation level, passed to get_account_infos,
// simulate_transaction, send_transaction and confirm_signature per §6.
type Commitment string

const (
	CommitmentProcessed Commitment = "processed"
	CommitmentConfirmed Commitment = "confirmed"
	CommitmentFinalized Commitment = "finalized"
)

// Well-known program IDs referenced by protocol builders and the analyzer.
var (
	SystemProgram        = solwire.MustPubkey("11111111111111111111111111111111")
	TokenProgram          = solwire.MustPubkey("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")
	Token2022Program      = solwire.MustPubkey("TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb")
	AssociatedTokenProgram = solwire.MustPubkey("ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL")
	ComputeBudgetProgram  = solwire.MustPubkey("ComputeBudget111111111111111111111111111111")
	AddressLookupTableProgram = solwire.MustPubkey("AddressLookupTab1e1111111111111111111111111")

	// WrappedSOL is the mint address used for the native SOL wrapper,
	// the most common quote mint for Buy/Sell direction classification.
	WrappedSOL = solwire.MustPubkey("So11111111111111111111111111111111111111112")

	// KnownMEVTipAccount is the address the executor forwards a tip to when
	// MEV protection is enabled (§4.5 step 2). Operators may override this
	// via coreconfig; this is the documented default.
	KnownMEVTipAccount = solwire.MustPubkey("juLesoSmdTcRtzjCzYzRoHrnF8GhVvwgocVVRy5X2UX")
)

// DefaultFreshnessHorizonSeconds is the default "freshness horizon" of
// §4.1: transactions older than this (relative to arrival time) are
// dropped.
const DefaultFreshnessHorizonSeconds = 20

// DefaultBlockhashMaxAgeSeconds bounds how old a cached blockhash may be
// before the executor must fetch a fresh one (§4.5 step 4).
const DefaultBlockhashMaxAgeSeconds = 2

// DefaultConfirmDeadlineSeconds is the default confirmation deadline of
// §4.5 ("Confirmation").
const DefaultConfirmDeadlineSeconds = 20

// DefaultPoolCacheTTLSeconds is the default dynamic-state TTL of §4.4.
const DefaultPoolCacheTTLSeconds = 2

// DefaultPoolCacheCapacity is the hard cap on cached pool entries (§4.4).
const DefaultPoolCacheCapacity = 4096

// DefaultIngressDedupCapacity is the minimum LRU size for signature
// deduplication in Stream Ingress (§4.1).
const DefaultIngressDedupCapacity = 4096

// DefaultFollowerConcurrency is the default per-follower parallelism K
// (§4.6).
const DefaultFollowerConcurrency = 4

// DefaultPlanDeadlineSeconds bounds how long a TradePlan may sit before
// the executor reaches Submitted; past this the Coordinator cancels it
// with Skipped/DeadlineExpired (§4.6, §7 example 6).
const DefaultPlanDeadlineSeconds = 15

// DefaultFollowerQueueDepth is the bounded per-follower FIFO queue size
// before the Coordinator starts dropping the oldest queued plan (§4.6).
const DefaultFollowerQueueDepth = 32

// DefaultIdempotencyCacheCapacity bounds the Coordinator's
// (master_signature, follower_id) dedup set (§4.6).
const DefaultIdempotencyCacheCapacity = 8192
