// Package builders implements the Protocol Builders (spec §4.3): one pure
// function per recognized protocol that turns a SwapIntent plus a
// follower's scaled amount into the instruction(s) needed to replay an
// equivalent swap for that follower. The constant-product-family builders
// read live pool reserves through the Pool State Cache, which on a miss
// fetches the pool's vault accounts over Chain RPC (fetchPoolState); the
// other builders work from the intent alone.
package builders

import (
	"context"
	"errors"
	"fmt"

	"github.com/copytrade/engine/internal/chainparams"
	"github.com/copytrade/engine/internal/domain"
	"github.com/copytrade/engine/internal/model"
	"github.com/copytrade/engine/internal/poolcache"
	"github.com/copytrade/engine/internal/ports"
	"github.com/copytrade/engine/internal/solwire"
)

// FollowerParams carries the per-follower values a builder needs beyond
// the shared SwapIntent and TradePlan: its wallet, the scaled input
// amount already computed by the executor (§4.5 step 1), and its slippage
// tolerance in basis points.
type FollowerParams struct {
	Wallet            solwire.Pubkey
	ScaledInputAmount uint64
	SlippageBps       uint32
}

// Builder produces the swap instruction(s) for one protocol. cache and
// rpc give a builder access to live pool state when its quote math needs
// it (the constant-product family); builders that don't need pricing
// (bonding curves, the router clone, the aggregator fallback) simply
// ignore them.
type Builder func(ctx context.Context, intent *model.SwapIntent, follower FollowerParams, cache *poolcache.Cache, rpc ports.ChainRPC) ([]solwire.Instruction, error)

// Registry dispatches by protocol (Design Notes: manager-dispatch over a
// closed enum, not virtualized interfaces).
var Registry = map[domain.Protocol]Builder{
	domain.BondingCurve:             BuildBondingCurve,
	domain.ConstantProductAmm:       BuildConstantProductAmm,
	domain.ConcentratedLiquidityAmm: BuildConcentratedLiquidityAmm,
	domain.ConstantProductAmmV2:     BuildConstantProductAmmV2,
	domain.LaunchpadCurve:           BuildLaunchpadCurve,
	domain.BinLiquidityAmm:          BuildBinLiquidityAmm,
	domain.DynamicBondingCurve:      BuildDynamicBondingCurve,
	domain.DynamicCpAmm:             BuildDynamicCpAmm,
	domain.RouterAggregator:         BuildRouterClone,
	domain.ExternalAggregator:       BuildExternalAggregatorFallback,
}

// ErrUnsupportedProtocol is returned by Build for a protocol absent from
// the Registry -- should never happen for a SwapIntent the analyzer
// itself produced, since both sides share the same domain.AllProtocols
// enumeration.
var ErrUnsupportedProtocol = fmt.Errorf("builders: unsupported protocol")

// ErrPoolStateUnavailable wraps any failure to obtain a constant-product
// pool's live reserves from the Pool State Cache / Chain RPC, letting the
// Coordinator classify it separately from a genuinely unclonable intent
// (spec §7: "PoolStateUnavailable -> retry once then Skipped/PoolUnavailable").
var ErrPoolStateUnavailable = errors.New("builders: pool state unavailable")

// ErrAggregatorUnavailable wraps a failure to obtain or decode a swap
// plan from the configured external aggregator.
var ErrAggregatorUnavailable = errors.New("builders: external aggregator unavailable")

// Build dispatches to the registered Builder for intent.Protocol.
func Build(ctx context.Context, intent *model.SwapIntent, follower FollowerParams, cache *poolcache.Cache, rpc ports.ChainRPC) ([]solwire.Instruction, error) {
	b, ok := Registry[intent.Protocol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProtocol, intent.Protocol)
	}
	return b(ctx, intent, follower, cache, rpc)
}

// applySlippage returns the worst acceptable output for a given observed
// output and slippage tolerance in basis points (spec §4.3: "min_out
// scaled by the follower's slippage tolerance").
func applySlippage(observedOut uint64, slippageBps uint32) uint64 {
	if slippageBps >= domain.BpsDenominator {
		return 0
	}
	keep := domain.BpsDenominator - slippageBps
	return observedOut * uint64(keep) / domain.BpsDenominator
}

// scaledMinOut proportionally scales the master's observed output by the
// ratio of the follower's input to the master's input, then applies
// slippage. Used only by the curve-shaped protocols (bonding curve,
// launchpad, dynamic bonding curve) whose price function isn't a plain
// constant-product formula, so there's no cheaper independent quote than
// mirroring the master's realized price.
func scaledMinOut(intent *model.SwapIntent, follower FollowerParams) uint64 {
	if intent.MasterInputAmount == 0 {
		return 0
	}
	proportional := intent.MasterOutputAmountObserved * follower.ScaledInputAmount / intent.MasterInputAmount
	return applySlippage(proportional, follower.SlippageBps)
}

// splTokenAccountAmountOffset is the byte offset of the `amount` field
// within an SPL Token / Token-2022 token account (mint(32) ||
// owner(32) || amount(8) || ...).
const splTokenAccountAmountOffset = 64

// quoteConstantProduct fetches (or reuses) the pool's live reserves and
// fee tier from the Pool State Cache and computes the follower's min_out
// per spec §4.3's ConstantProductAmm strategy: out = (reserve_out * in) /
// (reserve_in + in), minus the pool's protocol/LP/creator fees, then
// slippage.
func quoteConstantProduct(ctx context.Context, cache *poolcache.Cache, rpc ports.ChainRPC, intent *model.SwapIntent, follower FollowerParams) (uint64, error) {
	if cache == nil || rpc == nil {
		return 0, fmt.Errorf("%w: no pool cache/chain RPC configured for %s", ErrPoolStateUnavailable, intent.Protocol)
	}
	desc := intent.PoolDescriptor
	key := model.PoolCacheKey{Protocol: desc.Protocol, Pool: desc.Pool}
	entry, err := cache.GetOrFetch(ctx, key, func(ctx context.Context, k model.PoolCacheKey) (*model.PoolCacheEntry, error) {
		return fetchPoolState(ctx, rpc, desc)
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrPoolStateUnavailable, err)
	}

	reserveBase, reserveQuote, ok := entry.Reserves()
	if !ok {
		return 0, fmt.Errorf("%w: %s has no cached reserves", ErrPoolStateUnavailable, desc.Pool)
	}
	feeTier, ok := entry.FeeTier()
	if !ok {
		feeTier = domain.FeeTierFor(desc.Protocol)
	}

	reserveIn, reserveOut := reserveQuote, reserveBase
	if intent.Direction == domain.Sell {
		reserveIn, reserveOut = reserveBase, reserveQuote
	}
	denom := reserveIn + follower.ScaledInputAmount
	if denom == 0 {
		return 0, fmt.Errorf("%w: %s has zero combined reserve+input", ErrPoolStateUnavailable, desc.Pool)
	}

	grossOut := reserveOut * follower.ScaledInputAmount / denom
	feeBps := feeTier.TotalBps()
	var afterFee uint64
	if feeBps < domain.BpsDenominator {
		afterFee = grossOut * uint64(domain.BpsDenominator-feeBps) / domain.BpsDenominator
	}
	return applySlippage(afterFee, follower.SlippageBps), nil
}

// fetchPoolState reads a constant-product pool's live reserves and
// token-program variant straight off its vault accounts via Chain RPC --
// the Pool State Cache's Fetcher, invoked at most once per TTL window per
// pool across every concurrent builder call.
func fetchPoolState(ctx context.Context, rpc ports.ChainRPC, desc model.PoolDescriptor) (*model.PoolCacheEntry, error) {
	infos, err := rpc.GetAccountInfos(ctx, []solwire.Pubkey{desc.VaultBase, desc.VaultQuote}, chainparams.CommitmentProcessed)
	if err != nil {
		return nil, fmt.Errorf("fetch vault accounts: %w", err)
	}
	if len(infos) != 2 || infos[0] == nil || infos[1] == nil {
		return nil, fmt.Errorf("vault accounts for pool %s not found", desc.Pool)
	}
	reserveBase, err := solwire.ReadLE64(infos[0].Data, splTokenAccountAmountOffset)
	if err != nil {
		return nil, fmt.Errorf("decode base vault balance: %w", err)
	}
	reserveQuote, err := solwire.ReadLE64(infos[1].Data, splTokenAccountAmountOffset)
	if err != nil {
		return nil, fmt.Errorf("decode quote vault balance: %w", err)
	}
	if infos[0].Owner != chainparams.TokenProgram && infos[0].Owner != chainparams.Token2022Program {
		return nil, fmt.Errorf("pool %s vaults owned by unrecognized program %s", desc.Pool, infos[0].Owner)
	}

	entry := &model.PoolCacheEntry{Key: model.PoolCacheKey{Protocol: desc.Protocol, Pool: desc.Pool}}
	entry.SetReserves(reserveBase, reserveQuote)
	entry.SetFeeTier(domain.FeeTierFor(desc.Protocol))
	entry.SetTokenProgram(infos[0].Owner)
	return entry, nil
}

// poolTokenProgram returns the token-program variant a pool's vaults are
// owned by, preferring whatever the cache already has warm and falling
// back to classic SPL Token when the cache has no entry yet (e.g. a
// curve-shaped protocol that never primes the cache).
func poolTokenProgram(ctx context.Context, cache *poolcache.Cache, desc model.PoolDescriptor) solwire.Pubkey {
	if cache == nil {
		return chainparams.TokenProgram
	}
	key := model.PoolCacheKey{Protocol: desc.Protocol, Pool: desc.Pool}
	entry, err := cache.GetOrFetch(ctx, key, func(context.Context, model.PoolCacheKey) (*model.PoolCacheEntry, error) {
		return nil, fmt.Errorf("%w: no cached entry for %s yet", ErrPoolStateUnavailable, desc.Pool)
	})
	if err != nil || entry == nil {
		return chainparams.TokenProgram
	}
	if program, ok := entry.TokenProgram(); ok {
		return program
	}
	return chainparams.TokenProgram
}

// followerTokenAccounts derives the follower's input/output associated
// token accounts for building an instruction's account list.
func followerTokenAccounts(intent *model.SwapIntent, follower FollowerParams, tokenProgram solwire.Pubkey) (in, out solwire.Pubkey) {
	in = solwire.DeriveAssociatedTokenAccount(chainparams.AssociatedTokenProgram, tokenProgram, follower.Wallet, intent.InputMint)
	out = solwire.DeriveAssociatedTokenAccount(chainparams.AssociatedTokenProgram, tokenProgram, follower.Wallet, intent.OutputMint)
	return in, out
}
