package builders

import (
	"context"
	"fmt"

	"github.com/copytrade/engine/internal/chainparams"
	"github.com/copytrade/engine/internal/domain"
	"github.com/copytrade/engine/internal/model"
	"github.com/copytrade/engine/internal/poolcache"
	"github.com/copytrade/engine/internal/ports"
	"github.com/copytrade/engine/internal/solwire"
)

// nativeAccounts assembles the common account list shared by every native
// protocol's swap instruction: authority/config/pool/vaults in the pool
// descriptor's published order, then the follower's own signer and token
// accounts, then the pool's token program (classic SPL Token or Token-2022,
// per spec §4.3's DynamicCpAmm "token-program variants selected per
// pool"). Protocol-specific extra accounts (tick arrays, bin arrays, event
// authority) are appended by each protocol's builder via desc.ExtraAccounts.
func nativeAccounts(desc model.PoolDescriptor, follower FollowerParams, in, out, tokenProgram solwire.Pubkey) []solwire.AccountMeta {
	accounts := []solwire.AccountMeta{
		{Pubkey: desc.Authority, IsSigner: false, IsWritable: false},
	}
	if !desc.Config.IsZero() {
		accounts = append(accounts, solwire.AccountMeta{Pubkey: desc.Config, IsSigner: false, IsWritable: false})
	}
	accounts = append(accounts,
		solwire.AccountMeta{Pubkey: desc.Pool, IsSigner: false, IsWritable: true},
		solwire.AccountMeta{Pubkey: desc.VaultBase, IsSigner: false, IsWritable: true},
		solwire.AccountMeta{Pubkey: desc.VaultQuote, IsSigner: false, IsWritable: true},
	)
	if !desc.Observation.IsZero() {
		accounts = append(accounts, solwire.AccountMeta{Pubkey: desc.Observation, IsSigner: false, IsWritable: false})
	}
	accounts = append(accounts,
		solwire.AccountMeta{Pubkey: follower.Wallet, IsSigner: true, IsWritable: true},
		solwire.AccountMeta{Pubkey: in, IsSigner: false, IsWritable: true},
		solwire.AccountMeta{Pubkey: out, IsSigner: false, IsWritable: true},
		solwire.AccountMeta{Pubkey: tokenProgram, IsSigner: false, IsWritable: false},
	)
	return accounts
}

func requireProtocol(intent *model.SwapIntent, want domain.Protocol) error {
	if intent.Protocol != want {
		return fmt.Errorf("builders: %s builder received a %s intent", want, intent.Protocol)
	}
	if intent.PoolDescriptor.IsEmpty() {
		return fmt.Errorf("builders: %s intent has an empty pool descriptor", want)
	}
	return nil
}

// BuildBondingCurve implements the single-sided bonding-curve swap of
// spec §6: buys pass amount=0 (max-cost semantics) with bound=max cost,
// sells pass the exact token amount with bound=min_out. A bonding curve's
// price function isn't constant-product, so its min_out mirrors the
// master's realized price rather than querying reserves.
func BuildBondingCurve(ctx context.Context, intent *model.SwapIntent, follower FollowerParams, cache *poolcache.Cache, rpc ports.ChainRPC) ([]solwire.Instruction, error) {
	if err := requireProtocol(intent, domain.BondingCurve); err != nil {
		return nil, err
	}
	in, out := followerTokenAccounts(intent, follower, chainparams.TokenProgram)
	minOut := scaledMinOut(intent, follower)

	var data []byte
	if intent.Direction == domain.Buy {
		data = domain.EncodeBondingCurveSwap(0, follower.ScaledInputAmount)
	} else {
		data = domain.EncodeBondingCurveSwap(follower.ScaledInputAmount, minOut)
	}

	ix := solwire.Instruction{
		ProgramID: domain.ProgramBondingCurve,
		Accounts:  nativeAccounts(intent.PoolDescriptor, follower, in, out, chainparams.TokenProgram),
		Data:      data,
	}
	return []solwire.Instruction{ix}, nil
}

// BuildConstantProductAmm implements the V1 ("pooled") swap-base-in
// instruction: a single-byte opcode plus amount_in/min_out, quoted from
// the pool's live reserves (spec §4.3's ConstantProductAmm strategy).
func BuildConstantProductAmm(ctx context.Context, intent *model.SwapIntent, follower FollowerParams, cache *poolcache.Cache, rpc ports.ChainRPC) ([]solwire.Instruction, error) {
	if err := requireProtocol(intent, domain.ConstantProductAmm); err != nil {
		return nil, err
	}
	minOut, err := quoteConstantProduct(ctx, cache, rpc, intent, follower)
	if err != nil {
		return nil, err
	}
	tokenProgram := poolTokenProgram(ctx, cache, intent.PoolDescriptor)
	in, out := followerTokenAccounts(intent, follower, tokenProgram)
	ix := solwire.Instruction{
		ProgramID: domain.ProgramConstantProductAmm,
		Accounts:  nativeAccounts(intent.PoolDescriptor, follower, in, out, tokenProgram),
		Data:      domain.EncodeConstantProductAmmSwap(follower.ScaledInputAmount, minOut),
	}
	return []solwire.Instruction{ix}, nil
}

// BuildConstantProductAmmV2 implements the CPMM swap-base-in instruction,
// quoted the same constant-product way as BuildConstantProductAmm.
func BuildConstantProductAmmV2(ctx context.Context, intent *model.SwapIntent, follower FollowerParams, cache *poolcache.Cache, rpc ports.ChainRPC) ([]solwire.Instruction, error) {
	if err := requireProtocol(intent, domain.ConstantProductAmmV2); err != nil {
		return nil, err
	}
	minOut, err := quoteConstantProduct(ctx, cache, rpc, intent, follower)
	if err != nil {
		return nil, err
	}
	tokenProgram := poolTokenProgram(ctx, cache, intent.PoolDescriptor)
	in, out := followerTokenAccounts(intent, follower, tokenProgram)
	ix := solwire.Instruction{
		ProgramID: domain.ProgramConstantProductAmmV2,
		Accounts:  nativeAccounts(intent.PoolDescriptor, follower, in, out, tokenProgram),
		Data:      domain.EncodeCPMMSwapBaseIn(follower.ScaledInputAmount, minOut),
	}
	return []solwire.Instruction{ix}, nil
}

// BuildConcentratedLiquidityAmm implements the CLMM swap-v2 instruction.
// Concentrated-liquidity pools often need remaining tick-array accounts
// beyond the fixed layout; these ride in desc.ExtraAccounts under the
// "tick_array_N" keys the analyzer populates from the master's own
// transaction (spec §4.3's tick-array scenario). Quoting follows the same
// constant-product math as the other AMM families: a CLMM's active-tick
// reserves behave like a constant-product pool over the range the swap
// stays within.
func BuildConcentratedLiquidityAmm(ctx context.Context, intent *model.SwapIntent, follower FollowerParams, cache *poolcache.Cache, rpc ports.ChainRPC) ([]solwire.Instruction, error) {
	if err := requireProtocol(intent, domain.ConcentratedLiquidityAmm); err != nil {
		return nil, err
	}
	minOut, err := quoteConstantProduct(ctx, cache, rpc, intent, follower)
	if err != nil {
		return nil, err
	}
	tokenProgram := poolTokenProgram(ctx, cache, intent.PoolDescriptor)
	in, out := followerTokenAccounts(intent, follower, tokenProgram)
	accounts := nativeAccounts(intent.PoolDescriptor, follower, in, out, tokenProgram)
	accounts = append(accounts, extraAccountsInOrder(intent.PoolDescriptor, "tick_array_")...)

	ix := solwire.Instruction{
		ProgramID: domain.ProgramConcentratedLiquidityAmm,
		Accounts:  accounts,
		Data:      domain.EncodeConcentratedSwapV2(follower.ScaledInputAmount, minOut, 0, intent.Direction == domain.Sell),
	}
	return []solwire.Instruction{ix}, nil
}

// BuildLaunchpadCurve implements the launchpad exact-in buy/sell
// instructions, sharing one payload shape distinguished by discriminator.
// Launchpad curves are bonding-curve-shaped, not constant-product.
func BuildLaunchpadCurve(ctx context.Context, intent *model.SwapIntent, follower FollowerParams, cache *poolcache.Cache, rpc ports.ChainRPC) ([]solwire.Instruction, error) {
	if err := requireProtocol(intent, domain.LaunchpadCurve); err != nil {
		return nil, err
	}
	in, out := followerTokenAccounts(intent, follower, chainparams.TokenProgram)
	minOut := scaledMinOut(intent, follower)

	disc := domain.DiscLaunchpadBuyExactIn
	if intent.Direction == domain.Sell {
		disc = domain.DiscLaunchpadSellExactIn
	}

	ix := solwire.Instruction{
		ProgramID: domain.ProgramLaunchpadCurve,
		Accounts:  nativeAccounts(intent.PoolDescriptor, follower, in, out, chainparams.TokenProgram),
		Data:      domain.EncodeLaunchpadExactIn(disc, follower.ScaledInputAmount, minOut, 0),
	}
	return []solwire.Instruction{ix}, nil
}

// BuildBinLiquidityAmm implements the bin-liquidity (DLMM-style) swap.
// Like concentrated liquidity, a bin-crossing swap may need remaining
// bin-array accounts beyond the pool's fixed layout, and is quoted the
// same constant-product way.
func BuildBinLiquidityAmm(ctx context.Context, intent *model.SwapIntent, follower FollowerParams, cache *poolcache.Cache, rpc ports.ChainRPC) ([]solwire.Instruction, error) {
	if err := requireProtocol(intent, domain.BinLiquidityAmm); err != nil {
		return nil, err
	}
	minOut, err := quoteConstantProduct(ctx, cache, rpc, intent, follower)
	if err != nil {
		return nil, err
	}
	tokenProgram := poolTokenProgram(ctx, cache, intent.PoolDescriptor)
	in, out := followerTokenAccounts(intent, follower, tokenProgram)
	accounts := nativeAccounts(intent.PoolDescriptor, follower, in, out, tokenProgram)
	accounts = append(accounts, extraAccountsInOrder(intent.PoolDescriptor, "bin_array_")...)

	ix := solwire.Instruction{
		ProgramID: domain.ProgramBinLiquidityAmm,
		Accounts:  accounts,
		// Bin-liquidity AMMs share the CPMM-style amount_in/min_out payload
		// shape in this engine's supported instruction set.
		Data: domain.EncodeCPMMSwapBaseIn(follower.ScaledInputAmount, minOut),
	}
	return []solwire.Instruction{ix}, nil
}

// BuildDynamicBondingCurve implements the dynamic bonding curve swap,
// which shares the bonding-curve payload shape but its own program ID and
// account layout (curve parameters can change over the token's life).
func BuildDynamicBondingCurve(ctx context.Context, intent *model.SwapIntent, follower FollowerParams, cache *poolcache.Cache, rpc ports.ChainRPC) ([]solwire.Instruction, error) {
	if err := requireProtocol(intent, domain.DynamicBondingCurve); err != nil {
		return nil, err
	}
	in, out := followerTokenAccounts(intent, follower, chainparams.TokenProgram)
	minOut := scaledMinOut(intent, follower)

	var data []byte
	if intent.Direction == domain.Buy {
		data = domain.EncodeBondingCurveSwap(0, follower.ScaledInputAmount)
	} else {
		data = domain.EncodeBondingCurveSwap(follower.ScaledInputAmount, minOut)
	}

	ix := solwire.Instruction{
		ProgramID: domain.ProgramDynamicBondingCurve,
		Accounts:  nativeAccounts(intent.PoolDescriptor, follower, in, out, chainparams.TokenProgram),
		Data:      data,
	}
	return []solwire.Instruction{ix}, nil
}

// BuildDynamicCpAmm implements the dynamic constant-product pool swap
// (fee curve can change with volatility, unlike ConstantProductAmmV2's
// fixed fee), sharing the CPMM payload shape and selecting its token
// program per pool (spec §4.3: "classic or 2022 token program").
func BuildDynamicCpAmm(ctx context.Context, intent *model.SwapIntent, follower FollowerParams, cache *poolcache.Cache, rpc ports.ChainRPC) ([]solwire.Instruction, error) {
	if err := requireProtocol(intent, domain.DynamicCpAmm); err != nil {
		return nil, err
	}
	minOut, err := quoteConstantProduct(ctx, cache, rpc, intent, follower)
	if err != nil {
		return nil, err
	}
	tokenProgram := poolTokenProgram(ctx, cache, intent.PoolDescriptor)
	in, out := followerTokenAccounts(intent, follower, tokenProgram)
	ix := solwire.Instruction{
		ProgramID: domain.ProgramDynamicCpAmm,
		Accounts:  nativeAccounts(intent.PoolDescriptor, follower, in, out, tokenProgram),
		Data:      domain.EncodeCPMMSwapBaseIn(follower.ScaledInputAmount, minOut),
	}
	return []solwire.Instruction{ix}, nil
}

// extraAccountsInOrder returns desc.ExtraAccounts entries whose key has
// the given prefix, in ascending key order (prefix+"0", prefix+"1", ...),
// as writable, non-signer metas.
func extraAccountsInOrder(desc model.PoolDescriptor, prefix string) []solwire.AccountMeta {
	var out []solwire.AccountMeta
	for i := 0; ; i++ {
		key := fmt.Sprintf("%s%d", prefix, i)
		pk, ok := desc.ExtraAccounts[key]
		if !ok {
			break
		}
		out = append(out, solwire.AccountMeta{Pubkey: pk, IsSigner: false, IsWritable: true})
	}
	return out
}
