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

// AddressTableResolver resolves a message's address-table lookups, used
// by the router clone builder to reconstruct the CPI's true account list
// the same way the analyzer did when it first classified the intent.
type AddressTableResolver interface {
	ResolveTables(lookups []solwire.AddressTableLookup) (map[solwire.Pubkey][]solwire.Pubkey, error)
}

// ErrNoRouterInvocation is returned when the original transaction does
// not actually contain an invocation of the router program, which would
// mean the analyzer misclassified the intent.
var ErrNoRouterInvocation = fmt.Errorf("builders: no router invocation found in original transaction")

// routerResolver is package-level so BuildRouterClone can be registered
// with the plain Builder signature; Configure installs the resolver the
// executor's pool cache/chain RPC provide at startup.
var routerResolver AddressTableResolver

// ConfigureRouterResolver installs the address-table resolver the router
// clone builder needs. Must be called once during core wiring before any
// RouterAggregator intent reaches Build.
func ConfigureRouterResolver(r AddressTableResolver) {
	routerResolver = r
}

// BuildRouterClone implements the router/aggregator clone strategy of
// spec §4.3.1: locate the master's CPI into the router program, rebuild
// its account list, substitute the follower's wallet and token accounts
// for the master's, and rewrite the unique 8-byte little-endian amount
// field to the follower's scaled amount. It never guesses: an ambiguous
// or missing amount field fails the build rather than risk submitting a
// transaction with the wrong amount.
func BuildRouterClone(ctx context.Context, intent *model.SwapIntent, follower FollowerParams, cache *poolcache.Cache, rpc ports.ChainRPC) ([]solwire.Instruction, error) {
	if err := requireProtocol(intent, domain.RouterAggregator); err != nil {
		return nil, err
	}
	tx := intent.OriginalTransaction
	if tx == nil || tx.Message == nil {
		return nil, fmt.Errorf("builders: router clone requires the original transaction")
	}

	resolved, _, err := resolveMessageAccounts(tx)
	if err != nil {
		return nil, err
	}

	ci, err := findRouterInstruction(tx, resolved)
	if err != nil {
		return nil, err
	}

	in, out := followerTokenAccounts(intent, follower, chainparams.TokenProgram)

	accounts := make([]solwire.AccountMeta, 0, len(ci.Accounts))
	for _, idx := range ci.Accounts {
		if int(idx) >= len(resolved) {
			return nil, fmt.Errorf("builders: router instruction account index %d out of range", idx)
		}
		key := resolved[idx]
		isSigner := tx.Message.IsAccountSigner(int(idx))
		isWritable := int(idx) < len(resolved) && accountWritable(tx, resolved, int(idx))

		switch key {
		case intent.MasterWallet:
			key, isSigner, isWritable = follower.Wallet, true, true
		default:
			if masterATA, ok := masterTokenAccount(tx, key, intent.MasterWallet); ok {
				if masterATA == intent.InputMint {
					key = in
				} else if masterATA == intent.OutputMint {
					key = out
				}
			}
		}
		accounts = append(accounts, solwire.AccountMeta{Pubkey: key, IsSigner: isSigner, IsWritable: isWritable})
	}

	offset, err := solwire.FindAmountField(ci.Data, intent.MasterInputAmount)
	if err != nil {
		return nil, fmt.Errorf("builders: router clone amount field: %w", err)
	}
	newData, err := solwire.RewriteAmountField(ci.Data, offset, follower.ScaledInputAmount)
	if err != nil {
		return nil, err
	}

	ix := solwire.Instruction{
		ProgramID: resolved[ci.ProgramIDIndex],
		Accounts:  accounts,
		Data:      newData,
	}
	return []solwire.Instruction{ix}, nil
}

func resolveMessageAccounts(tx *solwire.RawTransaction) ([]solwire.Pubkey, []bool, error) {
	if len(tx.Message.AddressTableLookups) == 0 {
		accounts := make([]solwire.Pubkey, len(tx.Message.AccountKeys))
		writable := make([]bool, len(tx.Message.AccountKeys))
		for i, k := range tx.Message.AccountKeys {
			accounts[i] = k
			writable[i] = tx.Message.IsAccountWritableStatic(i)
		}
		return accounts, writable, nil
	}
	if routerResolver == nil {
		return nil, nil, fmt.Errorf("builders: router clone needs address-table lookups but no resolver is configured")
	}
	tables, err := routerResolver.ResolveTables(tx.Message.AddressTableLookups)
	if err != nil {
		return nil, nil, err
	}
	return tx.Message.ResolvedAccounts(tables)
}

// findRouterInstruction returns the outer instruction invoking the router
// program, preferring the outermost match (spec §4.3.1: "locate the CPI
// into the router program").
func findRouterInstruction(tx *solwire.RawTransaction, resolved []solwire.Pubkey) (solwire.CompiledInstruction, error) {
	for _, ci := range tx.Message.Instructions {
		if int(ci.ProgramIDIndex) < len(resolved) && resolved[ci.ProgramIDIndex] == domain.ProgramRouterAggregator {
			return ci, nil
		}
	}
	for _, group := range tx.InnerInstructions {
		for _, ci := range group.Instructions {
			if int(ci.ProgramIDIndex) < len(resolved) && resolved[ci.ProgramIDIndex] == domain.ProgramRouterAggregator {
				return ci, nil
			}
		}
	}
	return solwire.CompiledInstruction{}, ErrNoRouterInvocation
}

func accountWritable(tx *solwire.RawTransaction, resolved []solwire.Pubkey, idx int) bool {
	if idx < tx.Message.StaticAccountCount() {
		return tx.Message.IsAccountWritableStatic(idx)
	}
	// Address-table-resolved accounts: writable-then-readonly blocks were
	// already flattened by ResolvedAccounts; without re-deriving that
	// split here, treat any non-static account conservatively as
	// writable, matching the common case for a swap's vault/ATA accounts.
	return true
}

// masterTokenAccount reports whether candidate is one of the master
// wallet's own pre/post token balance accounts, returning the mint it
// holds so the caller can decide whether to substitute the follower's
// input or output ATA.
func masterTokenAccount(tx *solwire.RawTransaction, candidate, masterWallet solwire.Pubkey) (mint solwire.Pubkey, ok bool) {
	for _, tb := range tx.PreTokenBalances {
		if tb.Owner != masterWallet.String() {
			continue
		}
		if tb.AccountIndex < len(tx.Message.AccountKeys) && tx.Message.AccountKeys[tb.AccountIndex] == candidate {
			if m, err := solwire.PubkeyFromBase58(tb.Mint); err == nil {
				return m, true
			}
		}
	}
	return solwire.Pubkey{}, false
}

// AggregatorSwapRequest is what BuildExternalAggregatorFallback asks the
// configured AggregatorClient to quote and plan for: a fresh swap plan
// computed for the follower's own amount and wallet, not a copy of the
// master's transaction (spec §4.3's ExternalAggregator strategy).
type AggregatorSwapRequest struct {
	InputMint      solwire.Pubkey
	OutputMint     solwire.Pubkey
	FollowerAmount uint64
	FollowerWallet solwire.Pubkey
	SlippageBps    uint32
}

// AggregatorAccountMeta mirrors the per-account signer/writable flags an
// aggregator's swap-instructions response carries directly, rather than
// the bitmap of a compiled message header.
type AggregatorAccountMeta struct {
	Pubkey     solwire.Pubkey
	IsSigner   bool
	IsWritable bool
}

// AggregatorInstruction is one instruction of an aggregator's returned
// swap plan, already decoded (programId + ordered accounts + raw data).
type AggregatorInstruction struct {
	ProgramID solwire.Pubkey
	Accounts  []AggregatorAccountMeta
	Data      []byte
}

// AggregatorSwapPlan is the instruction sequence an aggregator wants
// executed for the requested swap: setup, swap and cleanup instructions,
// in order. Compute-budget instructions are not part of it.
type AggregatorSwapPlan struct {
	Instructions []AggregatorInstruction
}

// AggregatorClient requests a swap plan from an external aggregator
// (spec §4.3: "request a fresh swap plan... for (input_mint, output_mint,
// follower_amount, follower_key, slippage)").
type AggregatorClient interface {
	GetSwapInstructions(ctx context.Context, req AggregatorSwapRequest) (*AggregatorSwapPlan, error)
}

// aggregatorClient is package-level for the same reason routerResolver is:
// BuildExternalAggregatorFallback must keep the plain Builder signature to
// live in the Registry.
var aggregatorClient AggregatorClient

// ConfigureAggregatorClient installs the external aggregator client.
// Must be called once during core wiring before any ExternalAggregator
// intent reaches Build; until it is, the fallback fails closed.
func ConfigureAggregatorClient(c AggregatorClient) {
	aggregatorClient = c
}

// BuildExternalAggregatorFallback handles intents classified as
// ExternalAggregator: an unrecognized program produced a balance delta
// against the master wallet, so there's no instruction template to clone.
// Instead of byte-rewriting the master's instruction, it requests a fresh
// swap plan from the configured aggregator for the follower's own amount
// and wallet, and trusts the aggregator's own per-account signer/writable
// flags as authoritative (spec §9: reject unless the plan's signer set is
// exactly the follower's key -- an aggregator plan signed by anyone else
// cannot be submitted under the follower's signature alone).
func BuildExternalAggregatorFallback(ctx context.Context, intent *model.SwapIntent, follower FollowerParams, cache *poolcache.Cache, rpc ports.ChainRPC) ([]solwire.Instruction, error) {
	if err := requireProtocolNoPool(intent, domain.ExternalAggregator); err != nil {
		return nil, err
	}
	if aggregatorClient == nil {
		return nil, fmt.Errorf("%w: no aggregator client configured", ErrAggregatorUnavailable)
	}

	plan, err := aggregatorClient.GetSwapInstructions(ctx, AggregatorSwapRequest{
		InputMint:      intent.InputMint,
		OutputMint:     intent.OutputMint,
		FollowerAmount: follower.ScaledInputAmount,
		FollowerWallet: follower.Wallet,
		SlippageBps:    follower.SlippageBps,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrAggregatorUnavailable, err)
	}
	if len(plan.Instructions) == 0 {
		return nil, fmt.Errorf("%w: aggregator returned an empty swap plan", ErrAggregatorUnavailable)
	}

	instructions := make([]solwire.Instruction, 0, len(plan.Instructions))
	for _, ai := range plan.Instructions {
		signers := 0
		for _, acc := range ai.Accounts {
			if acc.IsSigner {
				signers++
				if acc.Pubkey != follower.Wallet {
					return nil, fmt.Errorf("%w: aggregator plan requires a signer other than the follower wallet", ErrAggregatorUnavailable)
				}
			}
		}
		if signers > 1 {
			return nil, fmt.Errorf("%w: aggregator plan requires more than one signer", ErrAggregatorUnavailable)
		}

		accounts := make([]solwire.AccountMeta, len(ai.Accounts))
		for i, acc := range ai.Accounts {
			accounts[i] = solwire.AccountMeta{Pubkey: acc.Pubkey, IsSigner: acc.IsSigner, IsWritable: acc.IsWritable}
		}
		instructions = append(instructions, solwire.Instruction{
			ProgramID: ai.ProgramID,
			Accounts:  accounts,
			Data:      ai.Data,
		})
	}
	return instructions, nil
}

// requireProtocolNoPool is requireProtocol without the pool-descriptor
// check: ExternalAggregator intents never carry one, since the analyzer
// can't derive protocol-specific pool layout for an unrecognized program.
func requireProtocolNoPool(intent *model.SwapIntent, want domain.Protocol) error {
	if intent.Protocol != want {
		return fmt.Errorf("builders: %s builder received a %s intent", want, intent.Protocol)
	}
	return nil
}
