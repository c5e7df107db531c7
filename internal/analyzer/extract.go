package analyzer

import (
	"fmt"
	"strconv"
	"time"

	"github.com/copytrade/engine/internal/chainparams"
	"github.com/copytrade/engine/internal/domain"
	"github.com/copytrade/engine/internal/model"
	"github.com/copytrade/engine/internal/solwire"
)

// tokenDelta is a mint's net balance change for one owner across the
// transaction, in raw token units.
type tokenDelta struct {
	mint  solwire.Pubkey
	delta int64 // post - pre, signed
}

// tokenDeltasForOwner computes per-mint balance deltas for owner from the
// transaction's pre/post token balance snapshots (spec §4.2 step 4: "diff
// pre/post token balances for the master wallet's owned accounts").
func tokenDeltasForOwner(tx *solwire.RawTransaction, owner solwire.Pubkey) []tokenDelta {
	pre := map[string]int64{}
	mints := map[string]solwire.Pubkey{}
	for _, tb := range tx.PreTokenBalances {
		if tb.Owner != owner.String() {
			continue
		}
		amt, err := strconv.ParseInt(tb.UITokenAmount.Amount, 10, 64)
		if err != nil {
			continue
		}
		pre[tb.Mint] += amt
		if mint, err := solwire.PubkeyFromBase58(tb.Mint); err == nil {
			mints[tb.Mint] = mint
		}
	}

	post := map[string]int64{}
	for _, tb := range tx.PostTokenBalances {
		if tb.Owner != owner.String() {
			continue
		}
		amt, err := strconv.ParseInt(tb.UITokenAmount.Amount, 10, 64)
		if err != nil {
			continue
		}
		post[tb.Mint] += amt
		if mint, err := solwire.PubkeyFromBase58(tb.Mint); err == nil {
			mints[tb.Mint] = mint
		}
	}

	var deltas []tokenDelta
	for mintStr, mint := range mints {
		d := post[mintStr] - pre[mintStr]
		if d != 0 {
			deltas = append(deltas, tokenDelta{mint: mint, delta: d})
		}
	}
	return deltas
}

// pickInOut picks the single negative-delta mint (spent) and single
// positive-delta mint (received) from a balance-delta set. Per §4.2's "no
// balance change => None" and the same-mint edge case, any shape other
// than exactly one negative and one positive is not a recognizable swap.
func pickInOut(deltas []tokenDelta) (inMint solwire.Pubkey, inAmt uint64, outMint solwire.Pubkey, outAmt uint64, ok bool) {
	var neg, pos []tokenDelta
	for _, d := range deltas {
		if d.delta < 0 {
			neg = append(neg, d)
		} else if d.delta > 0 {
			pos = append(pos, d)
		}
	}
	if len(neg) != 1 || len(pos) != 1 {
		return solwire.Pubkey{}, 0, solwire.Pubkey{}, 0, false
	}
	return neg[0].mint, uint64(-neg[0].delta), pos[0].mint, uint64(pos[0].delta), true
}

// directionFor reports Buy when the master spent the quote-side asset
// (wrapped SOL) for a base token, Sell otherwise. This mirrors how the
// builders key off Direction to pick the correct instruction variant.
func directionFor(inMint, outMint solwire.Pubkey) domain.Direction {
	if inMint == chainparams.WrappedSOL {
		return domain.Buy
	}
	return domain.Sell
}

// extract runs the protocol-specific extractor for a tie-broken candidate
// match and assembles a SwapIntent (spec §4.2 step 3-4).
func (a *Analyzer) extract(tx *solwire.RawTransaction, match candidateMatch, resolved []solwire.Pubkey, writable []bool) (*model.SwapIntent, error) {
	ixAccounts := make([]solwire.Pubkey, 0, len(match.instruction.Accounts))
	for _, idx := range match.instruction.Accounts {
		if int(idx) >= len(resolved) {
			return nil, fmt.Errorf("%w: instruction account index %d out of range", ErrIncompleteAccounts, idx)
		}
		ixAccounts = append(ixAccounts, resolved[int(idx)])
	}

	masterWallet := tx.Message.AccountKeys[0]
	deltas := tokenDeltasForOwner(tx, masterWallet)
	inMint, inAmt, outMint, outAmt, ok := pickInOut(deltas)
	if !ok {
		return nil, nil
	}

	pool, err := buildPoolDescriptor(match.protocol, ixAccounts)
	if err != nil {
		return nil, err
	}
	for _, lookup := range tx.Message.AddressTableLookups {
		pool.AddressTables = append(pool.AddressTables, lookup.AccountKey)
	}

	intent := &model.SwapIntent{
		MasterSignature:            tx.MasterSignature(),
		MasterWallet:               masterWallet,
		Direction:                  directionFor(inMint, outMint),
		InputMint:                  inMint,
		OutputMint:                 outMint,
		MasterInputAmount:          inAmt,
		MasterOutputAmountObserved: outAmt,
		Protocol:                   match.protocol,
		PoolDescriptor:             pool,
		OriginalTransaction:        tx,
		ObservedAt:                 time.Now(),
	}
	return intent, nil
}

// buildPoolDescriptor reads the protocol's known account-index slots out
// of the matched instruction's account list (spec §4.2 step 3).
func buildPoolDescriptor(protocol domain.Protocol, ixAccounts []solwire.Pubkey) (model.PoolDescriptor, error) {
	if protocol == domain.RouterAggregator {
		// The router clone builder resolves its own CPI account list; the
		// analyzer only needs to carry the invoked pool context, which for
		// an aggregator hop is the program's own routing account (first
		// writable-looking account by convention: index 0).
		if len(ixAccounts) == 0 {
			return model.PoolDescriptor{}, fmt.Errorf("%w: router instruction has no accounts", ErrIncompleteAccounts)
		}
		return model.PoolDescriptor{Protocol: protocol, Pool: ixAccounts[0]}, nil
	}

	layout, ok := domain.Layouts[protocol]
	if !ok {
		return model.PoolDescriptor{}, fmt.Errorf("analyzer: no account layout registered for protocol %s", protocol)
	}
	if len(ixAccounts) < layout.AccountCount {
		return model.PoolDescriptor{}, fmt.Errorf("%w: %s instruction has %d accounts, want >= %d",
			ErrIncompleteAccounts, protocol, len(ixAccounts), layout.AccountCount)
	}

	desc := model.PoolDescriptor{
		Protocol:   protocol,
		Pool:       ixAccounts[layout.PoolIdx],
		Authority:  ixAccounts[layout.AuthorityIdx],
		VaultBase:  ixAccounts[layout.VaultBaseIdx],
		VaultQuote: ixAccounts[layout.VaultQuoteIdx],
	}
	if layout.ConfigIdx >= 0 {
		desc.Config = ixAccounts[layout.ConfigIdx]
	}
	if layout.ObservationIdx >= 0 {
		desc.Observation = ixAccounts[layout.ObservationIdx]
	}
	if extra := ixAccounts[layout.AccountCount:]; len(extra) > 0 {
		desc.ExtraAccounts = extraAccountsByProtocol(protocol, extra)
	}
	return desc, nil
}

// extraAccountsByProtocol keys the remaining accounts (those beyond a
// protocol's fixed layout.AccountCount) the way each protocol's builder
// expects to find them: concentrated-liquidity swaps ride tick arrays,
// bin-liquidity swaps ride bin arrays, in the order the master's own
// transaction listed them.
func extraAccountsByProtocol(protocol domain.Protocol, extra []solwire.Pubkey) map[string]solwire.Pubkey {
	var prefix string
	switch protocol {
	case domain.ConcentratedLiquidityAmm:
		prefix = "tick_array_"
	case domain.BinLiquidityAmm:
		prefix = "bin_array_"
	default:
		prefix = "remaining_"
	}
	out := make(map[string]solwire.Pubkey, len(extra))
	for i, pk := range extra {
		out[fmt.Sprintf("%s%d", prefix, i)] = pk
	}
	return out
}
