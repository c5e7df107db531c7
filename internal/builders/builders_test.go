package builders

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copytrade/engine/internal/chainparams"
	"github.com/copytrade/engine/internal/domain"
	"github.com/copytrade/engine/internal/model"
	"github.com/copytrade/engine/internal/poolcache"
	"github.com/copytrade/engine/internal/ports"
	"github.com/copytrade/engine/internal/solwire"
)

func pk(b byte) solwire.Pubkey {
	var p solwire.Pubkey
	p[0] = b
	p[31] = b
	return p
}

func baseIntent(protocol domain.Protocol, direction domain.Direction) *model.SwapIntent {
	return &model.SwapIntent{
		MasterSignature:            solwire.Signature{9},
		MasterWallet:               pk(1),
		Direction:                  direction,
		InputMint:                  chainparams.WrappedSOL,
		OutputMint:                 pk(55),
		MasterInputAmount:          1_000_000,
		MasterOutputAmountObserved: 500_000,
		Protocol:                   protocol,
		PoolDescriptor: model.PoolDescriptor{
			Protocol:   protocol,
			Pool:       pk(2),
			Authority:  pk(3),
			Config:     pk(4),
			VaultBase:  pk(5),
			VaultQuote: pk(6),
		},
	}
}

// fakeVaultRPC answers GetAccountInfos with two SPL-Token-owned vault
// accounts holding the given base/quote reserves, the minimum ports.ChainRPC
// a constant-product builder's quote path touches.
type fakeVaultRPC struct {
	reserveBase, reserveQuote uint64
	tokenProgram              solwire.Pubkey
	calls                     int
}

func (f *fakeVaultRPC) GetAccountInfos(ctx context.Context, pubkeys []solwire.Pubkey, commitment chainparams.Commitment) ([]*ports.AccountInfo, error) {
	f.calls++
	tokenProgram := f.tokenProgram
	if tokenProgram.IsZero() {
		tokenProgram = chainparams.TokenProgram
	}
	base := make([]byte, 72)
	binary.LittleEndian.PutUint64(base[64:], f.reserveBase)
	quote := make([]byte, 72)
	binary.LittleEndian.PutUint64(quote[64:], f.reserveQuote)
	return []*ports.AccountInfo{
		{Owner: tokenProgram, Data: base},
		{Owner: tokenProgram, Data: quote},
	}, nil
}
func (f *fakeVaultRPC) GetLatestBlockhash(ctx context.Context, commitment chainparams.Commitment) ([32]byte, uint64, error) {
	return [32]byte{}, 0, nil
}
func (f *fakeVaultRPC) SimulateTransaction(ctx context.Context, txBytes []byte) (*ports.SimulationResult, error) {
	return nil, nil
}
func (f *fakeVaultRPC) SendTransaction(ctx context.Context, txBytes []byte, opts ports.SendOptions) (solwire.Signature, error) {
	return solwire.Signature{}, nil
}
func (f *fakeVaultRPC) ConfirmSignature(ctx context.Context, sig solwire.Signature, commitment chainparams.Commitment, timeout time.Duration) (ports.ConfirmStatus, error) {
	return ports.ConfirmConfirmed, nil
}
func (f *fakeVaultRPC) GetTransaction(ctx context.Context, sig solwire.Signature) (*solwire.RawTransaction, error) {
	return nil, nil
}

func newCache(t *testing.T) *poolcache.Cache {
	t.Helper()
	c, err := poolcache.New(poolcache.DefaultConfig())
	require.NoError(t, err)
	return c
}

func TestBuildBondingCurveBuyUsesMaxCostSemantics(t *testing.T) {
	intent := baseIntent(domain.BondingCurve, domain.Buy)
	follower := FollowerParams{Wallet: pk(20), ScaledInputAmount: 250_000, SlippageBps: 100}

	instrs, err := Build(context.Background(), intent, follower, nil, nil)
	require.NoError(t, err)
	require.Len(t, instrs, 1)

	ix := instrs[0]
	assert.Equal(t, domain.ProgramBondingCurve, ix.ProgramID)
	amountOrZero, bound, err := domain.DecodeBondingCurveSwap(ix.Data)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), amountOrZero)
	assert.Equal(t, follower.ScaledInputAmount, bound)

	var signerCount int
	for _, a := range ix.Accounts {
		if a.Pubkey == follower.Wallet {
			assert.True(t, a.IsSigner)
			signerCount++
		}
	}
	assert.Equal(t, 1, signerCount)
}

func TestBuildBondingCurveSellUsesExactAmountAndMinOut(t *testing.T) {
	intent := baseIntent(domain.BondingCurve, domain.Sell)
	follower := FollowerParams{Wallet: pk(20), ScaledInputAmount: 250_000, SlippageBps: 500}

	instrs, err := Build(context.Background(), intent, follower, nil, nil)
	require.NoError(t, err)
	amount, bound, err := domain.DecodeBondingCurveSwap(instrs[0].Data)
	require.NoError(t, err)
	assert.Equal(t, follower.ScaledInputAmount, amount)
	assert.Less(t, bound, intent.MasterOutputAmountObserved)
}

// TestBuildConstantProductAmmQuotesFromLiveReserves locks in the
// documented formula: out = (reserve_out * in) / (reserve_in + in), minus
// the pool's fee tier, then slippage -- reserves and fee chosen to match
// the 10^12/5*10^11 base/quote, 25 bps fee scenario.
func TestBuildConstantProductAmmQuotesFromLiveReserves(t *testing.T) {
	intent := baseIntent(domain.ConstantProductAmm, domain.Buy)
	intent.PoolDescriptor.Config = solwire.Pubkey{} // no config account on this descriptor; the quote does not read it
	follower := FollowerParams{Wallet: pk(21), ScaledInputAmount: 1_000_000_000, SlippageBps: 100}

	rpc := &fakeVaultRPC{reserveBase: 1_000_000_000_000, reserveQuote: 500_000_000_000}
	cache := newCache(t)

	instrs, err := Build(context.Background(), intent, follower, cache, rpc)
	require.NoError(t, err)
	amountIn, minOut, err := domain.DecodeConstantProductAmmSwap(instrs[0].Data)
	require.NoError(t, err)
	assert.Equal(t, follower.ScaledInputAmount, amountIn)

	wantGross := rpc.reserveBase * follower.ScaledInputAmount / (rpc.reserveQuote + follower.ScaledInputAmount)
	wantAfterFee := wantGross * uint64(domain.BpsDenominator-domain.DefaultConstantProductAmmFee.TotalBps()) / domain.BpsDenominator
	wantMinOut := wantAfterFee * uint64(domain.BpsDenominator-follower.SlippageBps) / domain.BpsDenominator
	assert.Equal(t, wantMinOut, minOut)
}

func TestBuildConstantProductAmmFailsWhenPoolStateUnavailable(t *testing.T) {
	intent := baseIntent(domain.ConstantProductAmm, domain.Buy)
	follower := FollowerParams{Wallet: pk(21), ScaledInputAmount: 1_000_000_000, SlippageBps: 100}

	_, err := Build(context.Background(), intent, follower, nil, nil)
	require.ErrorIs(t, err, ErrPoolStateUnavailable)
}

func TestBuildDynamicCpAmmSelectsToken2022WhenVaultOwnedByIt(t *testing.T) {
	intent := baseIntent(domain.DynamicCpAmm, domain.Buy)
	intent.PoolDescriptor.Config = pk(4)
	follower := FollowerParams{Wallet: pk(22), ScaledInputAmount: 1_000_000, SlippageBps: 0}

	rpc := &fakeVaultRPC{reserveBase: 1_000_000_000, reserveQuote: 1_000_000_000, tokenProgram: chainparams.Token2022Program}
	cache := newCache(t)

	instrs, err := Build(context.Background(), intent, follower, cache, rpc)
	require.NoError(t, err)
	ix := instrs[0]
	var sawToken2022 bool
	for _, a := range ix.Accounts {
		if a.Pubkey == chainparams.Token2022Program {
			sawToken2022 = true
		}
	}
	assert.True(t, sawToken2022, "dynamic cp-amm should use the vault's own token program, not the hardcoded classic one")
}

func TestBuildConcentratedLiquidityAmmAppendsExtraAccountsInOrder(t *testing.T) {
	intent := baseIntent(domain.ConcentratedLiquidityAmm, domain.Buy)
	intent.PoolDescriptor.Observation = pk(7)
	intent.PoolDescriptor.ExtraAccounts = map[string]solwire.Pubkey{
		"tick_array_0": pk(70),
		"tick_array_1": pk(71),
	}
	follower := FollowerParams{Wallet: pk(23), ScaledInputAmount: 1_000_000, SlippageBps: 0}

	rpc := &fakeVaultRPC{reserveBase: 1_000_000_000, reserveQuote: 1_000_000_000}
	cache := newCache(t)

	instrs, err := Build(context.Background(), intent, follower, cache, rpc)
	require.NoError(t, err)
	accounts := instrs[0].Accounts
	// authority, config, pool, vault_base, vault_quote, observation, wallet,
	// in-ATA, out-ATA, token program: 10 fixed accounts, then the 2 extras.
	require.Len(t, accounts, 10+2)
	assert.Equal(t, pk(70), accounts[10].Pubkey)
	assert.Equal(t, pk(71), accounts[11].Pubkey)
	assert.True(t, accounts[10].IsWritable)
	assert.True(t, accounts[11].IsWritable)
}

func TestBuildRouterCloneRewritesOnlyTheAmount(t *testing.T) {
	master := pk(1)
	programID := domain.ProgramRouterAggregator
	keys := []solwire.Pubkey{master, programID, pk(30), pk(31)}

	origData := append(append([]byte{0xAA, 0xBB}, solwire.LE64(1_000_000)...), 0xFF)

	msg := &solwire.Message{
		Header: solwire.MessageHeader{NumRequiredSignatures: 1, NumReadonlyUnsignedAccounts: 3},
		AccountKeys: keys,
		Instructions: []solwire.CompiledInstruction{
			{ProgramIDIndex: 1, Accounts: []uint8{0, 2, 3}, Data: origData},
		},
	}
	tx := &solwire.RawTransaction{
		Message:    msg,
		Signatures: []solwire.Signature{{1}},
		PreTokenBalances: []solwire.TokenBalance{
			{AccountIndex: 2, Mint: chainparams.WrappedSOL.String(), Owner: master.String()},
		},
	}

	intent := baseIntent(domain.RouterAggregator, domain.Buy)
	intent.MasterWallet = master
	intent.OriginalTransaction = tx
	intent.PoolDescriptor = model.PoolDescriptor{Protocol: domain.RouterAggregator, Pool: keys[2]}

	follower := FollowerParams{Wallet: pk(40), ScaledInputAmount: 321_000, SlippageBps: 0}

	instrs, err := Build(context.Background(), intent, follower, nil, nil)
	require.NoError(t, err)
	require.Len(t, instrs, 1)
	ix := instrs[0]

	assert.Equal(t, programID, ix.ProgramID)
	// Everything except the rewritten amount field must be byte-identical.
	assert.Equal(t, origData[:2], ix.Data[:2])
	assert.Equal(t, origData[len(origData)-1], ix.Data[len(ix.Data)-1])
	rewritten, err := solwire.ReadLE64(ix.Data, 2)
	require.NoError(t, err)
	assert.Equal(t, follower.ScaledInputAmount, rewritten)

	var sawFollowerSigner bool
	for _, a := range ix.Accounts {
		if a.Pubkey == follower.Wallet && a.IsSigner {
			sawFollowerSigner = true
		}
		assert.NotEqual(t, master, a.Pubkey, "master wallet must not appear in the cloned instruction")
	}
	assert.True(t, sawFollowerSigner)
}

func TestBuildRouterCloneFailsOnAmbiguousAmount(t *testing.T) {
	master := pk(1)
	programID := domain.ProgramRouterAggregator
	keys := []solwire.Pubkey{master, programID, pk(30)}

	amountBytes := solwire.LE64(1_000_000)
	dupData := append(append([]byte{}, amountBytes...), amountBytes...)

	msg := &solwire.Message{
		Header:      solwire.MessageHeader{NumRequiredSignatures: 1, NumReadonlyUnsignedAccounts: 2},
		AccountKeys: keys,
		Instructions: []solwire.CompiledInstruction{
			{ProgramIDIndex: 1, Accounts: []uint8{0, 2}, Data: dupData},
		},
	}
	tx := &solwire.RawTransaction{Message: msg, Signatures: []solwire.Signature{{1}}}

	intent := baseIntent(domain.RouterAggregator, domain.Buy)
	intent.MasterWallet = master
	intent.OriginalTransaction = tx
	intent.PoolDescriptor = model.PoolDescriptor{Protocol: domain.RouterAggregator, Pool: keys[2]}

	follower := FollowerParams{Wallet: pk(40), ScaledInputAmount: 321_000}
	_, err := Build(context.Background(), intent, follower, nil, nil)
	require.ErrorIs(t, err, solwire.ErrAmbiguousAmountField)
}

type fakeAggregatorClient struct {
	plan *AggregatorSwapPlan
	err  error
}

func (f *fakeAggregatorClient) GetSwapInstructions(ctx context.Context, req AggregatorSwapRequest) (*AggregatorSwapPlan, error) {
	return f.plan, f.err
}

func TestBuildExternalAggregatorFallbackFailsClosedWithNoClientConfigured(t *testing.T) {
	ConfigureAggregatorClient(nil)
	intent := baseIntent(domain.ExternalAggregator, domain.Buy)
	_, err := Build(context.Background(), intent, FollowerParams{Wallet: pk(40), ScaledInputAmount: 1}, nil, nil)
	require.ErrorIs(t, err, ErrAggregatorUnavailable)
}

func TestBuildExternalAggregatorFallbackBuildsFromAggregatorPlan(t *testing.T) {
	follower := FollowerParams{Wallet: pk(41), ScaledInputAmount: 5_000, SlippageBps: 50}
	ConfigureAggregatorClient(&fakeAggregatorClient{
		plan: &AggregatorSwapPlan{
			Instructions: []AggregatorInstruction{
				{
					ProgramID: pk(90),
					Accounts: []AggregatorAccountMeta{
						{Pubkey: follower.Wallet, IsSigner: true, IsWritable: true},
						{Pubkey: pk(91), IsSigner: false, IsWritable: true},
					},
					Data: []byte{1, 2, 3},
				},
			},
		},
	})
	t.Cleanup(func() { ConfigureAggregatorClient(nil) })

	intent := baseIntent(domain.ExternalAggregator, domain.Buy)
	instrs, err := Build(context.Background(), intent, follower, nil, nil)
	require.NoError(t, err)
	require.Len(t, instrs, 1)
	assert.Equal(t, pk(90), instrs[0].ProgramID)
	assert.Equal(t, []byte{1, 2, 3}, instrs[0].Data)
}

func TestBuildExternalAggregatorFallbackRejectsForeignSigner(t *testing.T) {
	follower := FollowerParams{Wallet: pk(41), ScaledInputAmount: 5_000}
	ConfigureAggregatorClient(&fakeAggregatorClient{
		plan: &AggregatorSwapPlan{
			Instructions: []AggregatorInstruction{
				{
					ProgramID: pk(90),
					Accounts: []AggregatorAccountMeta{
						{Pubkey: pk(99), IsSigner: true, IsWritable: true},
					},
				},
			},
		},
	})
	t.Cleanup(func() { ConfigureAggregatorClient(nil) })

	intent := baseIntent(domain.ExternalAggregator, domain.Buy)
	_, err := Build(context.Background(), intent, follower, nil, nil)
	require.ErrorIs(t, err, ErrAggregatorUnavailable)
}
