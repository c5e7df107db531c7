package analyzer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copytrade/engine/internal/chainparams"
	"github.com/copytrade/engine/internal/domain"
	"github.com/copytrade/engine/internal/solwire"
)

func pk(b byte) solwire.Pubkey {
	var p solwire.Pubkey
	p[0] = b
	p[31] = b
	return p
}

func baseAccounts(programID solwire.Pubkey, n int) []solwire.Pubkey {
	accounts := make([]solwire.Pubkey, 0, n)
	for i := 0; i < n; i++ {
		accounts = append(accounts, pk(byte(i+10)))
	}
	return accounts
}

// buildTx assembles a minimal RawTransaction whose single outer instruction
// invokes programID against `accounts`, with token balance deltas for
// masterWallet moving `inAmt` of inMint out and `outAmt` of outMint in.
func buildTx(programID solwire.Pubkey, accounts []solwire.Pubkey, masterWallet, inMint, outMint solwire.Pubkey, inAmt, outAmt uint64) *solwire.RawTransaction {
	keys := append([]solwire.Pubkey{masterWallet, programID}, accounts...)
	ixAccounts := make([]uint8, len(accounts))
	for i := range accounts {
		ixAccounts[i] = uint8(i + 2)
	}

	msg := &solwire.Message{
		Header: solwire.MessageHeader{NumRequiredSignatures: 1, NumReadonlySignedAccounts: 0, NumReadonlyUnsignedAccounts: uint8(len(keys) - 1)},
		AccountKeys: keys,
		Instructions: []solwire.CompiledInstruction{
			{ProgramIDIndex: 1, Accounts: ixAccounts, Data: []byte{0}},
		},
	}

	return &solwire.RawTransaction{
		Slot:       1,
		BlockTime:  time.Now().Unix(),
		Signatures: []solwire.Signature{{1, 2, 3}},
		Message:    msg,
		PreTokenBalances: []solwire.TokenBalance{
			tokenBalance(0, inMint, masterWallet, inAmt),
			tokenBalance(2, outMint, masterWallet, 0),
		},
		PostTokenBalances: []solwire.TokenBalance{
			tokenBalance(0, inMint, masterWallet, 0),
			tokenBalance(2, outMint, masterWallet, outAmt),
		},
	}
}

func tokenBalance(idx int, mint, owner solwire.Pubkey, amount uint64) solwire.TokenBalance {
	tb := solwire.TokenBalance{AccountIndex: idx, Mint: mint.String(), Owner: owner.String()}
	tb.UITokenAmount.Amount = itoa(amount)
	tb.UITokenAmount.Decimals = 6
	return tb
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	digits := []byte{}
	for v > 0 {
		digits = append([]byte{byte('0' + v%10)}, digits...)
		v /= 10
	}
	return string(digits)
}

func TestAnalyzeRecognizesNativeProtocolSwap(t *testing.T) {
	master := pk(1)
	layout := domain.Layouts[domain.ConstantProductAmm]
	accounts := baseAccounts(domain.ProgramConstantProductAmm, layout.AccountCount)
	tx := buildTx(domain.ProgramConstantProductAmm, accounts, master, chainparams.WrappedSOL, pk(99), 1_000_000, 42_000)

	a := New(nil)
	intent, err := a.Analyze(tx)
	require.NoError(t, err)
	require.NotNil(t, intent)

	assert.Equal(t, domain.ConstantProductAmm, intent.Protocol)
	assert.Equal(t, domain.Buy, intent.Direction)
	assert.Equal(t, chainparams.WrappedSOL, intent.InputMint)
	assert.Equal(t, uint64(1_000_000), intent.MasterInputAmount)
	assert.Equal(t, uint64(42_000), intent.MasterOutputAmountObserved)
	assert.Equal(t, accounts[layout.PoolIdx], intent.PoolDescriptor.Pool)
	assert.False(t, intent.PoolDescriptor.IsEmpty())
}

func TestAnalyzeIgnoresUnknownProgramWithNoBalanceChange(t *testing.T) {
	master := pk(1)
	unknownProgram := pk(200)
	accounts := baseAccounts(unknownProgram, 4)
	tx := buildTx(unknownProgram, accounts, master, chainparams.WrappedSOL, pk(99), 0, 0)

	a := New(nil)
	intent, err := a.Analyze(tx)
	require.NoError(t, err)
	assert.Nil(t, intent)
}

func TestAnalyzeExternalAggregatorFallback(t *testing.T) {
	master := pk(1)
	unknownProgram := pk(201)
	accounts := baseAccounts(unknownProgram, 4)
	tx := buildTx(unknownProgram, accounts, master, chainparams.WrappedSOL, pk(77), 500_000, 10_000)

	a := New(nil)
	intent, err := a.Analyze(tx)
	require.NoError(t, err)
	require.NotNil(t, intent)
	assert.Equal(t, domain.ExternalAggregator, intent.Protocol)
}

func TestAnalyzeSameMintIsIgnored(t *testing.T) {
	master := pk(1)
	layout := domain.Layouts[domain.ConstantProductAmm]
	accounts := baseAccounts(domain.ProgramConstantProductAmm, layout.AccountCount)
	tx := buildTx(domain.ProgramConstantProductAmm, accounts, master, chainparams.WrappedSOL, chainparams.WrappedSOL, 1000, 900)

	a := New(nil)
	intent, err := a.Analyze(tx)
	require.NoError(t, err)
	assert.Nil(t, intent)
}

func TestAnalyzeIncompleteAccountsErrorsOnShortInstruction(t *testing.T) {
	master := pk(1)
	layout := domain.Layouts[domain.ConstantProductAmm]
	accounts := baseAccounts(domain.ProgramConstantProductAmm, layout.AccountCount-1)
	tx := buildTx(domain.ProgramConstantProductAmm, accounts, master, chainparams.WrappedSOL, pk(99), 1000, 900)

	a := New(nil)
	_, err := a.Analyze(tx)
	require.Error(t, err)
}
