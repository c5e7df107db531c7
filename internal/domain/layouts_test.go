package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBondingCurveByteLayoutRoundTrip(t *testing.T) {
	// Seed scenario 1: buy, amount=0, bound=100_000_000.
	encoded := EncodeBondingCurveSwap(0, 100_000_000)
	require.Len(t, encoded, LenBondingCurveSwap)
	assert.Equal(t, DiscBondingCurveSwap[:], encoded[:8])

	amount, bound, err := DecodeBondingCurveSwap(encoded)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), amount)
	assert.Equal(t, uint64(100_000_000), bound)

	reEncoded := EncodeBondingCurveSwap(amount, bound)
	assert.Equal(t, encoded, reEncoded)
}

func TestConstantProductAmmByteLayoutRoundTrip(t *testing.T) {
	encoded := EncodeConstantProductAmmSwap(10_000_000_000, 123)
	require.Len(t, encoded, LenConstantProductAmm)
	assert.Equal(t, OpcodeConstantProductAmmSwapBaseIn, encoded[0])

	amountIn, minOut, err := DecodeConstantProductAmmSwap(encoded)
	require.NoError(t, err)
	assert.Equal(t, uint64(10_000_000_000), amountIn)
	assert.Equal(t, uint64(123), minOut)
	assert.Equal(t, encoded, EncodeConstantProductAmmSwap(amountIn, minOut))
}

func TestCPMMSwapBaseInByteLayoutRoundTrip(t *testing.T) {
	encoded := EncodeCPMMSwapBaseIn(555, 1)
	require.Len(t, encoded, LenCPMMSwapBaseIn)
	amountIn, minOut, err := DecodeCPMMSwapBaseIn(encoded)
	require.NoError(t, err)
	assert.Equal(t, uint64(555), amountIn)
	assert.Equal(t, uint64(1), minOut)
	assert.Equal(t, encoded, EncodeCPMMSwapBaseIn(amountIn, minOut))
}

func TestConcentratedSwapV2ByteLayoutRoundTrip(t *testing.T) {
	encoded := EncodeConcentratedSwapV2(1000, 1, 0, true)
	require.Len(t, encoded, LenConcentratedSwapV2)

	amount, threshold, sqrtLimit, isBaseInput, err := DecodeConcentratedSwapV2(encoded)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), amount)
	assert.Equal(t, uint64(1), threshold)
	assert.Equal(t, uint64(0), sqrtLimit)
	assert.True(t, isBaseInput)
	assert.Equal(t, encoded, EncodeConcentratedSwapV2(amount, threshold, sqrtLimit, isBaseInput))
}

func TestLaunchpadExactInByteLayoutRoundTrip(t *testing.T) {
	encoded := EncodeLaunchpadExactIn(DiscLaunchpadBuyExactIn, 100, 90, 0)
	require.Len(t, encoded, LenLaunchpadExactIn)

	disc, amountIn, minOut, shareFeeRate, err := DecodeLaunchpadExactIn(encoded)
	require.NoError(t, err)
	assert.Equal(t, DiscLaunchpadBuyExactIn, disc)
	assert.Equal(t, uint64(100), amountIn)
	assert.Equal(t, uint64(90), minOut)
	assert.Equal(t, uint64(0), shareFeeRate)
}

func TestProtocolIsNative(t *testing.T) {
	assert.True(t, BondingCurve.IsNative())
	assert.True(t, ConcentratedLiquidityAmm.IsNative())
	assert.False(t, RouterAggregator.IsNative())
	assert.False(t, ExternalAggregator.IsNative())
}
