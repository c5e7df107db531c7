package solwire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindAndRewriteAmountField(t *testing.T) {
	// Scenario 4 of the spec's seed scenarios: master amount 10_000_000,
	// follower amount 2_500_000.
	data := append([]byte{0xAA, 0xBB}, LE64(10_000_000)...)
	data = append(data, 0xCC)

	offset, err := FindAmountField(data, 10_000_000)
	require.NoError(t, err)
	assert.Equal(t, 2, offset)

	rewritten, err := RewriteAmountField(data, offset, 2_500_000)
	require.NoError(t, err)

	want := append([]byte{0xAA, 0xBB}, LE64(2_500_000)...)
	want = append(want, 0xCC)
	assert.Equal(t, want, rewritten)

	// Everything outside the 8-byte window is untouched.
	assert.Equal(t, data[:2], rewritten[:2])
	assert.Equal(t, data[len(data)-1], rewritten[len(rewritten)-1])
}

func TestFindAmountFieldAmbiguous(t *testing.T) {
	needle := LE64(42)
	data := append(append([]byte{}, needle...), needle...)

	_, err := FindAmountField(data, 42)
	assert.ErrorIs(t, err, ErrAmbiguousAmountField)
}

func TestFindAmountFieldNotFound(t *testing.T) {
	data := LE64(1)
	_, err := FindAmountField(data, 2)
	assert.ErrorIs(t, err, ErrAmountFieldNotFound)
}

func TestLE64RoundTrip(t *testing.T) {
	for _, v := range []uint64{0, 1, 100_000_000, 1_000_000_000, 1<<64 - 1} {
		encoded := LE64(v)
		require.Len(t, encoded, 8)
		decoded, err := ReadLE64(encoded, 0)
		require.NoError(t, err)
		assert.Equal(t, v, decoded)
	}
}

func TestPubkeyBase58RoundTrip(t *testing.T) {
	const addr = "11111111111111111111111111111111" // system program
	pk, err := PubkeyFromBase58(addr)
	require.NoError(t, err)
	assert.Equal(t, addr, pk.String())
}
