package solwire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveAccountStaticAndTable(t *testing.T) {
	static := []Pubkey{MustPubkey("11111111111111111111111111111111"), MustPubkey("So11111111111111111111111111111111111111112")}
	table := []Pubkey{MustPubkey("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")}

	got, err := ResolveAccount(static, table, 0)
	require.NoError(t, err)
	assert.Equal(t, static[0], got)

	got, err = ResolveAccount(static, table, 2)
	require.NoError(t, err)
	assert.Equal(t, table[0], got)

	_, err = ResolveAccount(static, table, 5)
	assert.Error(t, err)
}

func TestDecodeAddressLookupTableData(t *testing.T) {
	a := MustPubkey("11111111111111111111111111111111")
	b := MustPubkey("So11111111111111111111111111111111111111112")

	data := make([]byte, 8) // meta header, ignored
	data = append(data, 2, 0, 0, 0) // count = 2
	data = append(data, 0, 0, 0, 0) // deactivation_slot
	data = append(data, a[:]...)
	data = append(data, b[:]...)

	addrs, err := DecodeAddressLookupTableData(data)
	require.NoError(t, err)
	require.Len(t, addrs, 2)
	assert.Equal(t, a, addrs[0])
	assert.Equal(t, b, addrs[1])
}

func TestMessageResolvedAccountsWritableFlags(t *testing.T) {
	m := &Message{
		Header: MessageHeader{
			NumRequiredSignatures:       1,
			NumReadonlySignedAccounts:   0,
			NumReadonlyUnsignedAccounts: 1,
		},
		AccountKeys: []Pubkey{
			MustPubkey("11111111111111111111111111111111"),    // signer, writable
			MustPubkey("So11111111111111111111111111111111111111112"), // unsigned, writable
			MustPubkey("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"),  // unsigned, readonly
		},
	}

	accounts, writable, err := m.ResolvedAccounts(nil)
	require.NoError(t, err)
	require.Len(t, accounts, 3)
	assert.True(t, writable[0])
	assert.True(t, writable[1])
	assert.False(t, writable[2])
}
