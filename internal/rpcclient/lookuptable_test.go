package rpcclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeLookupTableAddresses(t *testing.T) {
	header := make([]byte, addressLookupTableHeaderLen)
	var a, b [32]byte
	a[0] = 1
	b[0] = 2
	data := append(append([]byte{}, header...), append(a[:], b[:]...)...)

	addrs, err := decodeLookupTableAddresses(data)
	require.NoError(t, err)
	require.Len(t, addrs, 2)
	assert.Equal(t, byte(1), addrs[0][0])
	assert.Equal(t, byte(2), addrs[1][0])
}

func TestDecodeLookupTableAddressesRejectsShortData(t *testing.T) {
	_, err := decodeLookupTableAddresses([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestDecodeLookupTableAddressesRejectsMisalignedBody(t *testing.T) {
	header := make([]byte, addressLookupTableHeaderLen)
	data := append(header, []byte{1, 2, 3}...)
	_, err := decodeLookupTableAddresses(data)
	assert.Error(t, err)
}
