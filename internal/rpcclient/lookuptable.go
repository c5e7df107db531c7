package rpcclient

import (
	"context"
	"fmt"

	"github.com/copytrade/engine/internal/chainparams"
	"github.com/copytrade/engine/internal/solwire"
)

// addressLookupTableHeaderLen is the fixed-size prefix of an on-chain
// Address Lookup Table account before its flat array of 32-byte
// addresses begins: a u32 account-type discriminator, two u64 slots
// (deactivation_slot, last_extended_slot), a u8 last-extended-slot start
// index, a 1-byte option tag plus 32-byte authority pubkey, and 2 bytes
// of padding to align the address array to an 8-byte boundary.
const addressLookupTableHeaderLen = 4 + 8 + 8 + 1 + 1 + 32 + 2

// TableResolver resolves a message's address-table lookups by fetching
// each referenced lookup table account via Chain RPC and decoding its
// address array, satisfying both analyzer.AddressTableResolver and
// builders.AddressTableResolver (identical single-method shape).
type TableResolver struct {
	client *Client
}

// NewTableResolver constructs a TableResolver over an existing Client.
func NewTableResolver(client *Client) *TableResolver {
	return &TableResolver{client: client}
}

// ResolveTables fetches and decodes every lookup table referenced by
// lookups, returning the full address array for each (not just the
// indexes this message happens to use) so Message.ResolvedAccounts can
// index into it directly.
func (r *TableResolver) ResolveTables(lookups []solwire.AddressTableLookup) (map[solwire.Pubkey][]solwire.Pubkey, error) {
	if len(lookups) == 0 {
		return nil, nil
	}

	keys := make([]solwire.Pubkey, len(lookups))
	for i, lut := range lookups {
		keys[i] = lut.AccountKey
	}

	infos, err := r.client.GetAccountInfos(context.Background(), keys, chainparams.CommitmentConfirmed)
	if err != nil {
		return nil, fmt.Errorf("rpcclient: fetch address lookup tables: %w", err)
	}

	out := make(map[solwire.Pubkey][]solwire.Pubkey, len(lookups))
	for i, info := range infos {
		if info == nil {
			return nil, fmt.Errorf("rpcclient: address lookup table %s not found", keys[i])
		}
		addrs, err := decodeLookupTableAddresses(info.Data)
		if err != nil {
			return nil, fmt.Errorf("rpcclient: decode address lookup table %s: %w", keys[i], err)
		}
		out[keys[i]] = addrs
	}
	return out, nil
}

func decodeLookupTableAddresses(data []byte) ([]solwire.Pubkey, error) {
	if len(data) < addressLookupTableHeaderLen {
		return nil, fmt.Errorf("account data too short for a lookup table header (%d bytes)", len(data))
	}
	body := data[addressLookupTableHeaderLen:]
	if len(body)%32 != 0 {
		return nil, fmt.Errorf("lookup table address array is not a multiple of 32 bytes (%d)", len(body))
	}

	count := len(body) / 32
	addrs := make([]solwire.Pubkey, count)
	for i := 0; i < count; i++ {
		copy(addrs[i][:], body[i*32:(i+1)*32])
	}
	return addrs, nil
}
