package solwire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MessageHeader carries the signer/writable account counts from a compiled
// message, per the Solana wire format.
type MessageHeader struct {
	NumRequiredSignatures       uint8
	NumReadonlySignedAccounts   uint8
	NumReadonlyUnsignedAccounts uint8
}

// CompiledInstruction references accounts by index into the message's
// combined (static + address-table-resolved) account list.
type CompiledInstruction struct {
	ProgramIDIndex uint8
	Accounts       []uint8
	Data           []byte
}

// AddressTableLookup is one `address_table_lookups` entry of a v0 message:
// a lookup table account plus the indices into it that this transaction
// resolves as writable and as readonly.
type AddressTableLookup struct {
	AccountKey      Pubkey
	WritableIndexes []uint8
	ReadonlyIndexes []uint8
}

// Message is a decoded Solana transaction message (legacy or v0).
type Message struct {
	Header              MessageHeader
	AccountKeys         []Pubkey // static account keys only
	RecentBlockhash     [32]byte
	Instructions        []CompiledInstruction
	AddressTableLookups []AddressTableLookup
	IsVersioned         bool
}

// StaticAccountCount returns the number of accounts carried directly in the
// message (as opposed to resolved through an address-table lookup).
func (m *Message) StaticAccountCount() int {
	return len(m.AccountKeys)
}

// IsAccountSigner reports whether the account at the given *static* index
// must sign the transaction.
func (m *Message) IsAccountSigner(index int) bool {
	return index < int(m.Header.NumRequiredSignatures)
}

// IsAccountWritableStatic reports whether the static account at the given
// index is writable, per the three-region signer/readonly-signer/
// readonly-unsigned header layout.
func (m *Message) IsAccountWritableStatic(index int) bool {
	n := len(m.AccountKeys)
	numSigned := int(m.Header.NumRequiredSignatures)
	numReadonlySigned := int(m.Header.NumReadonlySignedAccounts)
	numReadonlyUnsigned := int(m.Header.NumReadonlyUnsignedAccounts)

	if index < numSigned {
		return index < numSigned-numReadonlySigned
	}
	unsignedIndex := index - numSigned
	numUnsigned := n - numSigned
	return unsignedIndex < numUnsigned-numReadonlyUnsigned
}

// ResolvedAccounts expands the message's static account keys with the
// provided address-table contents (already-fetched lookup table accounts,
// keyed by table address), producing the full per-index account list and
// writable flags used by instruction decoding. The writable entries of
// every table are appended first (in lookup order), then the readonly
// entries of every table, matching on-chain resolution order.
func (m *Message) ResolvedAccounts(tables map[Pubkey][]Pubkey) ([]Pubkey, []bool, error) {
	n := len(m.AccountKeys)
	accounts := make([]Pubkey, 0, n)
	writable := make([]bool, 0, n)

	for i, k := range m.AccountKeys {
		accounts = append(accounts, k)
		writable = append(writable, m.IsAccountWritableStatic(i))
	}

	for _, lut := range m.AddressTableLookups {
		table, ok := tables[lut.AccountKey]
		if !ok {
			return nil, nil, fmt.Errorf("%w: table %s not resolved", ErrMissingAddressTable, lut.AccountKey)
		}
		for _, idx := range lut.WritableIndexes {
			if int(idx) >= len(table) {
				return nil, nil, fmt.Errorf("%w: writable index %d out of range for table %s", ErrMissingAddressTable, idx, lut.AccountKey)
			}
			accounts = append(accounts, table[idx])
			writable = append(writable, true)
		}
	}
	for _, lut := range m.AddressTableLookups {
		table := tables[lut.AccountKey]
		for _, idx := range lut.ReadonlyIndexes {
			if int(idx) >= len(table) {
				return nil, nil, fmt.Errorf("%w: readonly index %d out of range for table %s", ErrMissingAddressTable, idx, lut.AccountKey)
			}
			accounts = append(accounts, table[idx])
			writable = append(writable, false)
		}
	}

	return accounts, writable, nil
}

// ErrMissingAddressTable is returned when a message references an
// address-table lookup whose contents were not supplied.
var ErrMissingAddressTable = errors.New("solwire: address table not resolved")

// ResolveAccount returns the public key for account index i, resolving
// through the static list or the expanded address-table region as
// documented by the byte-layout round-trip law in the spec: index < static
// length resolves from the static list, else from the table-expanded
// region in writable-then-readonly order.
func ResolveAccount(staticAccounts []Pubkey, tableExpanded []Pubkey, i int) (Pubkey, error) {
	if i < len(staticAccounts) {
		return staticAccounts[i], nil
	}
	j := i - len(staticAccounts)
	if j < len(tableExpanded) {
		return tableExpanded[j], nil
	}
	return Pubkey{}, fmt.Errorf("solwire: account index %d out of range (static=%d, table=%d)", i, len(staticAccounts), len(tableExpanded))
}

// DecodeAddressLookupTableData decodes the on-chain address lookup table
// account data per the format documented in the spec:
// [u32 count][u32 deactivation_slot][32-byte address x count] starting at
// offset 8 (the first 8 bytes are the account's discriminator/meta header,
// which this decoder skips).
func DecodeAddressLookupTableData(data []byte) ([]Pubkey, error) {
	const headerOffset = 8
	if len(data) < headerOffset+8 {
		return nil, fmt.Errorf("solwire: lookup table data too short (%d bytes)", len(data))
	}
	count := binary.LittleEndian.Uint32(data[headerOffset : headerOffset+4])
	// deactivation slot occupies the next 4 bytes of the documented layout;
	// not needed by this decoder beyond validating the buffer length.
	addrStart := headerOffset + 8
	need := addrStart + int(count)*PubkeyLen
	if len(data) < need {
		return nil, fmt.Errorf("solwire: lookup table data truncated: need %d bytes, have %d", need, len(data))
	}
	out := make([]Pubkey, count)
	for i := 0; i < int(count); i++ {
		var pk Pubkey
		copy(pk[:], data[addrStart+i*PubkeyLen:addrStart+(i+1)*PubkeyLen])
		out[i] = pk
	}
	return out, nil
}
