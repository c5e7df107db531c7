package solwire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/copytrade/engine/pkg/helpers"
)

// AccountMeta describes one account reference inside an uncompiled
// instruction: its key plus the signer/writable flags the runtime needs
// when compiling the instruction into a message.
type AccountMeta struct {
	Pubkey     Pubkey
	IsSigner   bool
	IsWritable bool
}

// Instruction is a program invocation with its full account metadata,
// the form every protocol builder in internal/builders returns. It is
// deliberately distinct from CompiledInstruction (which references
// accounts by index into an already-known message) since builders are
// not compiling a message themselves -- the executor does that once all
// per-follower instructions have been assembled.
type Instruction struct {
	ProgramID Pubkey
	Accounts  []AccountMeta
	Data      []byte
}

// LE64 encodes a u64 as 8 little-endian bytes.
func LE64(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

// ReadLE64 decodes a u64 from 8 little-endian bytes at the given offset.
func ReadLE64(data []byte, offset int) (uint64, error) {
	if offset < 0 || offset+8 > len(data) {
		return 0, fmt.Errorf("solwire: LE64 read out of range (offset=%d, len=%d)", offset, len(data))
	}
	return binary.LittleEndian.Uint64(data[offset : offset+8]), nil
}

// ErrAmountFieldNotFound is returned by FindAmountField when the target
// byte pattern does not occur in the instruction data.
var ErrAmountFieldNotFound = errors.New("solwire: amount field not found")

// ErrAmbiguousAmountField is returned by FindAmountField when the target
// byte pattern occurs more than once, per the spec's "require a unique
// match" resolution of the source's position-free, first-match search.
var ErrAmbiguousAmountField = errors.New("solwire: amount field match is ambiguous")

// FindAmountField locates the unique offset at which `amount` appears as
// an 8-byte little-endian unsigned integer inside `data`. It returns
// ErrAmountFieldNotFound if no occurrence exists and ErrAmbiguousAmountField
// if more than one does -- the router-clone builder must never guess.
func FindAmountField(data []byte, amount uint64) (int, error) {
	needle := LE64(amount)
	found := -1
	for i := 0; i+8 <= len(data); i++ {
		if helpers.BytesEqual(data[i:i+8], needle) {
			if found != -1 {
				return -1, ErrAmbiguousAmountField
			}
			found = i
		}
	}
	if found == -1 {
		return -1, ErrAmountFieldNotFound
	}
	return found, nil
}

// RewriteAmountField returns a copy of data with the 8 bytes at offset
// replaced by the little-endian encoding of newAmount. The caller is
// expected to have located offset via FindAmountField.
func RewriteAmountField(data []byte, offset int, newAmount uint64) ([]byte, error) {
	if offset < 0 || offset+8 > len(data) {
		return nil, fmt.Errorf("solwire: rewrite offset %d out of range (len=%d)", offset, len(data))
	}
	out := make([]byte, len(data))
	copy(out, data)
	copy(out[offset:offset+8], LE64(newAmount))
	return out, nil
}
