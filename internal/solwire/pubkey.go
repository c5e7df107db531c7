// Package solwire implements the wire-level primitives of the Solana
// transaction format: public keys, compiled messages, address-table
// lookups, and versioned transactions. It has no knowledge of any DEX
// protocol; protocol-specific account layouts live in internal/domain and
// internal/builders.
package solwire

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

// PubkeyLen is the length of a Solana public key in bytes.
const PubkeyLen = 32

// SignatureLen is the length of an Ed25519 signature in bytes.
const SignatureLen = 64

// Pubkey is a 32-byte Solana account address.
type Pubkey [PubkeyLen]byte

// ZeroPubkey is the all-zero key, used as a sentinel for "not set".
var ZeroPubkey = Pubkey{}

// PubkeyFromBase58 decodes a base58-encoded Solana address.
func PubkeyFromBase58(s string) (Pubkey, error) {
	var pk Pubkey
	b, err := base58.Decode(s)
	if err != nil {
		return pk, fmt.Errorf("decode pubkey %q: %w", s, err)
	}
	if len(b) != PubkeyLen {
		return pk, fmt.Errorf("decode pubkey %q: expected %d bytes, got %d", s, PubkeyLen, len(b))
	}
	copy(pk[:], b)
	return pk, nil
}

// MustPubkey decodes a base58 address and panics on error. Reserved for
// well-known constants initialized at package load time.
func MustPubkey(s string) Pubkey {
	pk, err := PubkeyFromBase58(s)
	if err != nil {
		panic(err)
	}
	return pk
}

// String returns the base58 encoding of the key.
func (p Pubkey) String() string {
	return base58.Encode(p[:])
}

// IsZero reports whether the key is the all-zero sentinel.
func (p Pubkey) IsZero() bool {
	return p == ZeroPubkey
}

// Bytes returns the key as a byte slice (copy).
func (p Pubkey) Bytes() []byte {
	b := make([]byte, PubkeyLen)
	copy(b, p[:])
	return b
}

// MarshalJSON encodes the key as its base58 string.
func (p Pubkey) MarshalJSON() ([]byte, error) {
	return []byte(`"` + p.String() + `"`), nil
}

// UnmarshalJSON decodes a base58 string into the key.
func (p *Pubkey) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return errors.New("pubkey: not a JSON string")
	}
	decoded, err := PubkeyFromBase58(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*p = decoded
	return nil
}

// Signature is a 64-byte Ed25519 signature over a transaction message.
type Signature [SignatureLen]byte

// SignatureFromBase58 decodes a base58-encoded signature.
func SignatureFromBase58(s string) (Signature, error) {
	var sig Signature
	b, err := base58.Decode(s)
	if err != nil {
		return sig, fmt.Errorf("decode signature %q: %w", s, err)
	}
	if len(b) != SignatureLen {
		return sig, fmt.Errorf("decode signature %q: expected %d bytes, got %d", s, SignatureLen, len(b))
	}
	copy(sig[:], b)
	return sig, nil
}

func (s Signature) String() string {
	return base58.Encode(s[:])
}

func (s Signature) IsZero() bool {
	var zero Signature
	return s == zero
}

// DecodeBase64 is a small wrapper kept here because every wire decoder in
// this package needs it and it otherwise would be imported ad hoc.
func DecodeBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

// DerivePDA derives a program-derived address by hashing the seeds and
// program ID together. This is a simplified stand-in for Solana's
// find_program_address (which additionally searches bump seeds to land
// off the Ed25519 curve); builders only use derived addresses to locate
// deterministic per-owner token accounts, never to sign with them, so the
// off-curve guarantee is not required here.
func DerivePDA(programID Pubkey, seeds ...[]byte) Pubkey {
	h := sha256.New()
	for _, s := range seeds {
		h.Write(s)
	}
	h.Write(programID[:])
	sum := h.Sum(nil)
	var pk Pubkey
	copy(pk[:], sum[:PubkeyLen])
	return pk
}

// DeriveAssociatedTokenAccount derives the deterministic token account
// address for (owner, mint) under the associated-token-account program,
// via DerivePDA.
func DeriveAssociatedTokenAccount(ataProgram, tokenProgram, owner, mint Pubkey) Pubkey {
	return DerivePDA(ataProgram, owner[:], tokenProgram[:], mint[:])
}
