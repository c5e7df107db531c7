// Package signer implements ports.SigningOracle. The production path
// (RemoteOracle) never touches private key material: it forwards a
// canonical message to an external signing service over HTTP and trusts
// only the returned 64-byte signature, mirroring the Signing Oracle
// boundary of spec §6. A DevFixture is provided for local runs and tests,
// deriving an Ed25519 key the way the teacher's internal/wallet derives
// BIP39/BIP44 keys -- seed-based, no network calls.
package signer

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"filippo.io/edwards25519"
	"github.com/tyler-smith/go-bip39"

	"github.com/copytrade/engine/internal/ports"
	"github.com/copytrade/engine/internal/solwire"
)

// RemoteOracle calls out to an external signing service over HTTP. The
// service owns key custody; this client only ever sees the resulting
// signature.
type RemoteOracle struct {
	url        string
	httpClient *http.Client
}

// NewRemoteOracle constructs a RemoteOracle against the given endpoint.
func NewRemoteOracle(url string, timeout time.Duration) *RemoteOracle {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RemoteOracle{url: url, httpClient: &http.Client{Timeout: timeout}}
}

var _ ports.SigningOracle = (*RemoteOracle)(nil)

// Sign forwards messageBytes to the oracle under keyHandle and returns its
// signature, validating the result decodes to a well-formed Ed25519
// signature length before returning it.
func (r *RemoteOracle) Sign(ctx context.Context, keyHandle string, messageBytes []byte) (solwire.Signature, error) {
	body, err := json.Marshal(map[string]string{
		"key_handle": keyHandle,
		"message":    base64.StdEncoding.EncodeToString(messageBytes),
	})
	if err != nil {
		return solwire.Signature{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return solwire.Signature{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return solwire.Signature{}, fmt.Errorf("signer: oracle request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return solwire.Signature{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return solwire.Signature{}, fmt.Errorf("signer: oracle returned status %d: %s", resp.StatusCode, respBody)
	}

	var parsed struct {
		Signature string `json:"signature"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return solwire.Signature{}, fmt.Errorf("signer: decode oracle response: %w", err)
	}
	sigBytes, err := base64.StdEncoding.DecodeString(parsed.Signature)
	if err != nil {
		return solwire.Signature{}, fmt.Errorf("signer: decode signature: %w", err)
	}
	if len(sigBytes) != solwire.SignatureLen {
		return solwire.Signature{}, fmt.Errorf("signer: oracle signature has %d bytes, want %d", len(sigBytes), solwire.SignatureLen)
	}
	var sig solwire.Signature
	copy(sig[:], sigBytes)
	return sig, nil
}

// DevFixture is a local, in-process SigningOracle for development and
// tests: it derives one Ed25519 keypair per key handle from a BIP39
// mnemonic, entirely analogous to the teacher's NewFromMnemonic/
// NewFromSeed flow but targeting Ed25519 rather than secp256k1, since
// Solana's signature scheme is Ed25519.
type DevFixture struct {
	mu   sync.Mutex
	keys map[string]ed25519.PrivateKey
	seed []byte
}

// NewDevFixture derives a fixture from a BIP39 mnemonic. An empty mnemonic
// generates a fresh one.
func NewDevFixture(mnemonic string) (*DevFixture, error) {
	if mnemonic == "" {
		entropy, err := bip39.NewEntropy(256)
		if err != nil {
			return nil, fmt.Errorf("signer: generate entropy: %w", err)
		}
		mnemonic, err = bip39.NewMnemonic(entropy)
		if err != nil {
			return nil, fmt.Errorf("signer: generate mnemonic: %w", err)
		}
	}
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("signer: invalid mnemonic")
	}
	seed := bip39.NewSeed(mnemonic, "")
	return &DevFixture{keys: make(map[string]ed25519.PrivateKey), seed: seed}, nil
}

var _ ports.SigningOracle = (*DevFixture)(nil)

// Sign derives (or reuses) the Ed25519 key for keyHandle and signs
// messageBytes directly.
func (d *DevFixture) Sign(ctx context.Context, keyHandle string, messageBytes []byte) (solwire.Signature, error) {
	priv, err := d.keyFor(keyHandle)
	if err != nil {
		return solwire.Signature{}, err
	}
	raw := ed25519.Sign(priv, messageBytes)
	var sig solwire.Signature
	copy(sig[:], raw)
	return sig, nil
}

// Pubkey returns the public key derived for keyHandle, for assembling the
// follower's AccountMeta as a signer in a TradePlan's transaction.
func (d *DevFixture) Pubkey(keyHandle string) (solwire.Pubkey, error) {
	priv, err := d.keyFor(keyHandle)
	if err != nil {
		return solwire.Pubkey{}, err
	}
	pub, ok := priv.Public().(ed25519.PublicKey)
	if !ok {
		return solwire.Pubkey{}, fmt.Errorf("signer: unexpected public key type for %s", keyHandle)
	}
	var pk solwire.Pubkey
	copy(pk[:], pub)
	if err := validateOnCurve(pk); err != nil {
		return solwire.Pubkey{}, err
	}
	return pk, nil
}

func (d *DevFixture) keyFor(keyHandle string) (ed25519.PrivateKey, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if priv, ok := d.keys[keyHandle]; ok {
		return priv, nil
	}
	seed := derivedSeed(d.seed, keyHandle)
	priv := ed25519.NewKeyFromSeed(seed)
	d.keys[keyHandle] = priv
	return priv, nil
}

// derivedSeed mixes the fixture's root seed with keyHandle to produce a
// distinct, deterministic 32-byte Ed25519 seed per handle without
// implementing full SLIP-0010 derivation -- adequate for a dev fixture
// that never custodies real funds.
func derivedSeed(root []byte, keyHandle string) []byte {
	out := make([]byte, ed25519.SeedSize)
	h := []byte(keyHandle)
	for i := range out {
		out[i] = root[i%len(root)] ^ h[i%len(h)]
	}
	return out
}

// validateOnCurve confirms a derived public key decompresses to a valid
// Edwards curve point, the same sanity check the teacher's crypto.go
// performs before treating a raw Ed25519 key as usable for X25519
// conversion.
func validateOnCurve(pk solwire.Pubkey) error {
	_, err := new(edwards25519.Point).SetBytes(pk[:])
	if err != nil {
		return fmt.Errorf("signer: derived public key is not a valid curve point: %w", err)
	}
	return nil
}
