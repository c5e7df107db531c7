// Package ports declares the external collaborators the core depends on
// (spec §6): Config Store, Chain RPC, Stream Source, Signing Oracle, and
// Event Sink. These are interfaces only -- the core never assumes a
// concrete implementation, matching the Design Notes' instruction to pass
// a single Core value holding {config_snapshot, cache, rpc, signer, sink}
// by borrow rather than relying on module-loaded singletons.
package ports

import (
	"context"
	"time"

	"github.com/copytrade/engine/internal/chainparams"
	"github.com/copytrade/engine/internal/model"
	"github.com/copytrade/engine/internal/solwire"
)

// FollowerSnapshotEntry is one row of a Config Store snapshot (spec §6).
type FollowerSnapshotEntry struct {
	FollowerID    string
	UserRef       string
	KeyHandle     string
	MasterPubkey  solwire.Pubkey
	InputSizeRaw  uint64
	SlippageBps   uint32
	MaxPerTradeRaw uint64
	Enabled       bool
}

// ConfigSnapshot is an immutable point-in-time view of active
// (follower, master) pairs, held by the Coordinator for the lifetime of
// one intent (Design Notes: "Coordinator holds an immutable snapshot per
// intent; updates take effect for the next intent").
type ConfigSnapshot struct {
	Followers []FollowerSnapshotEntry
	TakenAt   time.Time
}

// FollowersByMaster returns every enabled follower subscribed to the
// given master wallet.
func (s *ConfigSnapshot) FollowersByMaster(master solwire.Pubkey) []FollowerSnapshotEntry {
	out := make([]FollowerSnapshotEntry, 0, len(s.Followers))
	for _, f := range s.Followers {
		if f.Enabled && f.MasterPubkey == master {
			out = append(out, f)
		}
	}
	return out
}

// ChangeEventType is the kind of mutation an on_change event reports.
type ChangeEventType string

const (
	FollowerAdded   ChangeEventType = "added"
	FollowerUpdated ChangeEventType = "updated"
	FollowerRemoved ChangeEventType = "removed"
)

// ChangeEvent is one Config Store mutation notification (spec §6).
type ChangeEvent struct {
	Type       ChangeEventType
	FollowerID string
}

// ConfigStore enumerates active (follower, master) pairs and notifies the
// Coordinator of mutations (spec §6, read-only from the core's side).
type ConfigStore interface {
	ListActiveFollowers(ctx context.Context) (*ConfigSnapshot, error)
	OnChange(ctx context.Context) (<-chan ChangeEvent, error)
}

// AccountInfo is the decoded form of one on-chain account, as returned by
// Chain RPC's get_account_infos.
type AccountInfo struct {
	Owner    solwire.Pubkey
	Lamports uint64
	Data     []byte
	Executable bool
}

// SimulationResult is the outcome of Chain RPC's simulate_transaction.
type SimulationResult struct {
	UnitsConsumed uint64
	Err           string // empty on success
	Logs          []string
}

// SendOptions configures Chain RPC's send_transaction call.
type SendOptions struct {
	SkipPreflight bool
	MaxRetries    int
}

// ConfirmStatus is the outcome of Chain RPC's confirm_signature.
type ConfirmStatus string

const (
	ConfirmPending    ConfirmStatus = "pending"
	ConfirmConfirmed  ConfirmStatus = "confirmed"
	ConfirmFinalized  ConfirmStatus = "finalized"
	ConfirmFailed     ConfirmStatus = "failed"
	ConfirmNotFound   ConfirmStatus = "not_found"
)

// ChainRPC is the read/write interface to the cluster (spec §6).
type ChainRPC interface {
	GetAccountInfos(ctx context.Context, pubkeys []solwire.Pubkey, commitment chainparams.Commitment) ([]*AccountInfo, error)
	GetLatestBlockhash(ctx context.Context, commitment chainparams.Commitment) (hash [32]byte, lastValidBlockHeight uint64, err error)
	SimulateTransaction(ctx context.Context, txBytes []byte) (*SimulationResult, error)
	SendTransaction(ctx context.Context, txBytes []byte, opts SendOptions) (solwire.Signature, error)
	ConfirmSignature(ctx context.Context, sig solwire.Signature, commitment chainparams.Commitment, timeout time.Duration) (ConfirmStatus, error)
	GetTransaction(ctx context.Context, sig solwire.Signature) (*solwire.RawTransaction, error)
}

// StreamSource delivers confirmed transactions for a set of watched
// master public keys, with reconnect/resubscribe semantics owned by the
// caller (Stream Ingress) per spec §4.1.
type StreamSource interface {
	Subscribe(ctx context.Context, masters []solwire.Pubkey) (<-chan *solwire.RawTransaction, error)
	Unsubscribe(ctx context.Context, master solwire.Pubkey) error
	Close() error
}

// SigningOracle signs a canonical transaction payload with a named key,
// never returning private key material (spec §6).
type SigningOracle interface {
	Sign(ctx context.Context, keyHandle string, messageBytes []byte) (solwire.Signature, error)
}

// EventSink publishes TradeOutcome records for downstream UI/accounting;
// assumed at-least-once, so consumers must be idempotent on PlanID
// (spec §6).
type EventSink interface {
	Publish(ctx context.Context, outcome *model.TradeOutcome) error
}
