package coordinator

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copytrade/engine/internal/chainparams"
	"github.com/copytrade/engine/internal/domain"
	"github.com/copytrade/engine/internal/executor"
	"github.com/copytrade/engine/internal/model"
	"github.com/copytrade/engine/internal/poolcache"
	"github.com/copytrade/engine/internal/ports"
	"github.com/copytrade/engine/internal/solwire"
)

type fakeStore struct {
	snapshot *ports.ConfigSnapshot
	changes  chan ports.ChangeEvent
}

func (f *fakeStore) ListActiveFollowers(ctx context.Context) (*ports.ConfigSnapshot, error) {
	return f.snapshot, nil
}

func (f *fakeStore) OnChange(ctx context.Context) (<-chan ports.ChangeEvent, error) {
	return f.changes, nil
}

type fakeWallets struct{}

func (fakeWallets) Pubkey(keyHandle string) (solwire.Pubkey, error) {
	var pk solwire.Pubkey
	copy(pk[:], []byte(keyHandle))
	return pk, nil
}

type fakeSellFraction struct{ bps uint32 }

func (f fakeSellFraction) SellFractionBps(followerID string) uint32 { return f.bps }

type fakeRPC struct {
	mu        sync.Mutex
	sendCount int
}

// GetAccountInfos stands in for the pool's vault accounts: every
// requested account comes back as an SPL-Token-owned account holding a
// generous balance, enough that quoteConstantProduct never blocks a
// test's plan on pool-state unavailability.
func (f *fakeRPC) GetAccountInfos(ctx context.Context, pubkeys []solwire.Pubkey, commitment chainparams.Commitment) ([]*ports.AccountInfo, error) {
	infos := make([]*ports.AccountInfo, len(pubkeys))
	for i := range pubkeys {
		data := make([]byte, 72)
		binary.LittleEndian.PutUint64(data[64:], 1_000_000_000_000)
		infos[i] = &ports.AccountInfo{Owner: chainparams.TokenProgram, Data: data}
	}
	return infos, nil
}
func (f *fakeRPC) GetLatestBlockhash(ctx context.Context, commitment chainparams.Commitment) ([32]byte, uint64, error) {
	return [32]byte{1}, 1, nil
}
func (f *fakeRPC) SimulateTransaction(ctx context.Context, txBytes []byte) (*ports.SimulationResult, error) {
	return &ports.SimulationResult{UnitsConsumed: 100}, nil
}
func (f *fakeRPC) SendTransaction(ctx context.Context, txBytes []byte, opts ports.SendOptions) (solwire.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendCount++
	var sig solwire.Signature
	sig[0] = byte(f.sendCount)
	return sig, nil
}
func (f *fakeRPC) ConfirmSignature(ctx context.Context, sig solwire.Signature, commitment chainparams.Commitment, timeout time.Duration) (ports.ConfirmStatus, error) {
	return ports.ConfirmConfirmed, nil
}
func (f *fakeRPC) GetTransaction(ctx context.Context, sig solwire.Signature) (*solwire.RawTransaction, error) {
	return nil, nil
}

type fakeSigner struct{}

func (fakeSigner) Sign(ctx context.Context, keyHandle string, messageBytes []byte) (solwire.Signature, error) {
	var sig solwire.Signature
	return sig, nil
}

type fakeSink struct {
	mu       sync.Mutex
	outcomes []*model.TradeOutcome
}

func (s *fakeSink) Publish(ctx context.Context, outcome *model.TradeOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, outcome)
	return nil
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outcomes)
}

type fakePosition struct{}

func (fakePosition) HoldingOf(ctx context.Context, wallet, mint solwire.Pubkey) (uint64, bool, error) {
	return 1_000_000, true, nil
}

func pk(b byte) solwire.Pubkey {
	var p solwire.Pubkey
	p[0] = b
	return p
}

func newTestIntent(master solwire.Pubkey) *model.SwapIntent {
	return &model.SwapIntent{
		MasterSignature:            solwire.Signature{byte(time.Now().UnixNano())},
		MasterWallet:               master,
		Direction:                  domain.Buy,
		InputMint:                  chainparams.WrappedSOL,
		OutputMint:                 pk(55),
		MasterInputAmount:          1_000_000,
		MasterOutputAmountObserved: 500_000,
		Protocol:                   domain.ConstantProductAmm,
		PoolDescriptor: model.PoolDescriptor{
			Protocol:   domain.ConstantProductAmm,
			Pool:       pk(2),
			Authority:  pk(3),
			VaultBase:  pk(5),
			VaultQuote: pk(6),
		},
		ObservedAt: time.Now(),
	}
}

func newTestCoordinator(t *testing.T, followers []ports.FollowerSnapshotEntry) (*Coordinator, *fakeSink) {
	t.Helper()
	store := &fakeStore{
		snapshot: &ports.ConfigSnapshot{Followers: followers, TakenAt: time.Now()},
		changes:  make(chan ports.ChangeEvent),
	}
	sink := &fakeSink{}
	rpc := &fakeRPC{}
	exec := executor.New(executor.DefaultConfig(), rpc, fakeSigner{}, sink, fakePosition{})
	cache, err := poolcache.New(poolcache.DefaultConfig())
	require.NoError(t, err)
	c, err := New(DefaultConfig(), store, exec, fakeWallets{}, fakeSellFraction{bps: 5000}, cache, rpc)
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	return c, sink
}

func TestDispatchProducesOneOutcomePerActiveFollower(t *testing.T) {
	followers := []ports.FollowerSnapshotEntry{
		{FollowerID: "f1", KeyHandle: "handle-1", MasterPubkey: pk(1), InputSizeRaw: 100_000, Enabled: true},
		{FollowerID: "f2", KeyHandle: "handle-2", MasterPubkey: pk(1), InputSizeRaw: 200_000, Enabled: true},
		{FollowerID: "f3", KeyHandle: "handle-3", MasterPubkey: pk(9), InputSizeRaw: 300_000, Enabled: true},
	}
	c, sink := newTestCoordinator(t, followers)

	intent := newTestIntent(pk(1))
	c.Dispatch(context.Background(), intent)

	require.Eventually(t, func() bool { return sink.count() == 2 }, time.Second, 5*time.Millisecond)
}

func TestDispatchSkipsDisabledFollowers(t *testing.T) {
	followers := []ports.FollowerSnapshotEntry{
		{FollowerID: "f1", KeyHandle: "handle-1", MasterPubkey: pk(1), InputSizeRaw: 100_000, Enabled: false},
	}
	c, sink := newTestCoordinator(t, followers)

	c.Dispatch(context.Background(), newTestIntent(pk(1)))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, sink.count())
}

func TestDispatchIsIdempotentOnDuplicateMasterSignature(t *testing.T) {
	followers := []ports.FollowerSnapshotEntry{
		{FollowerID: "f1", KeyHandle: "handle-1", MasterPubkey: pk(1), InputSizeRaw: 100_000, Enabled: true},
	}
	c, sink := newTestCoordinator(t, followers)

	intent := newTestIntent(pk(1))
	c.Dispatch(context.Background(), intent)
	c.Dispatch(context.Background(), intent) // same MasterSignature: must be a no-op

	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, sink.count())
}

func TestDispatchEmitsSkippedOnExpiredDeadline(t *testing.T) {
	followers := []ports.FollowerSnapshotEntry{
		{FollowerID: "f1", KeyHandle: "handle-1", MasterPubkey: pk(1), InputSizeRaw: 100_000, Enabled: true},
	}
	c, sink := newTestCoordinator(t, followers)

	intent := newTestIntent(pk(1))
	intent.ObservedAt = time.Now().Add(-time.Hour) // deadline already passed
	c.Dispatch(context.Background(), intent)

	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, model.Skipped, sink.outcomes[0].Status)
	assert.Equal(t, model.SkipDeadlineExpired, sink.outcomes[0].SkipReason)
}

func TestPausedCoordinatorDropsNewDispatches(t *testing.T) {
	followers := []ports.FollowerSnapshotEntry{
		{FollowerID: "f1", KeyHandle: "handle-1", MasterPubkey: pk(1), InputSizeRaw: 100_000, Enabled: true},
	}
	c, sink := newTestCoordinator(t, followers)

	c.Pause()
	assert.True(t, c.Paused())
	c.Dispatch(context.Background(), newTestIntent(pk(1)))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, sink.count())

	c.Resume()
	assert.False(t, c.Paused())
	c.Dispatch(context.Background(), newTestIntent(pk(1)))
	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestDrainWaitsForInFlightPlansToFinish(t *testing.T) {
	followers := []ports.FollowerSnapshotEntry{
		{FollowerID: "f1", KeyHandle: "handle-1", MasterPubkey: pk(1), InputSizeRaw: 100_000, Enabled: true},
	}
	c, sink := newTestCoordinator(t, followers)

	c.Dispatch(context.Background(), newTestIntent(pk(1)))
	require.NoError(t, c.Drain(context.Background()))
	assert.Equal(t, 1, sink.count())
}
