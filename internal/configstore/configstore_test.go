package configstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copytrade/engine/internal/ports"
	"github.com/copytrade/engine/internal/solwire"
)

func pk(b byte) solwire.Pubkey {
	var p solwire.Pubkey
	p[0] = b
	return p
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{DataDir: t.TempDir(), PollInterval: 10 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertAndListActiveFollowers(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.UpsertFollower(ports.FollowerSnapshotEntry{
		FollowerID: "f1", UserRef: "user-1", KeyHandle: "handle-1",
		MasterPubkey: pk(1), InputSizeRaw: 100_000, SlippageBps: 50, MaxPerTradeRaw: 500_000, Enabled: true,
	}, pk(99), 2500))

	snap, err := s.ListActiveFollowers(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Followers, 1)
	assert.Equal(t, "f1", snap.Followers[0].FollowerID)
	assert.True(t, snap.Followers[0].Enabled)

	active := snap.FollowersByMaster(pk(1))
	require.Len(t, active, 1)
}

func TestPubkeyResolvesWalletByKeyHandle(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.UpsertFollower(ports.FollowerSnapshotEntry{
		FollowerID: "f1", KeyHandle: "handle-1", MasterPubkey: pk(1), Enabled: true,
	}, pk(77), 0))

	got, err := s.Pubkey("handle-1")
	require.NoError(t, err)
	assert.Equal(t, pk(77), got)

	_, err = s.Pubkey("no-such-handle")
	assert.Error(t, err)
}

func TestSellFractionBpsDefaultsToZeroOnMissingFollower(t *testing.T) {
	s := newTestStore(t)
	assert.Zero(t, s.SellFractionBps("missing"))
}

func TestOnChangeNotifiesOnUpsertAndRemove(t *testing.T) {
	s := newTestStore(t)
	changes, err := s.OnChange(context.Background())
	require.NoError(t, err)

	require.NoError(t, s.UpsertFollower(ports.FollowerSnapshotEntry{
		FollowerID: "f1", KeyHandle: "handle-1", MasterPubkey: pk(1), Enabled: true,
	}, pk(1), 0))

	select {
	case ev := <-changes:
		assert.Equal(t, ports.FollowerAdded, ev.Type)
		assert.Equal(t, "f1", ev.FollowerID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for added event")
	}

	require.NoError(t, s.RemoveFollower("f1"))

	select {
	case ev := <-changes:
		assert.Equal(t, ports.FollowerRemoved, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for removed event")
	}
}
