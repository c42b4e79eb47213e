package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"FundLedger/internal/config"
	"FundLedger/internal/core"
	"FundLedger/internal/ledger"
	"FundLedger/internal/persistence"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore keeps snapshots and the log head in memory.
type memStore struct {
	mu        sync.Mutex
	snaps     map[int64]*persistence.SnapshotData
	verified  map[int64]bool
	latest    int64
	tail      []persistence.EventRow
	discarded []int64
}

func newMemStore() *memStore {
	return &memStore{snaps: map[int64]*persistence.SnapshotData{}, verified: map[int64]bool{}}
}

func (m *memStore) SaveSnapshot(_ context.Context, snap *persistence.SnapshotData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[snap.Fund.Sequence] = snap
	m.verified[snap.Fund.Sequence] = false
	return nil
}

func (m *memStore) LoadLatestSnapshot(context.Context) (*persistence.SnapshotData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *persistence.SnapshotData
	for seq, snap := range m.snaps {
		if m.verified[seq] && (best == nil || seq > best.Fund.Sequence) {
			best = snap
		}
	}
	return best, nil
}

func (m *memStore) MarkVerified(_ context.Context, seq int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verified[seq] = true
	return nil
}

func (m *memStore) GetLatestSequence(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latest, nil
}

func (m *memStore) setLatest(seq int64) {
	m.mu.Lock()
	m.latest = seq
	m.mu.Unlock()
}

func (m *memStore) VerifyAgainstLog(context.Context, *core.SnapshotState) error { return nil }

func (m *memStore) Tail(context.Context, *core.SnapshotState) ([]persistence.EventRow, error) {
	return m.tail, nil
}

func (m *memStore) DiscardAfter(_ context.Context, seq int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.discarded = append(m.discarded, seq)
	n := m.latest - seq
	m.latest = seq
	m.tail = nil
	return n, nil
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Fund.ID = "alpha"
	cfg.Assets = append(cfg.Assets, config.AssetConfig{Symbol: "ETH", Decimals: 18})
	cfg.Genesis = []config.GenesisBalance{
		{Owner: "alice", Asset: "USD", Amount: decimal.RequireFromString("250.5")},
		{Owner: string(ledger.NewSystemAddress("alpha", "vault")), Asset: "ETH", Amount: decimal.RequireFromString("0.5")},
	}
	return &cfg
}

func build(t *testing.T, cfg *config.Config) *Components {
	t.Helper()
	comps, err := BuildFund(cfg, zerolog.Nop(), nil)
	require.NoError(t, err)
	return comps
}

func TestRecover_ColdStart(t *testing.T) {
	store := newMemStore()
	comps := build(t, testConfig())
	snaps := NewSnapshotter(comps, store, zerolog.Nop(), nil)

	require.NoError(t, Recover(context.Background(), comps, store, snaps, false, zerolog.Nop()))
	assert.Equal(t, int64(250_500_000), comps.Vault.BalanceOf("USD", "alice"))

	snap, err := store.LoadLatestSnapshot(context.Background())
	require.NoError(t, err)
	require.NotNil(t, snap, "cold start saves a verified genesis snapshot")
	assert.Equal(t, int64(0), snap.Fund.Sequence)
	assert.Equal(t, int64(250_500_000), snap.Vault.Balances["USD"]["alice"])
}

func TestRecover_RestoresSnapshot(t *testing.T) {
	store := newMemStore()
	first := build(t, testConfig())
	require.NoError(t, Recover(context.Background(), first, store, NewSnapshotter(first, store, zerolog.Nop(), nil), false, zerolog.Nop()))

	// A second process restores rather than crediting genesis again.
	second := build(t, testConfig())
	require.NoError(t, Recover(context.Background(), second, store, NewSnapshotter(second, store, zerolog.Nop(), nil), false, zerolog.Nop()))
	assert.Equal(t, int64(250_500_000), second.Vault.BalanceOf("USD", "alice"))
	assert.Equal(t, first.Fund.StateHash(), second.Fund.StateHash())
}

func TestRecover_StaleSnapshot(t *testing.T) {
	store := newMemStore()
	seed := build(t, testConfig())
	require.NoError(t, Recover(context.Background(), seed, store, NewSnapshotter(seed, store, zerolog.Nop(), nil), false, zerolog.Nop()))

	store.setLatest(2)
	store.tail = []persistence.EventRow{{Sequence: 1}, {Sequence: 2}}

	comps := build(t, testConfig())
	err := Recover(context.Background(), comps, store, NewSnapshotter(comps, store, zerolog.Nop(), nil), false, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 events behind")
	assert.Empty(t, store.discarded)

	require.NoError(t, Recover(context.Background(), comps, store, NewSnapshotter(comps, store, zerolog.Nop(), nil), true, zerolog.Nop()))
	assert.Equal(t, []int64{0}, store.discarded)
	assert.Equal(t, int64(250_500_000), comps.Vault.BalanceOf("USD", "alice"))
}

func TestRecover_LogWithoutSnapshot(t *testing.T) {
	store := newMemStore()
	store.setLatest(5)

	comps := build(t, testConfig())
	snaps := NewSnapshotter(comps, store, zerolog.Nop(), nil)
	require.Error(t, Recover(context.Background(), comps, store, snaps, false, zerolog.Nop()))
	assert.Zero(t, comps.Vault.BalanceOf("USD", "alice"))

	require.NoError(t, Recover(context.Background(), comps, store, snaps, true, zerolog.Nop()))
	assert.Equal(t, []int64{0}, store.discarded)
	assert.Equal(t, int64(250_500_000), comps.Vault.BalanceOf("USD", "alice"))
}

func TestSnapshotter_WaitsForLog(t *testing.T) {
	store := newMemStore()
	comps := build(t, testConfig())
	snaps := NewSnapshotter(comps, store, zerolog.Nop(), nil)

	_, err := snaps.TakeSnapshot(context.Background())
	assert.Error(t, err, "not attached to a sequencer")

	snap := comps.Snapshot()
	snap.Fund.Sequence = 3

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	err = snaps.Save(ctx, snap)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.False(t, store.verified[3])

	go func() {
		time.Sleep(100 * time.Millisecond)
		store.setLatest(3)
	}()
	require.NoError(t, snaps.Save(context.Background(), snap))
	assert.True(t, store.verified[3])
}

func TestCalcCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fund.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
fund: {id: alpha, manager: mgr, base_asset: USD}
assets:
  - {symbol: USD, decimals: 6}
  - {symbol: ETH, decimals: 18}
genesis:
  - {owner: "system:alpha:vault", asset: USD, amount: 100}
  - {owner: "system:alpha:vault", asset: ETH, amount: "0.5"}
`), 0o600))

	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"calc", "-c", path, "--price", "USD=1", "--price", "ETH=2000"})
	require.NoError(t, cmd.Execute())

	var report CalcReport
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	assert.True(t, report.Calculations.Live)
	assert.True(t, report.Calculations.Gav.Equal(decimal.NewFromInt(1100)), "gav %s", report.Calculations.Gav)
	assert.True(t, report.Calculations.SharePrice.Equal(decimal.NewFromInt(1)), "empty fund prices shares at one")
	assert.Len(t, report.Holdings.Holdings, 2)
}

func TestCalcCommand_BadPrice(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"calc", "--price", "USD=abc"})
	assert.Error(t, cmd.Execute())
}
