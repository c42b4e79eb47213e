package sequencer_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"FundLedger/internal/asset"
	"FundLedger/internal/core"
	"FundLedger/internal/ledger"
	"FundLedger/internal/permission"
	"FundLedger/internal/pricefeed"
	"FundLedger/internal/sequencer"
	"FundLedger/internal/venue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFund(t *testing.T) *core.Fund {
	t.Helper()
	feed := pricefeed.New(time.Minute)
	require.NoError(t, feed.Register("USD", 3))
	_, err := feed.Apply(pricefeed.Update{Source: "test", Sequence: 1, Timestamp: time.Now(),
		Prices: map[ledger.Asset]int64{"USD": 1_000}})
	require.NoError(t, err)

	vault := asset.NewVault()
	fund, err := core.NewFund(core.Config{FundID: "alpha", Manager: "manager", BaseAsset: "USD"}, core.Dependencies{
		Oracle:    feed,
		Venue:     venue.NewSimpleMarket(vault),
		Assets:    vault,
		Subscribe: permission.Open{},
		Redeem:    permission.Open{},
		Risk:      permission.NewRisk(permission.RiskConfig{}),
	})
	require.NoError(t, err)
	return fund
}

func start(t *testing.T, s *sequencer.Sequencer) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-s.Done()
	})
}

type fakeDB struct {
	keys map[string]bool
	err  error
}

func (db *fakeDB) IsDuplicate(command, key string) (bool, error) {
	if db.err != nil {
		return false, db.err
	}
	return db.keys[command+":"+key], nil
}

func TestSequencer_SerializesConcurrentSubmits(t *testing.T) {
	s := sequencer.New(newFund(t), 16)
	start(t, s)

	var mu sync.Mutex
	var seen []int
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Submit(context.Background(), sequencer.Command{
				Name: "record",
				Run: func(*core.Fund) (any, error) {
					mu.Lock()
					seen = append(seen, i)
					mu.Unlock()
					return nil, nil
				},
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	assert.Len(t, seen, 50)
}

func TestSequencer_ReturnsCommandError(t *testing.T) {
	s := sequencer.New(newFund(t), 1)
	start(t, s)

	_, err := s.Submit(context.Background(), sequencer.Command{
		Name: "shutdown",
		Run: func(f *core.Fund) (any, error) {
			return nil, f.Shutdown("mallory")
		},
	})
	assert.ErrorIs(t, err, core.ErrPreconditionFailed)

	shut, err := s.Read(context.Background(), "status", func(f *core.Fund) (any, error) {
		return f.IsShutDown(), nil
	})
	require.NoError(t, err)
	assert.Equal(t, false, shut)
}

func TestSequencer_DeduplicatesKeyedCommands(t *testing.T) {
	log := make(chan sequencer.CommandRecord, 4)
	s := sequencer.New(newFund(t), 1,
		sequencer.WithIdempotency(sequencer.NewIdempotencyChecker(8, nil, nil)),
		sequencer.WithCommandLog(log))
	start(t, s)

	runs := 0
	cmd := sequencer.Command{
		Name:           "settings",
		IdempotencyKey: "req-1",
		Run: func(f *core.Fund) (any, error) {
			runs++
			return runs, f.SetSubscriptionsEnabled("manager", false)
		},
	}

	first, err := s.Submit(context.Background(), cmd)
	require.NoError(t, err)
	second, err := s.Submit(context.Background(), cmd)
	require.NoError(t, err)

	assert.Equal(t, 1, runs)
	assert.Equal(t, first, second)

	rec := <-log
	assert.Equal(t, "alpha", rec.FundID)
	assert.Equal(t, "settings", rec.Command)
	assert.Equal(t, "req-1", rec.IdempotencyKey)
	assert.Equal(t, int64(1), rec.Sequence)
	assert.Empty(t, log, "duplicates are not logged again")
}

func TestSequencer_FailedCommandsCanRetry(t *testing.T) {
	s := sequencer.New(newFund(t), 1,
		sequencer.WithIdempotency(sequencer.NewIdempotencyChecker(8, nil, nil)))
	start(t, s)

	fail := true
	cmd := sequencer.Command{
		Name:           "flaky",
		IdempotencyKey: "req-1",
		Run: func(*core.Fund) (any, error) {
			if fail {
				fail = false
				return nil, errors.New("boom")
			}
			return "ok", nil
		},
	}

	_, err := s.Submit(context.Background(), cmd)
	require.Error(t, err)
	result, err := s.Submit(context.Background(), cmd)
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}

func TestSequencer_DatabaseTierDuplicate(t *testing.T) {
	db := &fakeDB{keys: map[string]bool{"settings:old": true}}
	s := sequencer.New(newFund(t), 1,
		sequencer.WithIdempotency(sequencer.NewIdempotencyChecker(8, db, nil)))
	start(t, s)

	ran := false
	_, err := s.Submit(context.Background(), sequencer.Command{
		Name:           "settings",
		IdempotencyKey: "old",
		Run:            func(*core.Fund) (any, error) { ran = true; return nil, nil },
	})
	assert.ErrorIs(t, err, sequencer.ErrDuplicateCommand)
	assert.False(t, ran)
}

func TestSequencer_SubmitAfterStop(t *testing.T) {
	s := sequencer.New(newFund(t), 0)
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	cancel()
	<-s.Done()

	_, err := s.Submit(context.Background(), sequencer.Command{Name: "noop", Run: func(*core.Fund) (any, error) { return nil, nil }})
	assert.ErrorIs(t, err, sequencer.ErrStopped)
}

func TestSequencer_SubmitHonoursContext(t *testing.T) {
	s := sequencer.New(newFund(t), 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Submit(ctx, sequencer.Command{Name: "noop", Run: func(*core.Fund) (any, error) { return nil, nil }})
	assert.ErrorIs(t, err, context.Canceled)
}

// ============================================================================
// Test: LRU
// ============================================================================

func TestIdempotencyLRU_Eviction(t *testing.T) {
	lru := sequencer.NewIdempotencyLRU(2)
	lru.Add("a", 1)
	lru.Add("b", 2)
	lru.Contains("a") // promote a
	lru.Add("c", 3)

	assert.True(t, lru.Contains("a"))
	assert.False(t, lru.Contains("b"))
	assert.True(t, lru.Contains("c"))
	assert.Equal(t, 2, lru.Size())
	assert.Equal(t, int64(1), lru.Evictions())
}

func TestIdempotencyLRU_WarmKeepsNewest(t *testing.T) {
	lru := sequencer.NewIdempotencyLRU(2)
	lru.WarmFromKeys([]string{"k1", "k2", "k3"})

	assert.False(t, lru.Contains("k1"))
	assert.True(t, lru.Contains("k3"))

	v, ok := lru.Get("k2")
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestIdempotencyChecker_Tier2ErrorIsNotDuplicate(t *testing.T) {
	ic := sequencer.NewIdempotencyChecker(4, &fakeDB{err: errors.New("db down")}, nil)
	_, _, dup := ic.Lookup("settings", "k")
	assert.False(t, dup)

	ic.MarkProcessed("settings", "k", nil)
	result, hasResult, dup := ic.Lookup("settings", "k")
	assert.True(t, dup)
	assert.True(t, hasResult, "a nil result is still a result")
	assert.Nil(t, result)

	ic.Warm([]string{"settings:warm"})
	_, hasResult, dup = ic.Lookup("settings", "warm")
	assert.True(t, dup)
	assert.False(t, hasResult)
}
