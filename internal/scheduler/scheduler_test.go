package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"FundLedger/internal/asset"
	"FundLedger/internal/core"
	"FundLedger/internal/ledger"
	"FundLedger/internal/observability"
	"FundLedger/internal/permission"
	"FundLedger/internal/pricefeed"
	"FundLedger/internal/sequencer"
	"FundLedger/internal/venue"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSubmitter struct {
	cmds []sequencer.Command
	err  error
}

func (r *recordingSubmitter) Submit(_ context.Context, cmd sequencer.Command) (any, error) {
	r.cmds = append(r.cmds, cmd)
	return nil, r.err
}

type snapshotFunc func(ctx context.Context) (int64, error)

func (f snapshotFunc) TakeSnapshot(ctx context.Context) (int64, error) { return f(ctx) }

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

func TestSettleFees_RunsAsManager(t *testing.T) {
	sub := &recordingSubmitter{}
	require.NoError(t, SettleFees(context.Background(), sub))
	require.Len(t, sub.cmds, 1)
	assert.Equal(t, "convert_fees", sub.cmds[0].Name)
	assert.Empty(t, sub.cmds[0].IdempotencyKey)

	// An empty fund passes the manager check and stops at the zero GAV guard.
	_, err := sub.cmds[0].Run(newFund(t))
	assert.ErrorIs(t, err, core.ErrDivisionByZeroGuard)
}

func TestRun_RecordsJobResults(t *testing.T) {
	metrics := observability.NewMetricsWith(prometheus.NewRegistry())
	s := New(zerolog.Nop(), metrics)

	s.run(JobSnapshot, s.snapshotJob(snapshotFunc(func(ctx context.Context) (int64, error) {
		_, ok := ctx.Deadline()
		assert.True(t, ok, "jobs run under a timeout")
		return 9, nil
	})))
	s.run(JobFeeSettlement, func(ctx context.Context) error { return SettleFees(ctx, &recordingSubmitter{err: errors.New("stopped")}) })

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.JobRuns.WithLabelValues(JobSnapshot, "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.JobRuns.WithLabelValues(JobFeeSettlement, "error")))
}

func TestAddJobs(t *testing.T) {
	s := New(zerolog.Nop(), nil)
	require.NoError(t, s.AddFeeSettlement("@daily", &recordingSubmitter{}))
	require.NoError(t, s.AddSnapshots("", nil))
	assert.Len(t, s.cron.Entries(), 1)

	assert.Error(t, s.AddSnapshots("every so often", nil))
}

func TestRun_StopsOnCancel(t *testing.T) {
	s := New(zerolog.Nop(), nil)
	require.NoError(t, s.AddSnapshots("@every 1h", snapshotFunc(func(context.Context) (int64, error) { return 0, nil })))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
