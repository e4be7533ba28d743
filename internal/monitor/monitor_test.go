package monitor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/ledgerkeep/internal/backup"
	"github.com/mesh-intelligence/ledgerkeep/internal/sqlite/sqlitetest"
	"github.com/mesh-intelligence/ledgerkeep/pkg/types"
)

// countingSuite counts suite runs and reports a fixed result.
type countingSuite struct {
	calls  atomic.Int32
	passed bool
	err    error
}

func (s *countingSuite) RunIntegrityTestSuite(context.Context) (types.IntegrityResult, error) {
	s.calls.Add(1)
	if s.err != nil {
		return types.IntegrityResult{}, s.err
	}
	res := types.IntegrityResult{Passed: s.passed}
	if !s.passed {
		res.Failures = []string{"1 foreign key violation(s) in invoices->customers"}
	}
	return res, nil
}

func config(interval time.Duration) types.MonitorConfig {
	return types.MonitorConfig{Interval: interval, QuotaWarnRatio: 0.9}
}

func TestStartContinuousMonitoring_Idempotent(t *testing.T) {
	suite := &countingSuite{passed: true}
	m := New(suite, types.MemoryDataDir, config(time.Hour))
	defer m.StopMonitoring()

	m.StartContinuousMonitoring(context.Background())
	m.StartContinuousMonitoring(context.Background())
	assert.True(t, m.Running())

	require.Eventually(t, func() bool { return suite.calls.Load() >= 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), suite.calls.Load(), "exactly one loop and one immediate pulse")
}

func TestStartContinuousMonitoring_PulsesOnInterval(t *testing.T) {
	suite := &countingSuite{passed: true}
	m := New(suite, types.MemoryDataDir, config(10*time.Millisecond))

	m.StartContinuousMonitoring(context.Background())
	require.Eventually(t, func() bool { return suite.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)

	m.StopMonitoring()
	assert.False(t, m.Running())
	stopped := suite.calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, stopped, suite.calls.Load(), "no pulses after stop")
}

func TestStopMonitoring_WhenNotRunning(t *testing.T) {
	m := New(&countingSuite{}, types.MemoryDataDir, config(time.Hour))
	m.StopMonitoring()
	m.StopMonitoring()
	assert.False(t, m.Running())
}

func TestStartContinuousMonitoring_RestartAfterStop(t *testing.T) {
	suite := &countingSuite{passed: true}
	m := New(suite, types.MemoryDataDir, config(time.Hour))

	m.StartContinuousMonitoring(context.Background())
	require.Eventually(t, func() bool { return suite.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	m.StopMonitoring()

	m.StartContinuousMonitoring(context.Background())
	defer m.StopMonitoring()
	require.Eventually(t, func() bool { return suite.calls.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestPulse_ReportsSuiteAndQuota(t *testing.T) {
	suite := &countingSuite{passed: false}
	m := New(suite, "/var/lib/ledgerkeep", config(time.Hour)).WithQuotaSampler(func(dir string) (Usage, error) {
		assert.Equal(t, "/var/lib/ledgerkeep", dir)
		return Usage{Total: 100, Free: 5}, nil
	})

	p, err := m.Pulse(context.Background())
	require.NoError(t, err)
	assert.False(t, p.Suite.Passed)
	assert.Equal(t, uint64(95), p.Usage.Used())
	assert.InDelta(t, 0.95, p.Usage.Ratio(), 1e-9)
}

func TestPulse_QuotaErrorsAreAdvisory(t *testing.T) {
	m := New(&countingSuite{passed: true}, "/data", config(time.Hour)).WithQuotaSampler(func(string) (Usage, error) {
		return Usage{}, ErrQuotaUnsupported
	})

	p, err := m.Pulse(context.Background())
	require.NoError(t, err)
	assert.True(t, p.Suite.Passed)
	assert.Zero(t, p.Usage)
}

func TestPulse_SkipsQuotaForMemoryStore(t *testing.T) {
	m := New(&countingSuite{passed: true}, types.MemoryDataDir, config(time.Hour)).WithQuotaSampler(func(string) (Usage, error) {
		t.Error("memory stores have no volume to sample")
		return Usage{}, nil
	})
	_, err := m.Pulse(context.Background())
	require.NoError(t, err)
}

func TestPulse_SuiteError(t *testing.T) {
	boom := errors.New("database is locked")
	m := New(&countingSuite{err: boom}, types.MemoryDataDir, config(time.Hour))
	_, err := m.Pulse(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestPulse_RealStore(t *testing.T) {
	e := sqlitetest.NewFile(t)
	sqlitetest.CreateGuaranteedSchema(t, e)
	m := New(backup.NewValidator(e, backup.NewMemoryStore()), t.TempDir(), config(time.Hour))

	p, err := m.Pulse(context.Background())
	require.NoError(t, err)
	assert.True(t, p.Suite.Passed, "failures: %v", p.Suite.Failures)
}

func TestUsage(t *testing.T) {
	assert.Zero(t, Usage{}.Ratio())
	assert.Zero(t, Usage{Total: 10, Free: 20}.Used())
	assert.Equal(t, 0.5, Usage{Total: 10, Free: 5}.Ratio())
}
