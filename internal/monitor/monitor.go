// Package monitor runs the background integrity pulse. It detects and
// alerts; repair is left to the recovery path.
package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/mesh-intelligence/ledgerkeep/internal/metrics"
	"github.com/mesh-intelligence/ledgerkeep/pkg/types"
)

// Suite runs the integrity test suite.
type Suite interface {
	RunIntegrityTestSuite(ctx context.Context) (types.IntegrityResult, error)
}

// QuotaSampler reports usage of the volume holding dir.
type QuotaSampler func(dir string) (Usage, error)

// Pulse is the outcome of one pulse check.
type Pulse struct {
	Suite types.IntegrityResult
	// Usage is zero when sampling is unsupported or the store is in memory.
	Usage Usage
}

// Monitor pulses one store on a fixed interval.
type Monitor struct {
	suite     Suite
	dataDir   string
	interval  time.Duration
	warnRatio float64
	sample    QuotaSampler

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a Monitor. dataDir is sampled for quota unless it is the
// in-memory marker or empty.
func New(suite Suite, dataDir string, cfg types.MonitorConfig) *Monitor {
	return &Monitor{
		suite:     suite,
		dataDir:   dataDir,
		interval:  cfg.Interval,
		warnRatio: cfg.QuotaWarnRatio,
		sample:    SampleQuota,
	}
}

// WithQuotaSampler replaces the quota sampler.
func (m *Monitor) WithQuotaSampler(fn QuotaSampler) *Monitor {
	m.sample = fn
	return m
}

// Running reports whether the pulse loop is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel != nil
}

// StartContinuousMonitoring performs one pulse at once and then one per
// interval until StopMonitoring or ctx is done. Calling it while running
// is a no-op.
func (m *Monitor) StartContinuousMonitoring(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		log.Debug("integrity monitor already running")
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel, m.done = cancel, done

	go m.loop(ctx, done)
	log.WithField("interval", m.interval).Info("integrity monitor started")
}

// StopMonitoring stops the pulse loop and waits for it to exit. It is safe
// to call when not running.
func (m *Monitor) StopMonitoring() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	log.Info("integrity monitor stopped")
}

func (m *Monitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	m.pulseAndLog(ctx)
	if m.interval <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.pulseAndLog(ctx)
		}
	}
}

func (m *Monitor) pulseAndLog(ctx context.Context) {
	if _, err := m.Pulse(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.WithField("err", err).Error("integrity pulse could not run")
	}
}

// Pulse runs the integrity suite and the quota sample concurrently. A
// failing suite is logged at error level; no repair is attempted.
func (m *Monitor) Pulse(ctx context.Context) (Pulse, error) {
	var p Pulse
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		res, err := m.suite.RunIntegrityTestSuite(gctx)
		if err != nil {
			return err
		}
		p.Suite = res
		return nil
	})
	g.Go(func() error {
		if m.dataDir == "" || m.dataDir == types.MemoryDataDir || m.sample == nil {
			return nil
		}
		u, err := m.sample(m.dataDir)
		if err != nil {
			// Quota sampling is advisory.
			log.WithFields(log.Fields{"dir": m.dataDir, "err": err}).Debug("quota sampling unavailable")
			return nil
		}
		p.Usage = u
		return nil
	})

	err := g.Wait()
	metrics.PulsesTotal.WithLabelValues(pulseStatus(p, err)).Inc()
	if err != nil {
		return p, err
	}

	if !p.Suite.Passed {
		log.WithField("failures", p.Suite.Failures).Error("integrity pulse failed")
	}
	if p.Usage.Total > 0 {
		ratio := p.Usage.Ratio()
		metrics.StorageUtilization.Set(ratio)
		if m.warnRatio > 0 && ratio >= m.warnRatio {
			log.WithFields(log.Fields{
				"dir":   m.dataDir,
				"used":  humanize.IBytes(p.Usage.Used()),
				"total": humanize.IBytes(p.Usage.Total),
				"ratio": ratio,
			}).Warn("storage utilization above threshold")
		}
	}
	return p, nil
}

func pulseStatus(p Pulse, err error) string {
	if err != nil || !p.Suite.Passed {
		return metrics.Fail
	}
	return metrics.Ok
}
