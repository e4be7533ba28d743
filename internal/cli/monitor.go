package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/ledgerkeep/internal/metrics"
	"github.com/mesh-intelligence/ledgerkeep/pkg/ledgerkeep"
	"github.com/mesh-intelligence/ledgerkeep/pkg/types"
)

type monitorFlags struct {
	metricsAddr string
	once        bool
}

type pulseOutput struct {
	Suite      types.IntegrityResult `json:"suite"`
	TotalBytes uint64                `json:"total_bytes,omitempty"`
	FreeBytes  uint64                `json:"free_bytes,omitempty"`
	Ratio      float64               `json:"utilization,omitempty"`
}

func newMonitorCmd() *cobra.Command {
	var mf monitorFlags
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Run the integrity monitor until interrupted",
		Long: `Monitor runs the integrity suite and samples storage utilization on the
configured interval. Failures are logged; no repair is attempted.

With --metrics-addr the prometheus collectors are served at /metrics.
With --once a single pulse is run and printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMonitor(cmd, mf)
		},
	}
	cmd.Flags().StringVar(&mf.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address (e.g. :9090)")
	cmd.Flags().BoolVar(&mf.once, "once", false, "run one pulse, print it and exit")
	return cmd
}

func runMonitor(cmd *cobra.Command, mf monitorFlags) error {
	return withStore(cmd, func(ctx context.Context, store *ledgerkeep.Store) error {
		if mf.once {
			return runPulseOnce(ctx, cmd, store)
		}

		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()

		if mf.metricsAddr != "" {
			srv, err := serveMetrics(ctx, mf.metricsAddr)
			if err != nil {
				return sysError(err)
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
		}

		store.Monitor.StartContinuousMonitoring(ctx)
		fmt.Fprintf(cmd.OutOrStdout(), "monitoring %s every %s\n", cfg.DataDir, cfg.Monitor.Interval)
		<-ctx.Done()
		store.Monitor.StopMonitoring()
		return nil
	})
}

func runPulseOnce(ctx context.Context, cmd *cobra.Command, store *ledgerkeep.Store) error {
	p, err := store.Monitor.Pulse(ctx)
	if err != nil {
		return sysError(fmt.Errorf("pulse: %w", err))
	}
	out := pulseOutput{Suite: p.Suite, TotalBytes: p.Usage.Total, FreeBytes: p.Usage.Free}
	if p.Usage.Total > 0 {
		out.Ratio = p.Usage.Ratio()
	}
	if err := output(cmd, out, func(w io.Writer) {
		fmt.Fprintln(w, "integrity:", passFail(p.Suite.Passed))
		if p.Usage.Total > 0 {
			fmt.Fprintf(w, "storage:   %s of %s used (%.1f%%)\n",
				humanize.IBytes(p.Usage.Used()), humanize.IBytes(p.Usage.Total), out.Ratio*100)
		}
	}); err != nil {
		return err
	}
	if !p.Suite.Passed {
		return userError(types.ErrStoreUnhealthy)
	}
	return nil
}

// serveMetrics registers the collectors on a fresh registry and serves them
// until ctx is done.
func serveMetrics(ctx context.Context, addr string) (*http.Server, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(metrics.Collectors()...)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithFields(log.Fields{"addr": addr, "err": err}).Error("metrics server stopped")
		}
	}()
	log.WithField("addr", ln.Addr().String()).Info("serving metrics")
	return srv, nil
}
