package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/fatih/color"
	"github.com/gorilla/mux"
	"github.com/gosuri/uitable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/plugstack/pkg/assembly"
	"github.com/platinummonkey/plugstack/pkg/dependencies"
	"github.com/platinummonkey/plugstack/pkg/httputil"
	"github.com/platinummonkey/plugstack/pkg/observability"
)

func newRunCommand(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the tick loop through the stack",
		Long: heredoc.Doc(`
			Build the stack of the manifest and tick through it. Between
			batches the stage controller polls the plugins for stages and
			applies them, recomposing the stack when a stage asks for it.
		`),
		Example: heredoc.Doc(`
			# Tick a million times through the built-in stack
			plugstack run

			# Watch a manifest and serve metrics
			plugstack run --manifest stack.yaml --metrics-addr :9090

			# Run four independent instances
			plugstack run --instances 4 --ticks 100000
		`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd)
		},
	}

	flags := cmd.Flags()
	flags.Int("ticks", 1_000_000, "Number of ticks per instance")
	flags.Int("batch", 10_000, "Ticks between stage polls")
	flags.Int("instances", 1, "Number of independent instances")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	o.bindFlags(flags, map[string]string{
		"ticks":        "host.ticks",
		"batch":        "host.batch",
		"instances":    "host.instances",
		"metrics-addr": "metrics.addr",
	})

	return cmd
}

func (o *rootOptions) run(cmd *cobra.Command) error {
	cfg, logger, err := o.load()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.Metrics.Enabled = true
	}
	manifest, err := o.manifest(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sm := observability.NewShutdownManager(logger, cfg.Host.ShutdownTimeout)

	providers, err := observability.InitOTel(ctx, cfg.Tracing.OTel(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	sm.Register("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, logger)
	})

	var (
		metrics  *observability.Metrics
		registry *prometheus.Registry
	)
	if cfg.Metrics.Enabled {
		registry = prometheus.NewRegistry()
		metrics = observability.NewMetrics(registry)
	}

	resolver := dependencies.NewResolver(cfg.Resolver.Options(metrics)...)
	asm := assembly.NewAssembler(assembly.WithLogger(logger), assembly.WithMetrics(metrics))
	checker := observability.NewHealthChecker(version)

	hosts := make([]*host, cfg.Host.Instances)
	for i := range hosts {
		h := &host{
			id:        i,
			cfg:       cfg.Host,
			manifest:  manifest,
			registry:  o.registry,
			resolver:  resolver,
			assembler: asm,
			logger:    logger.WithField("instance", i),
			metrics:   metrics,
		}
		hosts[i] = h
		checker.AddCheck(fmt.Sprintf("instance-%d", i), true, h.health)
	}

	if registry != nil {
		srv := newMetricsServer(cfg.Metrics.Addr, registry, checker, planLookup(hosts), logger)
		go func() {
			defer observability.RecoverPanic(logger, "metrics server")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Error("Metrics server failed")
			}
		}()
		sm.Register("metrics-server", srv.Shutdown)
		logger.WithField("addr", cfg.Metrics.Addr).Info("Serving metrics")
	}

	summaries := make([]*summary, len(hosts))
	g, gctx := errgroup.WithContext(ctx)
	for i, h := range hosts {
		g.Go(func() error {
			s, err := h.start(gctx)
			if err != nil {
				return fmt.Errorf("instance %d: %w", i, err)
			}
			summaries[i] = s
			return nil
		})
	}
	runErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Host.ShutdownTimeout)
	defer cancel()
	shutdownErr := sm.Shutdown(shutdownCtx)

	if runErr != nil {
		return runErr
	}
	printSummaries(o.out, summaries)
	return shutdownErr
}

// planLookup resolves an instance number to the plan of its current stack
func planLookup(hosts []*host) dependencies.PlanLookup {
	return func(name string) (*dependencies.Plan, bool) {
		i, err := strconv.Atoi(name)
		if err != nil || i < 0 || i >= len(hosts) {
			return nil, false
		}
		return hosts[i].plan()
	}
}

func newMetricsServer(addr string, registry *prometheus.Registry, checker *observability.HealthChecker, plans dependencies.PlanLookup, logger logrus.FieldLogger) *http.Server {
	r := mux.NewRouter()
	r.Use(httputil.RequestIDMiddleware, httputil.LoggingMiddleware(logger), httputil.RecoveryMiddleware(logger))
	r.Handle("/metrics", observability.MetricsHandler(registry)).Methods(http.MethodGet)
	observability.RegisterHealthRoutes(r, checker)
	dependencies.NewGraphVisualizationHandlers(plans).RegisterRoutes(r)

	return &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func printSummaries(out io.Writer, summaries []*summary) {
	table := uitable.New()
	table.MaxColWidth = 40
	table.AddRow(
		color.New(color.Bold).Sprint("INSTANCE"),
		color.New(color.Bold).Sprint("TICKS"),
		color.New(color.Bold).Sprint("COUNTER"),
		color.New(color.Bold).Sprint("TICKS/S"),
		color.New(color.Bold).Sprint("STAGES"),
		color.New(color.Bold).Sprint("PLUGINS"),
		color.New(color.Bold).Sprint("ELAPSED"),
		color.New(color.Bold).Sprint("STACK"),
	)
	for _, s := range summaries {
		if s == nil {
			continue
		}
		table.AddRow(s.Instance, s.Ticks, s.Counter, fmt.Sprintf("%.0f", s.Frequency), s.Stages, s.Plugins, s.Elapsed.Round(time.Millisecond), s.StackID)
	}
	fmt.Fprintln(out, table)
}
