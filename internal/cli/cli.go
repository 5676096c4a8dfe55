// ============================================================================
// Trip-Planner CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Cobra 命令列介面，組裝配置、worker 註冊表、scheduler 與伺服器
//
// Command Structure:
//   trip-planner                   # Root command
//   ├── serve                      # 啟動 HTTP / gRPC / metrics 服務
//   ├── plan                       # 執行單一查詢並逐步輸出快照
//   │   ├── --server               # 送到遠端 gRPC 服務而非本機執行
//   │   └── --output, -o           # 將 Final 快照匯出為 JSON
//   ├── config show                # 顯示合併後的配置（API key 遮蔽）
//   ├── --config, -c               # 配置檔（預設 configs/default.yaml）
//   └── --version
//
// serve Signal Handling:
//   SIGINT / SIGTERM 觸發優雅關閉：
//   1. health 狀態改為 NOT_SERVING
//   2. 取消所有進行中請求（各自立即送出 Final）
//   3. 等待 gRPC 串流與 SSE 連線結束（上限 shutdownTimeout）
//
// plan Examples:
//   ./trip-planner plan -d 台北 --check-in 2030-03-01 --check-out 2030-03-03 \
//       --adults 2 --budget-min 2000 --budget-max 5000 -p "歷史 文化"
//   ./trip-planner plan -r request.yaml -o plan.json
//   ./trip-planner plan -r request.yaml --server localhost:50051
//
// ============================================================================

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ChuLiYu/trip-planner/internal/config"
	"github.com/ChuLiYu/trip-planner/internal/coordinator"
	"github.com/ChuLiYu/trip-planner/internal/export"
	"github.com/ChuLiYu/trip-planner/internal/metrics"
	"github.com/ChuLiYu/trip-planner/internal/producer"
	"github.com/ChuLiYu/trip-planner/internal/render"
	"github.com/ChuLiYu/trip-planner/internal/scheduler"
	"github.com/ChuLiYu/trip-planner/internal/server"
	"github.com/ChuLiYu/trip-planner/pkg/types"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

const (
	defaultConfigPath = "configs/default.yaml"
	shutdownTimeout   = 10 * time.Second
)

var configFile string

func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "trip-planner",
		Short: "Trip-Planner: progressive travel recommendations",
		Long: `Trip-Planner answers a travel query progressively:
- a quick acknowledgement within the quick-ack deadline
- partial hotel, itinerary and transport sections as workers report
- a final answer by the hard deadline, with late sections marked degraded`,
		Version:       "1.0.0",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", defaultConfigPath, "config file path")

	rootCmd.AddCommand(buildServeCommand())
	rootCmd.AddCommand(buildPlanCommand())
	rootCmd.AddCommand(buildConfigCommand())

	return rootCmd
}

// loadConfig reads the config file. A missing default file falls back to the
// built-in defaults; a missing file named explicitly is an error.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) && path == defaultConfigPath {
		slog.Debug("Default config file not found, using built-in defaults", "path", path)
		return config.Load("")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// setupLogging installs the configured slog handler as the default logger.
func setupLogging(lc config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(lc.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if strings.EqualFold(lc.Format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger
}

// newService wires the worker registry, scheduler and coordinator service.
// collector may be nil.
func newService(cfg *config.Config, collector *metrics.Collector, catalogDelay time.Duration) (*coordinator.Service, error) {
	src := producer.SourcesFor(cfg.Upstream, catalogDelay)
	workers, err := producer.Registry(cfg.EnabledWorkers(), src, cfg.Upstream.SearchRadius)
	if err != nil {
		return nil, fmt.Errorf("failed to build worker registry: %w", err)
	}

	schedCfg := scheduler.Config{
		GracePeriod:    cfg.Planner.GracePeriod.D(),
		MaxConcurrency: cfg.Planner.MaxConcurrency,
	}
	opts := []coordinator.ServiceOption{coordinator.WithRetention(cfg.Planner.Retention.D())}
	if collector != nil {
		schedCfg.Recorder = collector
		opts = append(opts, coordinator.WithRecorder(collector))
	}

	coordCfg := coordinator.Config{
		QuickAck: cfg.Planner.QuickAck.D(),
		Final:    cfg.Planner.Final.D(),
		Workers:  workers,
	}
	return coordinator.NewService(scheduler.New(schedCfg), coordCfg, opts...), nil
}

// ============================================================================
// serve
// ============================================================================

func buildServeCommand() *cobra.Command {
	var catalogDelay time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP, gRPC and metrics servers",
		Long:  "Serve the planner over HTTP (JSON + SSE) and gRPC until SIGINT or SIGTERM",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return err
			}
			setupLogging(cfg.Log, cmd.ErrOrStderr())

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, catalogDelay)
		},
	}

	cmd.Flags().DurationVar(&catalogDelay, "catalog-delay", 0, "simulated latency of the offline catalog")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, catalogDelay time.Duration) error {
	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector()
	}
	svc, err := newService(cfg, collector, catalogDelay)
	if err != nil {
		return err
	}

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Server.GRPCAddr, err)
	}
	grpcSrv, health := server.NewGRPCServer(svc)
	httpSrv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           server.NewHTTPHandler(svc, cfg.Server.CORSOrigins),
		ReadHeaderTimeout: 5 * time.Second,
	}
	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		metricsSrv = metrics.NewServer(cfg.Metrics.Port)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("gRPC server listening", "addr", lis.Addr().String())
		if err := grpcSrv.Serve(lis); err != nil {
			return fmt.Errorf("gRPC server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		slog.Info("HTTP API listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})
	if metricsSrv != nil {
		g.Go(func() error {
			slog.Info("Metrics server listening", "addr", metricsSrv.Addr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server failed: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Received shutdown signal, stopping gracefully...", "active", svc.Active())

		health.Shutdown()
		svc.CancelAll()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		stopped := make(chan struct{})
		go func() {
			grpcSrv.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			grpcSrv.Stop()
		}

		var errs []error
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
		}
		if metricsSrv != nil {
			if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("metrics shutdown: %w", err))
			}
		}
		slog.Info("Servers stopped")
		return errors.Join(errs...)
	})

	return g.Wait()
}

// ============================================================================
// plan
// ============================================================================

type planOptions struct {
	requestFile string
	destination string
	checkIn     string
	checkOut    string
	adults      int
	children    int
	budgetMin   int
	budgetMax   int
	preferences string

	serverAddr   string
	output       string
	jsonOutput   bool
	catalogDelay time.Duration
}

func buildPlanCommand() *cobra.Command {
	return newPlanCommand(&planOptions{})
}

// newPlanCommand binds the plan flags to opts.
func newPlanCommand(opts *planOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Plan a trip and print every snapshot",
		Long:  "Run one travel query, locally or against --server, and print each snapshot as it arrives",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return err
			}
			setupLogging(cfg.Log, cmd.ErrOrStderr())

			req, err := opts.request(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runPlan(ctx, cfg, req, *opts, cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.requestFile, "request", "r", "", "YAML or JSON request file")
	f.StringVarP(&opts.destination, "destination", "d", "", "destination city")
	f.StringVar(&opts.checkIn, "check-in", "", "check-in date (YYYY-MM-DD)")
	f.StringVar(&opts.checkOut, "check-out", "", "check-out date (YYYY-MM-DD)")
	f.IntVar(&opts.adults, "adults", 1, "number of adults")
	f.IntVar(&opts.children, "children", 0, "number of children")
	f.IntVar(&opts.budgetMin, "budget-min", 0, "minimum nightly budget")
	f.IntVar(&opts.budgetMax, "budget-max", 0, "maximum nightly budget")
	f.StringVarP(&opts.preferences, "preferences", "p", "", "free-text interests")
	f.StringVar(&opts.serverAddr, "server", "", "gRPC address of a running planner (e.g. localhost:50051)")
	f.StringVarP(&opts.output, "output", "o", "", "write the final snapshot to this JSON file")
	f.BoolVar(&opts.jsonOutput, "json", false, "print snapshots as JSON lines")
	f.DurationVar(&opts.catalogDelay, "catalog-delay", 0, "simulated latency of the offline catalog")

	return cmd
}

// request builds the query from the request file, then applies the flags
// that were set explicitly.
func (o planOptions) request(cmd *cobra.Command) (types.Request, error) {
	var req types.Request
	if o.requestFile != "" {
		data, err := os.ReadFile(o.requestFile)
		if err != nil {
			return req, fmt.Errorf("failed to read request file: %w", err)
		}
		if err := yaml.Unmarshal(data, &req); err != nil {
			return req, fmt.Errorf("failed to parse request file: %w", err)
		}
	}

	changed := func(name string) bool {
		return o.requestFile == "" || cmd.Flags().Changed(name)
	}
	if changed("destination") {
		req.Destination = o.destination
	}
	if changed("check-in") && o.checkIn != "" {
		d, err := types.ParseDate(o.checkIn)
		if err != nil {
			return req, err
		}
		req.Dates.CheckIn = d
	}
	if changed("check-out") && o.checkOut != "" {
		d, err := types.ParseDate(o.checkOut)
		if err != nil {
			return req, err
		}
		req.Dates.CheckOut = d
	}
	if changed("adults") {
		req.Party.Adults = o.adults
	}
	if changed("children") {
		req.Party.Children = o.children
	}
	if changed("budget-min") {
		req.Budget.Min = o.budgetMin
	}
	if changed("budget-max") {
		req.Budget.Max = o.budgetMax
	}
	if changed("preferences") {
		req.Preferences = o.preferences
	}
	return req, nil
}

func runPlan(ctx context.Context, cfg *config.Config, req types.Request, opts planOptions, out io.Writer) error {
	emit := snapshotPrinter(out, opts.jsonOutput)

	var (
		final types.AggregateSnapshot
		err   error
	)
	if opts.serverAddr != "" {
		final, err = planRemote(ctx, opts.serverAddr, req, emit)
	} else {
		final, err = planLocal(ctx, cfg, req, opts.catalogDelay, emit)
	}
	if err != nil {
		return err
	}

	if opts.output != "" {
		exp := export.NewExporter(opts.output)
		if exp.Exists() {
			slog.Warn("Overwriting existing export", "path", exp.Path())
		}
		if err := exp.Write(final); err != nil {
			return fmt.Errorf("failed to export plan: %w", err)
		}
		slog.Info("Final snapshot exported", "path", exp.Path(), "request", final.RequestID)
	}
	return nil
}

func planLocal(ctx context.Context, cfg *config.Config, req types.Request, catalogDelay time.Duration, emit func(types.AggregateSnapshot) error) (types.AggregateSnapshot, error) {
	svc, err := newService(cfg, nil, catalogDelay)
	if err != nil {
		return types.AggregateSnapshot{}, err
	}
	ticket, err := svc.Handle(ctx, req)
	if err != nil {
		return types.AggregateSnapshot{}, err
	}

	var after uint64
	for {
		snap, err := ticket.Channel.Next(ctx, after)
		if err != nil && ctx.Err() != nil {
			// 使用者中斷：取消請求並印出取消後的 Final
			_ = svc.Cancel(ticket.RequestID)
			waitCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			snap, err = ticket.Channel.Final(waitCtx)
			cancel()
			if err != nil {
				return snap, err
			}
		} else if err != nil {
			return snap, err
		}

		if err := emit(snap); err != nil {
			return snap, err
		}
		if snap.IsFinal() {
			return snap, nil
		}
		after = snap.Seq
	}
}

func planRemote(ctx context.Context, addr string, req types.Request, emit func(types.AggregateSnapshot) error) (types.AggregateSnapshot, error) {
	client, err := server.Dial(addr)
	if err != nil {
		return types.AggregateSnapshot{}, err
	}
	defer client.Close()
	return client.Plan(ctx, req, emit)
}

// snapshotPrinter prints each snapshot as rendered text or as a JSON line.
func snapshotPrinter(out io.Writer, asJSON bool) func(types.AggregateSnapshot) error {
	if asJSON {
		enc := json.NewEncoder(out)
		return func(s types.AggregateSnapshot) error { return enc.Encode(s) }
	}
	return func(s types.AggregateSnapshot) error {
		if _, err := fmt.Fprintf(out, "── [%s #%d] ──\n", s.Stage, s.Seq); err != nil {
			return err
		}
		if err := render.Write(out, s); err != nil {
			return err
		}
		_, err := fmt.Fprintln(out)
		return err
	}
}

// ============================================================================
// config
// ============================================================================

func buildConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Long:  "Print the configuration after defaults and environment overrides, with the API key masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return err
			}
			data, err := cfg.Marshal()
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	})
	return cmd
}
