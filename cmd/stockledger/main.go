package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/urfave/cli/v2"

	ledgercli "github.com/odyssey-erp/stockledger/cmd/stockledger/cli"
	"github.com/odyssey-erp/stockledger/internal/app"
	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/inventory/transfer"
	"github.com/odyssey-erp/stockledger/internal/observability"
	"github.com/odyssey-erp/stockledger/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		var exit cli.ExitCoder
		if errors.As(err, &exit) {
			if msg := exit.Error(); msg != "" {
				fmt.Fprintln(os.Stderr, msg)
			}
			os.Exit(exit.ExitCode())
		}
		slog.Default().Error("stockledger", slog.Any("error", err))
		os.Exit(1)
	}
}

// runtime carries what the root Before hook loaded.
type runtime struct {
	cfg    *app.Config
	logger *slog.Logger
}

func newApp() *cli.App {
	rt := &runtime{}
	return &cli.App{
		Name:  "stockledger",
		Usage: "Stock ledger API and operator tools",
		Before: func(c *cli.Context) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			rt.cfg = cfg
			rt.logger = app.NewLogger(cfg)
			return nil
		},
		ExitErrHandler: func(*cli.Context, error) {},
		DefaultCommand: "serve",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API",
				Action: rt.serve,
			},
			{
				Name:  "reconcile",
				Usage: "Fold the movement log against stored balances",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "product", Usage: "product id (requires --warehouse)"},
					&cli.Int64Flag{Name: "warehouse", Usage: "warehouse id (requires --product)"},
					&cli.IntFlag{Name: "concurrency", Usage: "parallel stock units, defaults to RECONCILE_CONCURRENCY"},
					&cli.BoolFlag{Name: "json", Usage: "print JSON"},
				},
				Action: rt.reconcile,
			},
			{
				Name:  "jobs",
				Usage: "Manage ledger background jobs",
				Subcommands: []*cli.Command{
					{
						Name:      "trigger",
						Usage:     "Enqueue a job now",
						ArgsUsage: "<ledger:reconcile|ledger:expiry_sweep|inventory:revaluation>",
						Flags: []cli.Flag{
							&cli.Int64Flag{Name: "product", Usage: "product id (reconcile)"},
							&cli.Int64Flag{Name: "warehouse", Usage: "warehouse id (reconcile)"},
							&cli.StringFlag{Name: "as-of", Usage: "cut-off date YYYY-MM-DD (expiry sweep)"},
						},
						Action: rt.trigger,
					},
					{
						Name:   "stats",
						Usage:  "Show the default queue",
						Action: rt.stats,
					},
				},
			},
		},
	}
}

func (rt *runtime) serve(c *cli.Context) error {
	cfg, logger := rt.cfg, rt.logger
	metrics := observability.NewMetrics()
	ledger, err := app.BuildLedger(c.Context, cfg, logger, app.LedgerOptions{Metrics: metrics})
	if err != nil {
		return err
	}
	defer ledger.Close()

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		InventoryHandler: inventory.NewHandler(logger, ledger.Service, ledger.Reconciler),
		TransferHandler:  transfer.NewHandler(logger, ledger.Transfers),
		JobHandler:       jobs.NewHandler(inspector, logger),
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("store", cfg.LedgerStore))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-c.Context.Done():
	case err := <-errCh:
		return err
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func (rt *runtime) reconcile(c *cli.Context) error {
	ledger, err := app.BuildLedger(c.Context, rt.cfg, rt.logger, app.LedgerOptions{})
	if err != nil {
		return err
	}
	defer ledger.Close()

	concurrency := c.Int("concurrency")
	if concurrency <= 0 {
		concurrency = rt.cfg.ReconcileConcurrency
	}
	code := ledgercli.ReconcileCommand(c.Context, ledger.Reconciler, ledgercli.ReconcileOptions{
		ProductID:   c.Int64("product"),
		WarehouseID: c.Int64("warehouse"),
		Concurrency: concurrency,
		JSONOutput:  c.Bool("json"),
		Stdout:      c.App.Writer,
		Stderr:      c.App.ErrWriter,
	})
	return exitCode(code)
}

func (rt *runtime) trigger(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("jobs trigger: exactly one job name expected", 2)
	}
	jobsCLI := ledgercli.NewJobsCLI(rt.cfg.RedisAddr)
	defer jobsCLI.Close()

	code := jobsCLI.TriggerCommand(c.Context, ledgercli.TriggerOptions{
		Name:        c.Args().First(),
		ProductID:   c.Int64("product"),
		WarehouseID: c.Int64("warehouse"),
		AsOf:        c.String("as-of"),
		Stdout:      c.App.Writer,
		Stderr:      c.App.ErrWriter,
	})
	return exitCode(code)
}

func (rt *runtime) stats(c *cli.Context) error {
	jobsCLI := ledgercli.NewJobsCLI(rt.cfg.RedisAddr)
	defer jobsCLI.Close()

	stats, err := jobsCLI.InspectQueue()
	if err != nil {
		return cli.Exit(fmt.Sprintf("jobs stats: %v", err), 1)
	}
	_, _ = fmt.Fprintf(c.App.Writer, "queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
		stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
	return nil
}

// exitCode turns a command status into an error the CLI reports. The
// command already printed its own diagnostics.
func exitCode(code int) error {
	if code == 0 {
		return nil
	}
	return cli.Exit("", code)
}
