package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Vodeneev/tounesbet/internal/crawler"
	"github.com/Vodeneev/tounesbet/internal/notify"
	"github.com/Vodeneev/tounesbet/internal/parser/parsers/tounesbet"
	"github.com/Vodeneev/tounesbet/internal/pkg/config"
	"github.com/Vodeneev/tounesbet/internal/pkg/health"
	"github.com/Vodeneev/tounesbet/internal/pkg/health/handlers"
	"github.com/Vodeneev/tounesbet/internal/pkg/logging"
	"github.com/Vodeneev/tounesbet/internal/pkg/storage"
	"github.com/Vodeneev/tounesbet/internal/statscore"
)

const (
	defaultConfigPath = "configs/production.yaml"
	serviceName       = "tounesbet"
	jobTimeout        = 10 * time.Minute
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           serviceName,
		Short:         "Tounesbet odds scraper and read API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", envOr("CONFIG_PATH", defaultConfigPath), "config file path")

	root.AddCommand(serveCmd(), discoverCmd(), hourlyCmd(), liveCmd(), prematchCmd(), marketsCmd(), statscoreCmd(), proxiesCmd())

	if err := root.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// app holds everything a subcommand needs.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     storage.Store
	client    *tounesbet.Client
	crawler   *crawler.Service
	statscore *statscore.Client
	closers   []func()
}

func newApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := logging.SetupLogger(&cfg.Logging, serviceName)
	if err != nil {
		return nil, fmt.Errorf("failed to setup logging: %w", err)
	}

	store, err := storage.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	a := &app{cfg: cfg, logger: logger, store: store}
	a.closers = append(a.closers, func() { _ = store.Close() })

	opts := []crawler.Option{crawler.WithLogger(logger)}
	if cfg.Redis.Addr != "" {
		cache, err := storage.NewRedisMarketsCache(&cfg.Redis)
		if err != nil {
			logger.Warn("markets cache disabled", "error", err)
		} else {
			opts = append(opts, crawler.WithCache(cache))
			a.closers = append(a.closers, func() { _ = cache.Close() })
		}
	}
	if cfg.Telegram.Enabled {
		tg, err := notify.NewTelegram(cfg.Telegram, logger)
		if err != nil {
			logger.Warn("telegram alerts disabled", "error", err)
		} else {
			opts = append(opts, crawler.WithNotifier(tg))
			a.closers = append(a.closers, tg.Stop)
		}
	}

	// The tracker is created by the crawler; the client reports into it
	// through a late-bound observer.
	var observe tounesbet.FetchObserver
	clientOpts := []tounesbet.Option{
		tounesbet.WithLogger(logger),
		tounesbet.WithObserver(func(u string, status int, d time.Duration, err error) {
			if observe != nil {
				observe(u, status, d, err)
			}
		}),
	}
	if cfg.Tounesbet.BrowserFallback {
		clientOpts = append(clientOpts, tounesbet.WithBrowser(tounesbet.NewBrowserFetcher(cfg.Tounesbet.UserAgent, 0)))
	}
	a.client = tounesbet.NewClient(cfg.Tounesbet, clientOpts...)
	a.crawler = crawler.NewService(store, a.client, cfg, opts...)
	observe = a.crawler.Tracker().RecordFetch
	a.statscore = statscore.NewClient(cfg.Statscore, a.client)
	return a, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// withApp runs fn with a loaded app and a signal-bound context.
func withApp(fn func(ctx context.Context, a *app) error) func(*cobra.Command, []string) error {
	return func(*cobra.Command, []string) error {
		ctx, stop := signalContext()
		defer stop()
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(ctx, a)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the read API and, when enabled, the scheduler",
		RunE: withApp(func(ctx context.Context, a *app) error {
			if a.cfg.Scheduler.Enabled {
				sch, err := crawler.NewScheduler(a.crawler, a.cfg.Scheduler, jobTimeout)
				if err != nil {
					return err
				}
				sch.Start(ctx)
			} else {
				a.logger.Info("scheduler disabled")
			}

			h := handlers.New(handlers.Deps{
				Store:     a.store,
				Crawler:   a.crawler,
				Prober:    a.client,
				Statscore: a.statscore,
				Logger:    a.logger,
			})
			err := health.Run(ctx, health.AddrFor(a.cfg.Health.Port), serviceName, handlers.NewRouter(h), a.cfg.Health.ReadHeaderTimeout)
			a.crawler.Tracker().PrintSummary()
			return err
		}),
	}
}

func discoverCmd() *cobra.Command {
	var batch int
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Process one batch of catalog pages",
		RunE: withApp(func(ctx context.Context, a *app) error {
			res, err := a.crawler.Discover(ctx, batch)
			if err != nil {
				return err
			}
			return printJSON(res)
		}),
	}
	cmd.Flags().IntVar(&batch, "batch", 0, "catalog pages per run (0 = config default)")
	return cmd
}

func hourlyCmd() *cobra.Command {
	var batch int
	cmd := &cobra.Command{
		Use:   "hourly",
		Short: "Refresh 1X2 odds for one batch of due matches",
		RunE: withApp(func(ctx context.Context, a *app) error {
			res, err := a.crawler.Hourly(ctx, batch)
			if err != nil {
				return err
			}
			return printJSON(res)
		}),
	}
	cmd.Flags().IntVar(&batch, "batch", 0, "matches per run (0 = config default)")
	return cmd
}

func liveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "live",
		Short: "Scrape the live page once",
		RunE: withApp(func(ctx context.Context, a *app) error {
			res, err := a.crawler.Live(ctx)
			if err != nil {
				return err
			}
			return printJSON(res)
		}),
	}
}

func prematchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prematch",
		Short: "Scrape the next-matches snapshot once",
		RunE: withApp(func(ctx context.Context, a *app) error {
			res, err := a.crawler.Prematch(ctx)
			if err != nil {
				return err
			}
			return printJSON(res)
		}),
	}
}

func marketsCmd() *cobra.Command {
	var fresh bool
	cmd := &cobra.Command{
		Use:   "markets <matchId>",
		Short: "Show the full markets of one match",
		Args:  cobra.ExactArgs(1),
	}
	cmd.Flags().BoolVar(&fresh, "fresh", false, "bypass the cache and refetch")
	cmd.RunE = func(c *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			res, err := a.crawler.FullMarkets(ctx, args[0], fresh)
			if err != nil {
				return err
			}
			return printJSON(res)
		})(c, args)
	}
	return cmd
}

func statscoreCmd() *cobra.Command {
	var persist bool
	cmd := &cobra.Command{
		Use:   "statscore <lsId>",
		Short: "Fetch live scoreboard metadata for one event",
		Args:  cobra.ExactArgs(1),
	}
	cmd.Flags().BoolVar(&persist, "persist", false, "store the result")
	cmd.RunE = func(c *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			if persist {
				meta, err := a.statscore.Refresh(ctx, a.store, args[0])
				if err != nil {
					return err
				}
				return printJSON(meta)
			}
			meta, err := a.statscore.LiveMeta(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(meta)
		})(c, args)
	}
	return cmd
}

func proxiesCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "proxies",
		Short: "Check every configured proxy against the site",
		RunE: func(*cobra.Command, []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if len(cfg.Tounesbet.ProxyList) == 0 {
				fmt.Println("No proxy_list found in config (tounesbet.proxy_list).")
				return nil
			}
			ctx, stop := signalContext()
			defer stop()

			results := tounesbet.CheckProxies(ctx, cfg.Tounesbet, path)
			ok := 0
			for _, r := range results {
				if r.OK {
					ok++
					fmt.Printf("[OK] %s -> HTTP %d in %s\n", r.Proxy, r.Status, r.Duration.Round(time.Millisecond))
				} else {
					fmt.Printf("[FAIL] %s -> %s\n", r.Proxy, r.Error)
				}
			}
			fmt.Printf("\n--- Summary: %d OK, %d FAIL (total %d)\n", ok, len(results)-ok, len(results))
			if ok == 0 {
				return fmt.Errorf("all proxies failed")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "/", "site path to probe")
	return cmd
}
