package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	ossignal "os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/qcrawl/qcrawl/internal/config"
	"github.com/qcrawl/qcrawl/internal/crawler"
	"github.com/qcrawl/qcrawl/internal/linkspider"
	"github.com/qcrawl/qcrawl/internal/middleware"
	"github.com/qcrawl/qcrawl/internal/observability"
	"github.com/qcrawl/qcrawl/internal/signal"
)

var (
	cfgFile        string
	verbose        bool
	depth          int
	concurrent     int
	maxRetries     int
	allowedDomains string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "qcrawl",
		Short: "qcrawl — a concurrent, signal-driven web crawler",
		Long: `qcrawl crawls a set of seed URLs, following links up to a configured
depth, extracting a page summary per stop, and logging final stats when the
crawl completes.

Middlewares (retry, robots.txt compliance, depth limiting, offsite
filtering) are plugged into the crawl through a name-keyed registry rather
than hardcoded into the engine, so the settings' middleware list can enable
or configure them per crawl.`,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(crawlCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func crawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl [url]...",
		Short: "Crawl the given seed URL(s), following links and extracting page summaries",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runCrawl,
	}

	cmd.Flags().IntVarP(&depth, "depth", "d", 3, "maximum crawl depth")
	cmd.Flags().IntVarP(&concurrent, "concurrency", "n", 10, "number of concurrent workers")
	cmd.Flags().IntVar(&maxRetries, "max-retries", -1, "max retries per failed request (-1 = use config default)")
	cmd.Flags().StringVar(&allowedDomains, "allowed-domains", "", "comma-separated domains to stay within (empty = unrestricted)")

	return cmd
}

func runCrawl(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	settings, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyCLIOverrides(settings)
	if err := config.Validate(settings); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	for _, rawURL := range args {
		if err := config.ValidateURL(rawURL); err != nil {
			return fmt.Errorf("invalid seed URL %q: %w", rawURL, err)
		}
	}

	bus := signal.New()

	var metrics *observability.Metrics
	if settings.Metrics.Enabled {
		metrics = observability.NewMetrics(logger)
		if err := metrics.StartServer(settings.Metrics.Port, settings.Metrics.Path); err != nil {
			logger.Warn("failed to start metrics server", "error", err)
		}
	}

	domains := splitCommaList(allowedDomains)
	spider := linkspider.New("qcrawl-demo", args, depth, domains, logger)
	registry := buildRegistry(bus, spider)

	retryOptions := map[string]any{}
	if maxRetries >= 0 {
		retryOptions["max_retries"] = maxRetries
	}
	settings.Middlewares = append(settings.Middlewares,
		config.MiddlewareSettings{Name: "retry", Priority: 100, Options: retryOptions},
		config.MiddlewareSettings{Name: "depth", Priority: 50, Options: map[string]any{"max_depth": depth}},
	)
	if len(domains) > 0 {
		settings.Middlewares = append(settings.Middlewares, config.MiddlewareSettings{Name: "offsite", Priority: 25, Options: map[string]any{"allowed_domains": domains}})
	}

	c := crawler.New(spider, settings, registry, bus, nil, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	start := time.Now()
	crawlErr := c.Crawl(ctx)
	elapsed := time.Since(start)

	if metrics != nil {
		logger.Info("final metrics", "snapshot", metrics.Snapshot())
	}

	fmt.Printf("crawl finished in %s\n", elapsed.Round(time.Millisecond))
	if crawlErr != nil {
		return fmt.Errorf("crawl ended with error: %w", crawlErr)
	}
	return nil
}

// buildRegistry registers the middlewares a real deployment would configure
// through TOML, adapting each constructor's typed arguments from the
// per-middleware settings map a config.MiddlewareSettings.Options carries.
// bus and sender are closed over by factories that emit signals of their own
// (offsite's request_dropped) rather than leaving that to the engine.
func buildRegistry(bus *signal.Bus, sender any) *middleware.Registry {
	registry := middleware.NewRegistry()

	registry.RegisterDownloader("retry", func(settings map[string]any) (middleware.DownloaderMiddleware, error) {
		maxRetries := 3
		if n, ok := settings["max_retries"].(int); ok {
			maxRetries = n
		}
		return middleware.NewRetryMiddleware(maxRetries), nil
	})

	registry.RegisterDownloader("robotstxt", func(settings map[string]any) (middleware.DownloaderMiddleware, error) {
		userAgent := "qcrawl"
		if ua, ok := settings["user_agent"].(string); ok && ua != "" {
			userAgent = ua
		}
		return middleware.NewRobotsTxtMiddleware(userAgent), nil
	})

	registry.RegisterSpider("depth", func(settings map[string]any) (middleware.SpiderMiddleware, error) {
		maxDepth := depth
		if d, ok := settings["max_depth"].(int); ok {
			maxDepth = d
		}
		return middleware.NewDepthMiddleware(maxDepth), nil
	})

	registry.RegisterSpider("offsite", func(settings map[string]any) (middleware.SpiderMiddleware, error) {
		domains, _ := settings["allowed_domains"].([]string)
		return middleware.NewOffsiteMiddleware(domains, bus, sender), nil
	})

	return registry
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("qcrawl %s\n", config.Version)
		},
	}
}

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			fmt.Printf("Engine:\n  Concurrency:     %d\n  Request Timeout: %s\n",
				settings.Engine.Concurrency, settings.Engine.RequestTimeout)
			fmt.Printf("Queue:\n  Max Size:        %d\n", settings.Queue.MaxSize)
			fmt.Printf("Fingerprinter:\n  Digest Size:     %d\n", settings.Fingerprinter.DigestSize)
			fmt.Printf("Handlers:\n  Configured:      %v\n", settings.Handlers.Configured)
			fmt.Printf("Logging:\n  Level:           %s\n  Format:          %s\n",
				settings.Logging.Level, settings.Logging.Format)
			fmt.Printf("Metrics:\n  Enabled:         %v\n  Port:            %d\n",
				settings.Metrics.Enabled, settings.Metrics.Port)
			return nil
		},
	}
}

func setupLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}

func applyCLIOverrides(settings *config.Settings) {
	if concurrent > 0 {
		settings.Engine.Concurrency = concurrent
	}
}

func splitCommaList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
