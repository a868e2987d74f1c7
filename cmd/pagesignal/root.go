package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime/debug"

	"github.com/spf13/cobra"
	"github.com/use-agent/pagesignal/cache"
	"github.com/use-agent/pagesignal/config"
	"github.com/use-agent/pagesignal/probe"
	"github.com/use-agent/pagesignal/renderer"
	"github.com/use-agent/pagesignal/scanner"
)

// version is set at build time via ldflags.
var version = ""

func getVersion() string {
	if version != "" {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "(devel)"
}

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pagesignal",
		Short: "Extract script and domain signals from web pages",
		Long: `pagesignal loads each target URL in a shared headless Chromium, climbing
from a direct navigation to a certificate-bypass navigation and finally a
forward-proxy navigation, and records per page:

  js_len             total characters of inline and same-origin scripts
  js_obf_len         characters of scripts whose entropy exceeds the threshold
  js_external_count  number of cross-origin scripts
  is_https           1 for https, 0 otherwise, -1 if the URL is unparsable
  whois_complete     1 when the domain's WHOIS record names a registrar`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringP("config", "c", os.Getenv("PAGESIGNAL_CONFIG"), "YAML configuration file")
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")

	cmd.AddCommand(NewScanCmd())
	cmd.AddCommand(NewServeCmd())
	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration named by --config and installs the logger.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		cfg.Log.Level = "debug"
	}
	slog.SetDefault(newLogger(cfg.Log, cmd.ErrOrStderr()))
	return cfg, nil
}

// newLogger builds the slog logger described by cfg.
func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

// pipeline holds the long-lived collaborators shared by every batch.
type pipeline struct {
	cfg      *config.Config
	renderer *renderer.Manager
	prober   *probe.Prober
	cache    *cache.Cache
}

func newPipeline(cfg *config.Config) *pipeline {
	logger := slog.Default()
	mgr := renderer.NewManager(
		renderer.RodLauncher(renderer.RodOptions{
			Headless:   cfg.Browser.Headless,
			NoSandbox:  cfg.Browser.NoSandbox,
			BrowserBin: cfg.Browser.BrowserBin,
			Stealth:    cfg.Browser.Stealth,

			ProtocolTimeout: cfg.Browser.ProtocolTimeout,
		}),
		renderer.WithWarmup(cfg.Scan.Delays.Warmup),
		renderer.WithLogger(logger),
	)

	wc := cache.New(cfg.Whois.CacheMaxEntries, cfg.Whois.CacheTTL)
	prober := probe.NewProber(
		probe.NewWhoisRegistry(cfg.Whois.Timeout),
		probe.WithRetry(cfg.Whois.Attempts, cfg.Whois.Backoff),
		probe.WithRateLimit(cfg.Whois.RatePerSecond, cfg.Whois.Burst),
		probe.WithCache(wc),
		probe.WithProberLogger(logger),
	)
	return &pipeline{cfg: cfg, renderer: mgr, prober: prober, cache: wc}
}

func (p *pipeline) scanner(sinks ...scanner.Sink) *scanner.Scanner {
	opts := []scanner.Option{scanner.WithLogger(slog.Default())}
	for _, s := range sinks {
		opts = append(opts, scanner.WithSink(s))
	}
	return scanner.New(p.cfg, p.renderer, p.prober, opts...)
}

func (p *pipeline) Close() {
	p.cache.Stop()
	if err := p.renderer.Close(); err != nil {
		slog.Debug("browser close failed", "error", err)
	}
}
