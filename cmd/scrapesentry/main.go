// cmd/scrapesentry/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"
	"time"

	"github.com/valpere/ScrapeSentry/internal"
	"github.com/valpere/ScrapeSentry/internal/config"
	"github.com/valpere/ScrapeSentry/internal/export"
	"github.com/valpere/ScrapeSentry/internal/monitor"
	"github.com/valpere/ScrapeSentry/internal/monitoring"
	"github.com/valpere/ScrapeSentry/internal/notify"
	"github.com/valpere/ScrapeSentry/internal/storage"
	"github.com/valpere/ScrapeSentry/internal/utils"
	"github.com/valpere/ScrapeSentry/pkg/types"
)

// Version information (set by build flags)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "validate":
		requireConfigArg("validate")
		if err := runValidate(os.Args[2]); err != nil {
			fail(err)
		}

	case "template":
		fmt.Print(config.GenerateTemplate())

	case "watch":
		requireConfigArg("watch")
		if err := runWatch(os.Args[2], hasFlag("--once")); err != nil {
			fail(err)
		}

	case "analyze":
		requireConfigArg("analyze")
		if err := runAnalyze(os.Args[2]); err != nil {
			fail(err)
		}

	case "stats":
		requireConfigArg("stats")
		if err := runStats(os.Args[2], os.Args[3:]); err != nil {
			fail(err)
		}

	case "reset":
		if len(os.Args) < 4 {
			fmt.Fprintf(os.Stderr, "Error: config file and url required\n")
			fmt.Fprintf(os.Stderr, "Usage: scrapesentry reset <config.yaml> <url>\n")
			os.Exit(1)
		}
		if err := runReset(os.Args[2], os.Args[3]); err != nil {
			fail(err)
		}

	case "version", "--version":
		printVersion()

	case "help", "--help", "-h":
		printUsage()

	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command '%s'\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runValidate(configFile string) error {
	cfg, err := config.LoadFromFile(configFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// Config-level validation only requires selectors to be non-empty;
	// compile each one so typos surface here instead of mid-watch.
	var bad int
	for _, target := range cfg.Watch.Targets {
		for _, sel := range target.Selectors {
			if _, err := types.NewSelector(sel.Selector); err != nil {
				fmt.Fprintf(os.Stderr, "  ✗ %s/%s: %v\n", target.Name, sel.Field, err)
				bad++
			}
		}
	}
	if bad > 0 {
		return fmt.Errorf("%d selector(s) failed to compile", bad)
	}

	fmt.Printf("✓ Configuration file '%s' is valid\n", configFile)
	if hasFlag("-v") || hasFlag("--verbose") {
		fmt.Printf("  Targets: %d\n", len(cfg.Watch.Targets))
		for _, target := range cfg.Watch.Targets {
			fmt.Printf("    %s (%s), %d tracked selectors\n", target.Name, target.URL, len(target.Selectors))
		}
		fmt.Printf("  Check interval: %s\n", cfg.Watch.Interval())
		fmt.Printf("  Storage: %s\n", cfg.Storage.Path)
		fmt.Printf("  Recovery: enabled=%v mapper=%s\n", cfg.Recovery.Enabled, cfg.Recovery.Mapper)
	}
	return nil
}

func runWatch(configFile string, once bool) error {
	cfg, store, err := loadAndOpen(configFile)
	if err != nil {
		return err
	}
	defer store.Close()

	dispatcher, err := notify.NewDispatcher(cfg.Notify)
	if err != nil {
		return err
	}
	defer dispatcher.Close()

	var metrics *monitoring.Metrics
	if cfg.Monitoring.Metrics.Enabled {
		metrics = monitoring.NewMetrics()
	}

	mon, err := monitor.New(cfg, store, &monitor.Options{
		Notifier: dispatcher,
		Metrics:  metrics,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if once {
		outcomes := mon.RunOnce(ctx)
		for _, out := range outcomes {
			printOutcome(out)
		}
		return nil
	}

	if cfg.Monitoring.Metrics.Enabled {
		go serveMetrics(ctx, cfg.Monitoring.Metrics.Listen, store)
	}

	if err := mon.Run(ctx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func runAnalyze(configFile string) error {
	cfg, store, err := loadAndOpen(configFile)
	if err != nil {
		return err
	}
	defer store.Close()

	mon, err := monitor.New(cfg, store, nil)
	if err != nil {
		return err
	}

	patterns, err := mon.RunAnalysis(context.Background())
	if err != nil {
		return err
	}

	if len(patterns) == 0 {
		fmt.Println("No failure patterns found in the analysis window.")
		return nil
	}

	fmt.Printf("%d failure pattern(s):\n\n", len(patterns))
	for _, p := range patterns {
		fmt.Printf("%-18s %s\n", p.PatternType, p.ScraperName)
		fmt.Printf("  signature:   %s\n", p.Signature)
		fmt.Printf("  occurrences: %d (%.0f%% confidence)\n", p.Occurrences, p.Confidence*100)
		fmt.Printf("  window:      %s .. %s\n",
			p.FirstSeen.Format(time.RFC3339), p.LastSeen.Format(time.RFC3339))
		if p.SuggestedFix != "" {
			fmt.Printf("  suggestion:  %s\n", p.SuggestedFix)
		}
		fmt.Println()
	}
	return nil
}

func runStats(configFile string, args []string) error {
	cfg, store, err := loadAndOpen(configFile)
	if err != nil {
		return err
	}
	defer store.Close()

	days := 30
	if raw, ok := flagValue(args, "--days"); ok {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return fmt.Errorf("invalid --days value %q", raw)
		}
		days = parsed
	}

	mon, err := monitor.New(cfg, store, nil)
	if err != nil {
		return err
	}

	ctx := context.Background()
	report, err := export.Build(ctx, mon.History(), export.BuildOptions{WindowDays: days})
	if err != nil {
		return err
	}

	stats := report.Stats
	fmt.Printf("Change activity, trailing %d days (since %s):\n", stats.WindowDays, stats.Since.Format("2006-01-02"))
	fmt.Printf("  events: %d\n", stats.TotalEvents)
	for _, severity := range []internal.ChangeSeverity{
		internal.SeverityCritical, internal.SeverityHigh, internal.SeverityMedium, internal.SeverityLow,
	} {
		if count, ok := stats.BySeverity[severity]; ok {
			fmt.Printf("    %-8s %d\n", severity, count)
		}
	}
	if len(stats.ByURL) > 0 {
		urls := make([]string, 0, len(stats.ByURL))
		for url := range stats.ByURL {
			urls = append(urls, url)
		}
		sort.Strings(urls)
		fmt.Println("  by url:")
		for _, url := range urls {
			fmt.Printf("    %-50s %d\n", url, stats.ByURL[url])
		}
	}
	fmt.Printf("  patterns on record: %d\n", len(report.Patterns))

	if escalated, err := mon.Structure().Escalations(ctx); err == nil && len(escalated) > 0 {
		fmt.Println("  escalated pages awaiting manual reset:")
		for _, url := range escalated {
			fmt.Printf("    %s\n", url)
		}
	}

	if cfg.Export.Format != "" {
		manager, err := export.NewManager(cfg.Export)
		if err != nil {
			return err
		}
		if err := manager.Export(ctx, report); err != nil {
			return err
		}
		destination := cfg.Export.File
		if destination == "" {
			destination = cfg.Export.Format
		}
		fmt.Printf("✓ Report exported to %s\n", destination)
	}
	return nil
}

func runReset(configFile, pageURL string) error {
	cfg, store, err := loadAndOpen(configFile)
	if err != nil {
		return err
	}
	defer store.Close()

	mon, err := monitor.New(cfg, store, nil)
	if err != nil {
		return err
	}

	snap, err := mon.ResetBaseline(context.Background(), pageURL)
	if err != nil {
		return err
	}

	fmt.Printf("✓ Baseline reset for %s\n", pageURL)
	fmt.Printf("  structure hash: %s\n", snap.StructureHash)
	fmt.Printf("  tracked selectors:\n")
	selectors := make([]string, 0, len(snap.ElementSignatures))
	for selector := range snap.ElementSignatures {
		selectors = append(selectors, selector)
	}
	sort.Strings(selectors)
	for _, selector := range selectors {
		fmt.Printf("    %-30s matches=%d\n", selector, snap.ElementSignatures[selector].Count)
	}
	return nil
}

// loadAndOpen loads and validates the configuration, applies the
// configured log level, and opens the backing store.
func loadAndOpen(configFile string) (*config.Config, *storage.Store, error) {
	cfg, err := config.LoadFromFile(configFile)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	utils.SetDefaultLevel(utils.ParseLogLevel(cfg.Logging.Level))

	store, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return nil, nil, err
	}
	return cfg, store, nil
}

// serveMetrics exposes /metrics plus the liveness probes on the
// configured listener until the context ends.
func serveMetrics(ctx context.Context, listen string, store *storage.Store) {
	health := monitoring.NewHealth()
	health.Register("storage", store.Ping)

	router := http.NewServeMux()
	router.Handle("/metrics", monitoring.Handler())
	router.HandleFunc("/health", health.HealthHandler())
	router.HandleFunc("/ready", health.ReadyHandler())
	router.HandleFunc("/live", health.LiveHandler())

	server := &http.Server{
		Addr:              listen,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fmt.Fprintf(os.Stderr, "metrics listener failed: %v\n", err)
	}
}

func printOutcome(out monitor.CheckOutcome) {
	switch out.Outcome {
	case monitor.OutcomeRecovered:
		fmt.Printf("✓ %-12s %s", out.Outcome, out.URL)
		for original, current := range out.Adopted {
			fmt.Printf(" %s→%s", original, current)
		}
		fmt.Println()
	case monitor.OutcomeEscalated:
		fmt.Printf("✗ %-12s %s broken=%v\n", out.Outcome, out.URL, out.Broken)
	case monitor.OutcomeFetchFailed, monitor.OutcomeError:
		fmt.Printf("✗ %-12s %s: %v\n", out.Outcome, out.URL, out.Err)
	default:
		fmt.Printf("  %-12s %s\n", out.Outcome, out.URL)
	}
}

func requireConfigArg(command string) {
	if len(os.Args) < 3 {
		fmt.Fprintf(os.Stderr, "Error: config file required\n")
		fmt.Fprintf(os.Stderr, "Usage: scrapesentry %s <config.yaml>\n", command)
		os.Exit(1)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// hasFlag checks if a flag is present in command line arguments
func hasFlag(flag string) bool {
	for _, arg := range os.Args {
		if arg == flag {
			return true
		}
	}
	return false
}

// flagValue returns the value following a flag in args.
func flagValue(args []string, name string) (string, bool) {
	for i, arg := range args {
		if arg == name && i+1 < len(args) {
			return args[i+1], true
		}
	}
	return "", false
}

// printUsage displays help information
func printUsage() {
	fmt.Println("ScrapeSentry - Scraper Failure Detection and Selector Recovery")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  scrapesentry validate <config.yaml>        Validate configuration file")
	fmt.Println("  scrapesentry template                      Generate configuration template")
	fmt.Println("  scrapesentry watch <config.yaml> [--once]  Watch configured pages for structure drift")
	fmt.Println("  scrapesentry analyze <config.yaml>         Run one failure-pattern analysis pass")
	fmt.Println("  scrapesentry stats <config.yaml> [--days N]  Summarize and export change activity")
	fmt.Println("  scrapesentry reset <config.yaml> <url>     Reset an escalated page's baseline")
	fmt.Println("  scrapesentry version                       Show version information")
	fmt.Println("  scrapesentry help                          Show this help message")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --once                                     Run a single check pass and exit")
	fmt.Println("  --days N                                   Stats window in days (default 30)")
	fmt.Println("  -v, --verbose                              Enable verbose output")
}

// printVersion displays version information
func printVersion() {
	fmt.Printf("ScrapeSentry %s\n", version)
	fmt.Printf("Build time: %s\n", buildTime)
	fmt.Printf("Git commit: %s\n", gitCommit)
}
