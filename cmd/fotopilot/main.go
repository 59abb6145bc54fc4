// Package main provides the fotopilot command: a vision-guided
// automation engine that drives a photobook site through login, product
// selection, photo upload, placement, and checkout for one or more
// orders.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/fotopilot/fotopilot/pkg/browser"
	"github.com/fotopilot/fotopilot/pkg/config"
	"github.com/fotopilot/fotopilot/pkg/patterns"
	"github.com/fotopilot/fotopilot/pkg/retry"
	"github.com/fotopilot/fotopilot/pkg/vision"
	"github.com/fotopilot/fotopilot/pkg/workflow"
)

const version = "0.1.0"

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigFile  string
	OrderFile   string
	OrdersFile  string
	OutputFile  string
	Headless    bool
	Parallel    int
	ShowVersion bool
}

func main() {
	cliConfig := parseFlags()

	if cliConfig.ShowVersion {
		fmt.Printf("fotopilot v%s\n", version)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\n\nShutting down gracefully...")
		cancel()
	}()

	if err := run(ctx, cliConfig); err != nil {
		cancel()
		log.Printf("Execution failed: %v", err)
		os.Exit(1)
	}
	cancel()
}

// parseFlags parses command line flags
func parseFlags() *CLIConfig {
	cliConfig := &CLIConfig{}

	flag.StringVar(&cliConfig.ConfigFile, "config", "fotopilot.yaml", "Path to configuration file (YAML)")
	flag.StringVar(&cliConfig.OrderFile, "order", "", "Path to a single order (JSON)")
	flag.StringVar(&cliConfig.OrdersFile, "orders", "", "Path to a batch of orders (JSON array)")
	flag.StringVar(&cliConfig.OutputFile, "output", "", "Output file for run results (default stdout)")
	flag.BoolVar(&cliConfig.Headless, "headless", true, "Run the browser without a visible window")
	flag.IntVar(&cliConfig.Parallel, "parallel", 1, "Maximum concurrent order runs")
	flag.BoolVar(&cliConfig.ShowVersion, "version", false, "Show version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "fotopilot - Vision-Guided Photobook Ordering Automation\n\n")
		fmt.Fprintf(os.Stderr, "Usage: fotopilot [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  # Run a single order\n")
		fmt.Fprintf(os.Stderr, "  fotopilot -config fotopilot.yaml -order order.json\n\n")
		fmt.Fprintf(os.Stderr, "  # Run a batch of orders, two at a time, headed\n")
		fmt.Fprintf(os.Stderr, "  fotopilot -config fotopilot.yaml -orders batch.json -parallel 2 -headless=false\n\n")
	}

	flag.Parse()
	return cliConfig
}

// runOutcome pairs one order with its result for the output report.
type runOutcome struct {
	Order  workflow.Order   `json:"order"`
	Result *workflow.Result `json:"result"`
}

// run executes the configured orders.
func run(ctx context.Context, cliConfig *CLIConfig) error {
	cfg, err := config.Load(cliConfig.ConfigFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg.Browser.Headless = cliConfig.Headless

	orders, err := loadOrders(cliConfig)
	if err != nil {
		return err
	}

	dataDir := cfg.Patterns.DataDir
	if dataDir == "" {
		home, homeErr := os.UserHomeDir()
		if homeErr != nil {
			return fmt.Errorf("failed to resolve home directory: %w", homeErr)
		}
		dataDir = filepath.Join(home, ".fotopilot", "patterns")
	}

	store, err := patterns.Open(dataDir)
	if err != nil {
		return fmt.Errorf("failed to open pattern store: %w", err)
	}
	defer store.Close()

	if evicted, evictErr := store.EvictStale(cfg.Patterns.StaleAfter); evictErr != nil {
		log.Printf("Stale pattern eviction failed: %v", evictErr)
	} else if evicted > 0 {
		log.Printf("Evicted %d stale patterns", evicted)
	}

	locator, err := vision.NewLocator(os.Getenv(cfg.Vision.APIKeyEnv),
		vision.WithModel(cfg.Vision.Model),
		vision.WithBaseURL(cfg.Vision.BaseURL),
		vision.WithPolicy(retry.Policy{
			MaxAttempts: cfg.Vision.MaxAttempts,
			BaseDelay:   cfg.Vision.BaseDelay,
			DelayStep:   cfg.Vision.DelayStep,
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to create vision locator: %w", err)
	}

	manager := browser.NewManager()
	if err := manager.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize browser: %w", err)
	}
	defer manager.Shutdown()

	log.Printf("Starting %d order run(s), parallel=%d", len(orders), cliConfig.Parallel)

	// Each order gets its own browser session; the pattern store is the
	// only shared resource, and it serializes its own writes.
	outcomes := make([]runOutcome, len(orders))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cliConfig.Parallel)

	for i, order := range orders {
		i, order := i, order
		g.Go(func() error {
			session, sessErr := manager.NewSession(browser.SessionOptions{
				Headless: cfg.Browser.Headless,
				Viewport: &browser.Viewport{
					Width:  cfg.Browser.ViewportWidth,
					Height: cfg.Browser.ViewportHeight,
				},
				Timeout:     cfg.Browser.ActionTimeout,
				SettleDelay: cfg.Browser.SettleDelay,
			})
			if sessErr != nil {
				return fmt.Errorf("order %d: failed to create browser session: %w", i, sessErr)
			}
			defer session.Close()

			controller := workflow.New(cfg, session, locator, store)
			outcomes[i] = runOutcome{Order: order, Result: controller.Execute(gctx, order)}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	if err := writeOutcomes(cliConfig.OutputFile, outcomes); err != nil {
		return err
	}

	failed := 0
	for _, outcome := range outcomes {
		if outcome.Result == nil || !outcome.Result.Success {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d order run(s) failed", failed, len(orders))
	}

	log.Printf("All %d order run(s) completed successfully", len(orders))
	return nil
}

// loadOrders reads the order input from -order or -orders.
func loadOrders(cliConfig *CLIConfig) ([]workflow.Order, error) {
	if cliConfig.OrderFile == "" && cliConfig.OrdersFile == "" {
		return nil, fmt.Errorf("either -order or -orders is required")
	}
	if cliConfig.OrderFile != "" && cliConfig.OrdersFile != "" {
		return nil, fmt.Errorf("-order and -orders are mutually exclusive")
	}

	if cliConfig.OrderFile != "" {
		data, err := os.ReadFile(cliConfig.OrderFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read order file: %w", err)
		}
		var order workflow.Order
		if err := json.Unmarshal(data, &order); err != nil {
			return nil, fmt.Errorf("failed to parse order file: %w", err)
		}
		return []workflow.Order{order}, nil
	}

	data, err := os.ReadFile(cliConfig.OrdersFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read orders file: %w", err)
	}
	var orders []workflow.Order
	if err := json.Unmarshal(data, &orders); err != nil {
		return nil, fmt.Errorf("failed to parse orders file: %w", err)
	}
	if len(orders) == 0 {
		return nil, fmt.Errorf("orders file contains no orders")
	}
	return orders, nil
}

// writeOutcomes renders the run report as indented JSON to the output
// file, or stdout when none is configured.
func writeOutcomes(path string, outcomes []runOutcome) error {
	data, err := json.MarshalIndent(outcomes, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}
	data = append(data, '\n')

	if path == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write results to %s: %w", path, err)
	}
	return nil
}
