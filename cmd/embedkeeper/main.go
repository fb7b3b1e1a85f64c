// Command embedkeeper reconciles third-party embed regions on a live page:
// it negotiates frame heights, substitutes lite cards for configured kinds,
// and repairs host regressions through a debounced mutation guard.
//
// Usage:
//
//	embedkeeper -url https://example.com/article          # one page, defaults
//	embedkeeper -url https://example.com -config ek.yaml  # tuned run
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"

	"github.com/mosbree/embedkeeper/dom"
	"github.com/mosbree/embedkeeper/engine"
	"github.com/mosbree/embedkeeper/eventlog"
	"github.com/mosbree/embedkeeper/litecard"
)

func main() {
	pageURL := flag.String("url", "", "page to reconcile")
	configPath := flag.String("config", "", "path to embedkeeper.yaml config file")
	headless := flag.Bool("headless", true, "run the browser headless")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *pageURL, *configPath, *headless); err != nil {
		logger.Error("embedkeeper: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, pageURL, configPath string, headless bool) error {
	if pageURL == "" {
		fmt.Fprintln(os.Stderr, "usage: embedkeeper -url <url> [-config <file>]")
		os.Exit(1)
	}

	fileCfg := engine.DefaultFileConfig()
	if configPath != "" {
		var err error
		fileCfg, err = engine.LoadFileConfig(configPath)
		if err != nil {
			return err
		}
	}

	l := launcher.New().Headless(headless)
	l = l.Set("disable-blink-features", "AutomationControlled")
	wsURL, err := l.Launch()
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}
	browser := rod.New().ControlURL(wsURL)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect browser: %w", err)
	}
	defer browser.Close()
	logger.Info("embedkeeper: browser up", "url", wsURL)

	page, err := stealth.Page(browser)
	if err != nil {
		return fmt.Errorf("open page: %w", err)
	}
	if err := page.Navigate(pageURL); err != nil {
		return fmt.Errorf("navigate %s: %w", pageURL, err)
	}
	if err := page.WaitLoad(); err != nil {
		logger.Warn("embedkeeper: page load wait", "error", err)
	}

	tree := dom.NewRodTree(ctx, page, logger)
	defer tree.Close()

	var events *eventlog.Store
	if fileCfg.EventLog != "" {
		events, err = eventlog.Open(fileCfg.EventLog)
		if err != nil {
			return fmt.Errorf("open event log: %w", err)
		}
		defer events.Close()
	}

	cfg := fileCfg.EngineConfig()
	cfg.Tree = tree
	cfg.Fetcher = litecard.NewHTTPFetcher(nil)
	cfg.Events = events
	cfg.Logger = logger
	eng := engine.New(cfg)

	opts := engine.Options{LiteCardMode: fileCfg.LiteCardMode}
	stats := eng.Reconcile(ctx, 0, opts)
	logger.Info("embedkeeper: initial pass",
		"pass", stats.PassID, "nodes", stats.Nodes,
		"negotiated", stats.Negotiated, "substituted", stats.Substituted)

	eng.StartGuard(ctx, 0, opts)
	defer eng.StopGuard()

	srv := &http.Server{
		Addr:              fileCfg.AdminAddr,
		Handler:           eng.AdminRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("embedkeeper: admin listening", "addr", fileCfg.AdminAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("embedkeeper: admin server", "error", err)
		}
	}()

	<-ctx.Done()
	shutCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutCtx)
	return nil
}
