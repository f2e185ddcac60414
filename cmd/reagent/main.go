package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/reagent-ai/reagent/internal/chat"
	"github.com/reagent-ai/reagent/internal/config"
	"github.com/reagent-ai/reagent/internal/infra"
	"github.com/reagent-ai/reagent/internal/ledger"
	"github.com/reagent-ai/reagent/internal/prompt"
	"github.com/reagent-ai/reagent/internal/repository"
	"github.com/reagent-ai/reagent/internal/server"
	"github.com/reagent-ai/reagent/pkg/client"
	pkgLogger "github.com/reagent-ai/reagent/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "Path to settings (default: $HOME/.reagent/settings.json)")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error); overrides settings")
	flag.Parse()

	settings, err := config.LoadSettings(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load settings: %v\n", err)
		os.Exit(1)
	}

	level := settings.LogLevel
	if *logLevel != "" {
		level = *logLevel
	}
	logger := pkgLogger.NewLogger(pkgLogger.LogLevel(level))

	prompts, err := prompt.Load(settings.Prompt.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load prompt config: %v\n", err)
		os.Exit(1)
	}

	generator, err := client.NewGenerator(settings.LLM.Backend, settings.LLM.Model, settings.LLM.MaxTokens)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create generation backend: %v\n", err)
		os.Exit(1)
	}

	// Subscription roster is optional; without one, every metering call
	// reports "no active subscription" and is logged.
	var subscriptions repository.SubscriptionRepository
	if fileSubs, err := infra.NewFileSubscriptionRepository(settings.SubscriptionRosterPath()); err == nil {
		subscriptions = fileSubs
	} else {
		logger.Warn("subscription roster unavailable; usage metering will fail soft",
			"path", settings.SubscriptionRosterPath(), "error", err)
		subscriptions = infra.NewMemorySubscriptionRepository()
	}

	sessions := infra.NewFileSessionRepository(settings.SessionFilePath())
	usageLedger := ledger.NewLedger(
		subscriptions,
		infra.NewMemoryUsagePeriodRepository(),
		infra.NewMemoryUsageRecordRepository(),
		logger,
	)

	orchestrator := chat.NewOrchestrator(generator, usageLedger, sessions, prompts, logger)

	// Handle shutdown signals
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("Received signal, shutting down", "signal", sig)
		cancel()
	}()

	fmt.Println("reagent backend starting...")
	fmt.Printf("  Addr:    %s\n", settings.Server.Addr)
	fmt.Printf("  Backend: %s (%s)\n", settings.LLM.Backend, generator.ModelID())
	fmt.Println()

	srv := server.NewServer(orchestrator, logger)
	if err := srv.Start(ctx, settings.Server.Addr); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}

	// Let in-flight usage accounting finish before exiting.
	orchestrator.Wait()
}
