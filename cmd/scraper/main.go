package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"

	"github.com/gridsight/utility-bill-worker/internal/config"
	"github.com/gridsight/utility-bill-worker/internal/db"
	"github.com/gridsight/utility-bill-worker/internal/orchestrator"
	"github.com/gridsight/utility-bill-worker/tools/dateparse"
)

const usage = `usage:
  scraper by-oid <oid> <YYYY-MM-DD> <YYYY-MM-DD>
  scraper <scraper-key> <meter-oid> <YYYY-MM-DD> <YYYY-MM-DD>`

func main() {
	loadDotenv()

	req, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n%s\n", err, usage)
		os.Exit(orchestrator.ExitUsage)
	}

	var orch *orchestrator.Orchestrator
	app := fx.New(
		fx.Provide(
			config.Load,
			newLogger,
			ProvideDBPool,
			ProvideRepository,
			ProvideCredentialProvider,
			ProvideRegistry,
			ProvideWarehouseDatabase,
			ProvideBrowserFactory,
			ProvideArtifactStore,
			ProvideSummaryPublisher,
			ProvideReconciler,
			ProvideValidator,
			ProvideOrchestrator,
		),
		fx.Populate(&orch),
	)

	// A run stops on SIGTERM: the orchestrator fails the run, captures
	// artifacts, records it, and we exit 1
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startCancel()
	if err := app.Start(startCtx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start: %v\n", err)
		os.Exit(orchestrator.ExitInternal)
	}

	report := orch.Run(ctx, req)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		fmt.Fprintln(os.Stderr, "error stopping app:", err)
	}

	if report.Run.Outcome != db.OutcomeSucceeded && report.Run.ErrorKind != nil {
		fmt.Fprintf(os.Stderr, "run %s failed: %s\n", report.Run.ID, *report.Run.ErrorKind)
	}
	os.Exit(report.ExitCode)
}

// parseArgs maps the two recognized invocations onto a run request.
func parseArgs(args []string) (orchestrator.Request, error) {
	if len(args) != 4 {
		return orchestrator.Request{}, fmt.Errorf("expected 4 arguments, got %d", len(args))
	}

	rng, err := dateparse.ParseRange(args[2], args[3], time.Now().UTC())
	if err != nil {
		return orchestrator.Request{}, err
	}

	if args[0] == "by-oid" {
		oid, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return orchestrator.Request{}, fmt.Errorf("invalid data source oid '%s'", args[1])
		}
		return orchestrator.Request{DataSourceOID: oid, Range: rng}, nil
	}

	meterOID, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return orchestrator.Request{}, fmt.Errorf("invalid meter oid '%s'", args[1])
	}
	return orchestrator.Request{ScraperKey: args[0], MeterOID: meterOID, Range: rng}, nil
}

// loadDotenv probes for a .env file the way container and local runs both
// expect; absence is fine, system environment wins.
func loadDotenv() {
	envPaths := []string{".env"}
	if workDir, err := os.Getwd(); err == nil {
		parentDir := filepath.Dir(workDir)
		envPaths = append(envPaths,
			filepath.Join(parentDir, ".env"),
			filepath.Join(filepath.Dir(parentDir), ".env"),
		)
	}

	for _, envPath := range envPaths {
		if _, err := os.Stat(envPath); err == nil {
			if err := godotenv.Load(envPath); err == nil {
				return
			}
		}
	}
}
