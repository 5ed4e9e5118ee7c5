package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/parchmint/quipmirror/internal/credentials"
	"github.com/parchmint/quipmirror/internal/engine"
	"github.com/parchmint/quipmirror/internal/quip"
	"github.com/parchmint/quipmirror/internal/store"
	"github.com/parchmint/quipmirror/internal/telemetry"
)

// errRunFailed signals a run that completed with an error summary already
// printed. main() turns it into exit code 1 without a second message.
var errRunFailed = errors.New("run failed")

// Run subcommand flags.
var (
	flagInterval time.Duration
	flagPIDFile  string
)

// newRunCmd builds the run subcommand: one full synchronization pass, or a
// sequential loop of passes when --interval is set.
func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run synchronization",
		Long:  "Discovers threads in the nominated folders, compares them against the bucket inventory, and uploads new and updated documents.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd.Context())
		},
	}

	cmd.Flags().DurationVar(&flagInterval, "interval", 0, "repeat runs at this interval (0 runs once)")
	cmd.Flags().StringVar(&flagPIDFile, "pidfile", "", "PID file path for the single-instance guard")

	return cmd
}

// runSync executes synchronization passes until done. Runs never overlap:
// interval mode waits for each pass to finish before sleeping, and the
// optional PID file guard excludes concurrent invocations.
func runSync(ctx context.Context) error {
	logger := buildLogger()
	slog.SetDefault(logger)

	if flagPIDFile != "" {
		cleanup, err := writePIDFile(flagPIDFile)
		if err != nil {
			return err
		}
		defer cleanup()
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if flagInterval <= 0 {
		summary := executeRun(ctx, logger)
		printSummary(summary)

		if summary.Status != "success" {
			return errRunFailed
		}

		return nil
	}

	logger.Info("starting periodic synchronization", slog.Duration("interval", flagInterval))

	ticker := time.NewTicker(flagInterval)
	defer ticker.Stop()

	for {
		summary := executeRun(ctx, logger)
		printSummary(summary)

		if ctx.Err() != nil {
			return nil
		}

		select {
		case <-ctx.Done():
			logger.Info("shutting down")

			return nil
		case <-ticker.C:
		}
	}
}

// executeRun performs one complete synchronization pass and always returns
// a summary: any failure, including a panic, is classified rather than
// propagated.
func executeRun(ctx context.Context, logger *slog.Logger) (summary Summary) {
	start := time.Now()
	correlationID := uuid.NewString()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic during synchronization",
				slog.String("correlation_id", correlationID),
				slog.Any("panic", r),
			)

			summary = Summary{
				Status:           "error",
				CorrelationID:    correlationID,
				ExecutionSeconds: round2(time.Since(start).Seconds()),
				ErrorType:        errTypeUnexpected,
				ErrorMessage:     fmt.Sprintf("Unexpected error: %v", r),
			}
		}
	}()

	logger.Info("starting synchronization",
		slog.String("correlation_id", correlationID),
		slog.String("bucket", resolvedCfg.Bucket),
	)

	result, runCfg, err := runOnce(ctx, logger, correlationID)
	if err != nil {
		errType, errMsg := classifyError(err)
		logger.Error("synchronization failed",
			slog.String("correlation_id", correlationID),
			slog.String("error_type", errType),
			slog.String("error", errMsg),
		)

		return errorSummary(correlationID, time.Since(start).Seconds(), err)
	}

	logger.Info("synchronization completed",
		slog.String("correlation_id", correlationID),
		slog.Int("uploaded", result.DocumentsUploaded),
		slog.Duration("elapsed", time.Since(start)),
	)

	return successSummary(correlationID, time.Since(start).Seconds(), result, runCfg)
}

// runOnce wires the clients together and walks the engine through its four
// stages: discover, inventory, diff, sync.
func runOnce(ctx context.Context, logger *slog.Logger, correlationID string) (*engine.SyncResult, RunConfiguration, error) {
	cfg := resolvedCfg

	if err := cfg.Validate(credentials.HasLocalOverride()); err != nil {
		return nil, RunConfiguration{}, err
	}

	metrics := telemetry.NewLogRecorder(logger)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, RunConfiguration{}, fmt.Errorf("loading AWS configuration: %w", err)
	}

	provider := credentials.NewProviderFromConfig(awsCfg, cfg.SecretName, logger)

	creds, err := provider.Credentials(ctx)
	if err != nil {
		return nil, RunConfiguration{}, err
	}

	baseURL := cfg.QuipBaseURL
	if baseURL == "" {
		baseURL = quip.DefaultBaseURL
	}

	source := quip.NewClient(baseURL, newHTTPClient(cfg), creds.AccessToken, logger, metrics)
	source.SetRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst)
	source.SetAssumeUntypedThreads(cfg.AssumeUntypedThreads)

	objects := store.NewFromConfig(awsCfg, cfg.Bucket, logger, metrics)

	eng := engine.New(engine.Config{
		Source:        source,
		Store:         objects,
		CorrelationID: correlationID,
		Workers:       cfg.SyncWorkers,
		Logger:        logger,
		Metrics:       metrics,
	})

	threads, err := eng.DiscoverThreads(ctx, creds.FolderIDs)
	if err != nil {
		return nil, RunConfiguration{}, err
	}

	inventory, err := eng.BuildInventory(ctx)
	if err != nil {
		return nil, RunConfiguration{}, err
	}

	changes := eng.DetectChanges(threads, inventory)
	result := eng.SyncDocuments(ctx, changes.NeedsSync)

	runCfg := RunConfiguration{
		BucketName:  cfg.Bucket,
		FolderCount: len(creds.FolderIDs),
		Region:      cfg.Region,
	}

	return result, runCfg, nil
}
