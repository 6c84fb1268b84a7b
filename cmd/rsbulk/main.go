package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/duckmesh/rsbulk/internal/cli/rsbulk"
	"github.com/duckmesh/rsbulk/internal/config"
	"github.com/duckmesh/rsbulk/internal/execution"
	"github.com/duckmesh/rsbulk/internal/execution/dataapi"
	"github.com/duckmesh/rsbulk/internal/execution/pgwire"
	"github.com/duckmesh/rsbulk/internal/observability"
	"github.com/duckmesh/rsbulk/internal/storage"
	s3store "github.com/duckmesh/rsbulk/internal/storage/s3"
	"github.com/duckmesh/rsbulk/internal/transfer"
	"github.com/duckmesh/rsbulk/internal/verify"
	"github.com/duckmesh/rsbulk/internal/waiter"
)

func main() {
	cfg, err := config.LoadFromEnv("rsbulk")
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(2)
	}
	logger := observability.NewLogger(cfg, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Observability.MetricsAddr != "" {
		observability.ServeMetrics(ctx, observability.NewMetricsServer(cfg.Observability.MetricsAddr, logger), logger)
	}

	var closers []func() error
	options := rsbulk.Options{
		RoleARN:   cfg.Redshift.IAMRoleARN,
		Resumable: cfg.Execution.Backend != config.BackendPGWire,
		Stdout:    os.Stdout,
		Stderr:    os.Stderr,
		Connect: func(ctx context.Context, settings rsbulk.Settings) (rsbulk.Transfers, error) {
			orchestrator, closeFn, err := newOrchestrator(ctx, cfg, settings, logger)
			if closeFn != nil {
				closers = append(closers, closeFn)
			}
			return orchestrator, err
		},
	}

	code := rsbulk.Run(ctx, os.Args[1:], options)
	for _, closeFn := range closers {
		_ = closeFn()
	}
	stop()
	os.Exit(code)
}

func newOrchestrator(ctx context.Context, cfg config.Config, settings rsbulk.Settings, logger *slog.Logger) (*transfer.Orchestrator, func() error, error) {
	policy, err := waiterPolicy(cfg.Waiter, settings.MaxWait)
	if err != nil {
		return nil, nil, err
	}

	client, closeFn, err := newExecutionClient(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	var staging storage.ObjectStore
	var lister storage.Lister
	if cfg.ObjectStore.Bucket != "" {
		store, err := s3store.New(ctx, s3store.Config{
			Endpoint:         cfg.ObjectStore.Endpoint,
			Region:           cfg.ObjectStore.Region,
			Bucket:           cfg.ObjectStore.Bucket,
			AccessKeyID:      cfg.ObjectStore.AccessKeyID,
			SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
			UseSSL:           cfg.ObjectStore.UseSSL,
			Prefix:           cfg.ObjectStore.Prefix,
			AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
		})
		if err != nil {
			return nil, closeFn, fmt.Errorf("initialize object store: %w", err)
		}
		staging = store
		lister = store
	}

	orchestrator := &transfer.Orchestrator{
		Client:      client,
		Credentials: cfg.Credentials(),
		Staging:     staging,
		Policy:      policy,
		Logger:      logger,
	}
	if cfg.Verify.Enabled {
		orchestrator.Verifier = &verify.Verifier{Lister: lister, MaxKeys: cfg.Verify.MaxKeys, Logger: logger}
	}
	return orchestrator, closeFn, nil
}

func newExecutionClient(ctx context.Context, cfg config.Config, logger *slog.Logger) (execution.Client, func() error, error) {
	switch cfg.Execution.Backend {
	case config.BackendPGWire:
		db, err := pgwire.Open(ctx, pgwire.DBConfig{
			DSN:             cfg.Execution.PGWireDSN,
			MaxOpenConns:    cfg.Execution.MaxOpenConns,
			ConnMaxLifetime: cfg.Execution.ConnMaxLifetime,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open pgwire connection: %w", err)
		}
		executor, err := pgwire.NewExecutor(db)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return executor, func() error {
			closeExecutor(ctx, executor, logger)
			return db.Close()
		}, nil
	default:
		client, err := dataapi.New(ctx, dataapi.Config{
			Region:        cfg.Redshift.Region,
			StatementName: cfg.Execution.StatementName,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("initialize data api client: %w", err)
		}
		return client, nil, nil
	}
}

// closeExecutor lets pgwire statements run to completion, since their handles
// die with the process. A signal while waiting aborts them instead.
func closeExecutor(ctx context.Context, executor *pgwire.Executor, logger *slog.Logger) {
	if running := executor.Running(); running > 0 {
		logger.Info("waiting for running statements to finish", slog.Int("running", running))
	}
	done := make(chan struct{})
	go func() {
		_ = executor.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if running := executor.Running(); running > 0 {
			logger.Warn("aborting running statements", slog.Int("running", running))
		}
		_ = executor.Abort()
		<-done
	}
}

func waiterPolicy(cfg config.WaiterConfig, override time.Duration) (waiter.Policy, error) {
	maxWait := cfg.MaxWait
	if override > 0 {
		maxWait = override
	}
	if maxWait > 0 {
		return waiter.PolicyForMaxWait(maxWait, cfg.PollInterval)
	}
	policy := waiter.DefaultPolicy()
	policy.PollInterval = cfg.PollInterval
	policy.MaxAttempts = cfg.MaxAttempts
	return policy, policy.Validate()
}
