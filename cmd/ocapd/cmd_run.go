package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/viant/afs"
	"github.com/viant/ocap"
	"github.com/viant/ocap/model/vat"
	"github.com/viant/ocap/service/messaging"
	"github.com/viant/ocap/service/messaging/ndjson"
	"github.com/viant/ocap/service/rpc"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultShutdownTimeout = 10 * time.Second

var (
	configURL       string
	clusterURL      string
	shutdownTimeout time.Duration
)

// runCmd starts the kernel and serves the control plane on stdio.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the kernel",
	Long: `Opens the kernel store, resumes persisted vats, starts the run loop and
serves control requests on stdin/stdout until interrupted.

Example:
  ocapd run --config kernel.toml --cluster cluster.yaml
  ocapd run --db /var/lib/ocap/kernel.db`,
	RunE: runKernel,
}

func loadKernelConfig(ctx context.Context) (*ocap.Config, error) {
	config := ocap.DefaultConfig()
	if configURL != "" {
		var err error
		if config, err = ocap.LoadConfig(ctx, configURL); err != nil {
			return nil, err
		}
	}
	if dbPath != "" {
		config.Store = ocap.StoreConfig{Driver: ocap.DriverSQLite, Path: dbPath}
	}
	if verbose {
		config.Logging.Level = "debug"
	}
	return config, config.Validate()
}

func runKernel(cmd *cobra.Command, args []string) error {
	baseCtx := cmd.Context()
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(baseCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	config, err := loadKernelConfig(ctx)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	kernel, err := ocap.New(ctx, ocap.WithConfig(config))
	if err != nil {
		return fmt.Errorf("failed to start kernel: %w", err)
	}
	logger = kernel.Logger()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return kernel.Run(groupCtx)
	})
	if clusterURL != "" {
		group.Go(func() error {
			return launchCluster(groupCtx, kernel)
		})
	}
	group.Go(func() error {
		stream := ndjson.New[rpc.Message](os.Stdin, os.Stdout, messaging.DefaultConfig())
		defer stream.Close()
		return kernel.Serve(groupCtx, stream)
	})
	runErr := group.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := kernel.Shutdown(shutdownCtx); err != nil {
		logger.Warn("kernel shutdown incomplete", zap.Error(err))
	}
	return runErr
}

func launchCluster(ctx context.Context, kernel *ocap.Kernel) error {
	cluster, err := vat.LoadCluster(ctx, afs.New(), clusterURL)
	if err != nil {
		return err
	}
	result, err := kernel.LaunchSubcluster(ctx, cluster)
	if err != nil {
		return fmt.Errorf("failed to launch cluster %v: %w", clusterURL, err)
	}
	fields := []zap.Field{zap.String("cluster", clusterURL), zap.Strings("vats", cluster.VatNames())}
	if result != nil {
		fields = append(fields, zap.String("bootstrap", result.Body))
	}
	logger.Info("cluster launched", fields...)
	return nil
}
