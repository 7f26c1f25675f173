package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/app"
	"github.com/JakeFAU/catalog-harvester/internal/metrics"
)

// newHarvestCmd creates the 'harvest' subcommand, which runs one full pass.
func newHarvestCmd() *cobra.Command {
	var maxProducts int

	cmd := &cobra.Command{
		Use:   "harvest",
		Short: "Run a full catalog harvest",
		Long: `Discovers every category and product, then extracts, retrieves,
normalizes and stores each product in discovery order.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("max-products") {
				rt.cfg.Pipeline.MaxProducts = maxProducts
			}
			return runHarvest(cmd.Context(), rt)
		},
	}
	cmd.Flags().IntVar(&maxProducts, "max-products", 0, "stop after this many products (0 = all)")
	return cmd
}

func runHarvest(ctx context.Context, rt *runtime) error {
	logger := rt.logger
	if addr := rt.cfg.Metrics.Addr; addr != "" {
		metricsCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := metrics.Serve(metricsCtx, addr, logger); err != nil {
				logger.Error("metrics listener failed", zap.Error(err))
			}
		}()
	}

	services, err := app.New(ctx, rt.cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize services: %w", err)
	}
	defer services.Close()

	run, err := services.Pipeline()
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}
	summary, err := run.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("harvest: %w", err)
	}
	logger.Info("harvest command finished",
		zap.String("run_id", summary.RunID),
		zap.Int("discovered", summary.Discovered),
		zap.Int("processed", summary.Processed),
		zap.Int("validated", summary.Validated),
	)
	return nil
}
