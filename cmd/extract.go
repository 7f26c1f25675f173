package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/catalog-harvester/internal/extract"
	collyfetcher "github.com/JakeFAU/catalog-harvester/internal/fetcher/colly"
	"github.com/JakeFAU/catalog-harvester/internal/retry"
)

// newExtractCmd creates the 'extract' subcommand, which parses one product
// page and prints the raw record without downloading assets.
func newExtractCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "extract <product-url>",
		Short: "Extract one product detail page and print the raw record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			policy := retry.New(rt.cfg.HTTP.MaxRetries, rt.cfg.HTTP.BackoffInitial, rt.cfg.HTTP.BackoffMax)
			fetcher := collyfetcher.New(collyfetcher.Config{
				UserAgent: rt.cfg.Catalog.UserAgent,
				Timeout:   rt.cfg.HTTP.Timeout,
			}, policy, rt.logger)

			rec := extract.New(fetcher, rt.logger).Extract(cmd.Context(), args[0])
			if rec.IsEmpty() {
				return fmt.Errorf("nothing extracted from %s", args[0])
			}
			out, err := json.MarshalIndent(rec, "", "  ")
			if err != nil {
				return fmt.Errorf("encode record: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return err
		},
	}
}
