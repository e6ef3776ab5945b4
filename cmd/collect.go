package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/siteprobe-cli/internal/collector"
	"github.com/xkilldash9x/siteprobe-cli/internal/network"
	"github.com/xkilldash9x/siteprobe-cli/internal/reporting"
	"github.com/xkilldash9x/siteprobe-cli/internal/store"
)

// newCollectCmd creates the `collect` command.
func newCollectCmd(a *app) *cobra.Command {
	var (
		noText, noLinks, noCSV, noJSON bool
		reportFormat, output           string
	)

	collectCmd := &cobra.Command{
		Use:   "collect <url>",
		Short: "Fetch one page and store its metadata, text and links",
		Long: `Fetches the page, extracts its title and meta tags, visible text and links,
and writes a tabular row (csv or xlsx) and a structured JSON document to the
output directory. A summary is printed when the run completes.`,
		Example: `  siteprobe collect example.com
  siteprobe collect https://example.com/docs --no-text --format xlsx`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := a.cfg

			opts := collector.OptionsFromConfig(cfg.CollectorCfg)
			opts.CollectText = opts.CollectText && !noText
			opts.CollectLinks = opts.CollectLinks && !noLinks
			opts.StoreTabular = opts.StoreTabular && !noCSV
			opts.StoreStructured = opts.StoreStructured && !noJSON

			var writer collector.Writer
			if opts.StoreTabular || opts.StoreStructured {
				st, err := store.New(cfg.CollectorCfg.OutputDir, a.logger, store.WithTabularFormat(cfg.CollectorCfg.TabularFormat))
				if err != nil {
					return err
				}
				writer = st
			}

			fetcher := network.NewFetcher(cfg.NetworkCfg, a.logger)
			c := collector.New(fetcher, writer, cfg.CollectorCfg, a.logger)

			result, err := c.Collect(ctx, args[0], opts)
			if err != nil {
				return fmt.Errorf("collect %s: %w", args[0], err)
			}
			a.logger.Info("Collection finished.",
				zap.String("run_id", result.RunID),
				zap.String("tabular", result.TabularPath),
				zap.String("structured", result.StructuredPath),
			)

			rep, err := newReporter(cmd, reportFormat, output, a.logger)
			if err != nil {
				return err
			}
			if err := rep.WriteCollection(result); err != nil {
				rep.Close()
				return err
			}
			return rep.Close()
		},
	}

	flags := collectCmd.Flags()
	flags.BoolVar(&noText, "no-text", false, "skip visible text extraction")
	flags.BoolVar(&noLinks, "no-links", false, "skip link extraction")
	flags.BoolVar(&noCSV, "no-csv", false, "do not write the tabular file")
	flags.BoolVar(&noJSON, "no-json", false, "do not write the structured JSON file")
	flags.String("format", "csv", "tabular file format (csv, xlsx)")
	flags.String("output-dir", "collected_data", "directory for the stored files")
	flags.Duration("timeout", 0, "request timeout (default from config)")
	flags.StringVarP(&reportFormat, "report-format", "f", reporting.FormatText, "summary format (text, json)")
	flags.StringVarP(&output, "output", "o", "", "summary destination (default stdout)")

	a.bind(collectCmd, "collector.tabular_format", "format")
	a.bind(collectCmd, "collector.output_dir", "output-dir")
	a.bind(collectCmd, "network.timeout", "timeout")
	return collectCmd
}

// newReporter writes to the command's stdout when output is empty, so
// tests and the interactive shell can capture it.
func newReporter(cmd *cobra.Command, format, output string, logger *zap.Logger) (reporting.Reporter, error) {
	if output == "" || output == "-" {
		return reporting.NewWithWriter(format, nopCloser{cmd.OutOrStdout()}, Version, logger)
	}
	return reporting.New(format, output, Version, logger)
}
