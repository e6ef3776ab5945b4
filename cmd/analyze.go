package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/siteprobe-cli/internal/analysis"
	"github.com/xkilldash9x/siteprobe-cli/internal/network"
	"github.com/xkilldash9x/siteprobe-cli/internal/reporting"
	"github.com/xkilldash9x/siteprobe-cli/internal/store"
)

// newAnalyzeCmd creates the `analyze` command.
func newAnalyzeCmd(a *app) *cobra.Command {
	var (
		output, format string
		save           bool
	)

	analyzeCmd := &cobra.Command{
		Use:   "analyze <url>",
		Short: "Infer the backend technologies, authentication and structure of a site",
		Long: `Fetches the page once and runs every enabled heuristic over it: technology
fingerprinting, authentication assessment, API endpoint discovery, site
structure mapping and security header review. A heuristic that fails is
reported in its own section without affecting the others.`,
		Example: `  siteprobe analyze https://example.com
  siteprobe analyze example.com -f sarif -o example.sarif`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := a.cfg
			target := args[0]

			fetcher := network.NewFetcher(cfg.NetworkCfg, a.logger)
			resp, err := fetcher.Fetch(ctx, target)
			if err != nil {
				return fmt.Errorf("analyze %s: %w", target, err)
			}

			analyzer := analysis.New(cfg.AnalysisCfg, fetcher, a.logger)
			report, err := analyzer.AnalyzeAll(ctx, analysis.Input{
				URL:      resp.URL,
				Response: resp,
				RawText:  string(resp.Body),
			})
			if err != nil {
				return err
			}
			if failed := report.Failed(); len(failed) > 0 {
				a.logger.Warn("Some heuristics produced no result.", zap.Strings("heuristics", failed))
			}

			if save {
				st, err := store.New(cfg.CollectorCfg.OutputDir, a.logger)
				if err != nil {
					return err
				}
				path, err := st.WriteStructured(report, resp.FinalURL)
				if err != nil {
					return err
				}
				a.logger.Info("Analysis saved.", zap.String("path", path))
			}

			rep, err := newReporter(cmd, format, output, a.logger)
			if err != nil {
				return err
			}
			if err := rep.WriteAnalysis(report); err != nil {
				rep.Close()
				return err
			}
			return rep.Close()
		},
	}

	flags := analyzeCmd.Flags()
	flags.StringVarP(&output, "output", "o", "", "report destination (default stdout)")
	flags.StringVarP(&format, "format", "f", reporting.FormatText, "report format (text, json, sarif)")
	flags.BoolVar(&save, "save", false, "also store the report as JSON in the output directory")
	flags.String("output-dir", "collected_data", "directory used by --save")
	flags.Duration("timeout", 0, "request timeout (default from config)")
	flags.Bool("js-literals", false, "parse inline scripts for string literals that look like endpoints")

	a.bind(analyzeCmd, "collector.output_dir", "output-dir")
	a.bind(analyzeCmd, "network.timeout", "timeout")
	a.bind(analyzeCmd, "analysis.js_ast_literals", "js-literals")
	return analyzeCmd
}
