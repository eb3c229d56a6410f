package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/cdainsight/internal/config"
	"github.com/ehr/cdainsight/internal/domain/reports"
	"github.com/ehr/cdainsight/internal/platform/batch"
	"github.com/ehr/cdainsight/internal/platform/cache"
	"github.com/ehr/cdainsight/internal/platform/ccda"
	"github.com/ehr/cdainsight/internal/platform/db"
	"github.com/ehr/cdainsight/internal/platform/semantic"
	"github.com/ehr/cdainsight/internal/platform/xmltree"
)

// errInvalidDocument makes validate exit non-zero after printing its report.
var errInvalidDocument = errors.New("document failed validation")

func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

// cliLogger keeps stdout for JSON output.
func cliLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger().Level(zerolog.WarnLevel)
}

func extractorFromFlags(cmd *cobra.Command) *ccda.Extractor {
	strict, _ := cmd.Flags().GetBool("strict-quantity")
	return ccda.NewExtractor(ccda.ExtractorOptions{StrictQuantities: strict})
}

func addStrictFlag(cmd *cobra.Command) {
	cmd.Flags().Bool("strict-quantity", false, "Keep quantities that parse to exactly zero")
}

func extractCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract <file.xml>",
		Short: "Print the typed document model as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			doc, err := extractorFromFlags(cmd).Parse(data)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), doc)
		},
	}
	addStrictFlag(cmd)
	return cmd
}

func analyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze <file.xml>",
		Short: "Print the semantic analysis and quality metrics as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			svc := semantic.NewService(extractorFromFlags(cmd), cache.Noop{}, 0, cliLogger())
			res, err := svc.Analyze(cmd.Context(), "file:"+args[0], data)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	addStrictFlag(cmd)
	return cmd
}

func transformCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transform <file.xml>",
		Short: "Print the flattened JSON view of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			doc, err := extractorFromFlags(cmd).Parse(data)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), ccda.Transform(doc, time.Now()))
		},
	}
	addStrictFlag(cmd)
	return cmd
}

type validateOutput struct {
	File       string                  `json:"file"`
	Valid      bool                    `json:"valid"`
	Validation []ccda.ValidationResult `json:"validation"`
	Structure  ccda.StructureStats     `json:"structure"`
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file.xml>",
		Short: "Check header rules and print structural statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			tree, err := xmltree.ParseBytes(data)
			if err != nil {
				return err
			}
			results := ccda.Validate(tree)
			out := validateOutput{
				File:       args[0],
				Valid:      ccda.AllValid(results),
				Validation: results,
				Structure:  ccda.Inspect(tree),
			}
			if err := printJSON(cmd.OutOrStdout(), out); err != nil {
				return err
			}
			if !out.Valid {
				return errInvalidDocument
			}
			return nil
		},
	}
}

func batchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch <dir>",
		Short: "Extract every *.xml in a directory and print aggregate statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workers, _ := cmd.Flags().GetInt("workers")
			statsOnly, _ := cmd.Flags().GetBool("stats-only")
			record, _ := cmd.Flags().GetBool("record")

			runner := batch.NewRunner(batch.NewHeuristicExtractor(), workers, cliLogger())
			if record {
				closeStore, err := attachReportStore(cmd.Context(), runner)
				if err != nil {
					return err
				}
				defer closeStore()
			}

			report, err := runner.Run(cmd.Context(), batch.DirSource{Dir: args[0]})
			if err != nil {
				return err
			}
			if statsOnly {
				return printJSON(cmd.OutOrStdout(), report.Statistics)
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().Int("workers", 4, "Documents processed in parallel")
	cmd.Flags().Bool("stats-only", false, "Print only the aggregate statistics")
	cmd.Flags().Bool("record", false, "Store the run in the reports database (needs DATABASE_URL)")
	return cmd
}

// attachReportStore connects to the configured database and makes runner
// record its report there.
func attachReportStore(ctx context.Context, runner *batch.Runner) (func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if !cfg.DatabaseEnabled() {
		return nil, errors.New("--record needs DATABASE_URL")
	}
	pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: 2})
	if err != nil {
		return nil, err
	}
	runner.SetRecorder(reports.NewService(reports.NewRepoPG(pool)))
	return pool.Close, nil
}
