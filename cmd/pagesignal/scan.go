package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/use-agent/pagesignal/config"
	"github.com/use-agent/pagesignal/dataset"
	"github.com/use-agent/pagesignal/scanner"
)

// NewScanCmd creates the scan command.
func NewScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan the targets of one CSV file or of every CSV in the uploads directory",
		Long: `Scan reads {url,label} rows, scans every URL and appends the successful
rows to the results file. Failures of each input file go to their own
errors-<unix-ms>.csv in the output directory.

Without --input every *.csv in the uploads directory is processed, oldest
first, with a pause between files.

Examples:
  pagesignal scan --input uploads/batch1.csv
  pagesignal scan --uploads ./uploads --output ./outputs/dom-dataset.csv
  PAGESIGNAL_PROXY_API_KEY=... pagesignal scan`,
		Args: cobra.NoArgs,
		RunE: runScanCmd,
	}

	cmd.Flags().StringP("input", "i", "", "CSV file of targets (default: every CSV in the uploads directory)")
	cmd.Flags().StringP("uploads", "u", "", "Directory of input CSV files")
	cmd.Flags().StringP("output", "o", "", "Results CSV file")
	cmd.Flags().String("sqlite", "", "Also store every batch in this SQLite database")
	cmd.Flags().IntP("concurrency", "n", 0, "Concurrent targets (and open pages)")
	return cmd
}

func runScanCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyScanFlags(cmd, cfg)

	inputs, err := scanInputs(cmd, cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p := newPipeline(cfg)
	defer p.Close()

	var store *dataset.Store
	if cfg.Output.SQLitePath != "" {
		if store, err = dataset.OpenStore(cfg.Output.SQLitePath); err != nil {
			return err
		}
		defer store.Close()
	}

	resultsPath := filepath.Join(cfg.Output.Dir, cfg.Output.ResultsFile)
	slog.Info("found input files", "count", len(inputs))

	for i, input := range inputs {
		slog.Info("processing input", "file", input, "index", i+1, "of", len(inputs))

		targets, err := dataset.ReadTargets(input)
		if err != nil {
			return err
		}
		if len(targets) == 0 {
			slog.Warn("no URLs found, skipping", "file", input)
			continue
		}

		errorLog := dataset.ErrorLogPath(cfg.Output.Dir, time.Now())
		sinks := []scanner.Sink{&dataset.CSVSink{ResultsPath: resultsPath, ErrorLogPath: errorLog}}
		if store != nil {
			sinks = append(sinks, store)
		}

		b, err := p.scanner(sinks...).Run(ctx, targets)
		if err != nil {
			return fmt.Errorf("scan %s: %w", input, err)
		}
		if n := len(b.Errors); n > 0 {
			slog.Warn("logged errors", "count", n, "file", errorLog)
		}
		slog.Info("finished input", "file", input, "succeeded", b.Succeeded(), "failed", b.Failed())

		if i < len(inputs)-1 {
			slog.Info("waiting before next input", "pause", cfg.Output.InputPause)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(cfg.Output.InputPause):
			}
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "processed %d input file(s), results in %s\n", len(inputs), resultsPath)
	return nil
}

func applyScanFlags(cmd *cobra.Command, cfg *config.Config) {
	if v, _ := cmd.Flags().GetString("uploads"); v != "" {
		cfg.Output.UploadsDir = v
	}
	if v, _ := cmd.Flags().GetString("output"); v != "" {
		cfg.Output.Dir = filepath.Dir(v)
		cfg.Output.ResultsFile = filepath.Base(v)
	}
	if v, _ := cmd.Flags().GetString("sqlite"); v != "" {
		cfg.Output.SQLitePath = v
	}
	if n, _ := cmd.Flags().GetInt("concurrency"); n > 0 {
		cfg.Scan.TaskConcurrency = n
		cfg.Scan.PageConcurrency = n
	}
}

// scanInputs returns --input, or every CSV of the uploads directory.
func scanInputs(cmd *cobra.Command, cfg *config.Config) ([]string, error) {
	if v, _ := cmd.Flags().GetString("input"); v != "" {
		return []string{v}, nil
	}
	inputs, err := dataset.ListInputs(cfg.Output.UploadsDir)
	if err != nil {
		return nil, err
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("no CSV files found in %s", cfg.Output.UploadsDir)
	}
	return inputs, nil
}
