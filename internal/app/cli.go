package app

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"loandocs/internal/config"
	"loandocs/internal/domain"
	"loandocs/internal/export"
	"loandocs/internal/inbox"
	"loandocs/internal/logging"
	"loandocs/internal/review"
)

var version = "dev"

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type cliOptions struct {
	configPath string
	outputJSON bool
}

func NewRootCmd() *cobra.Command {
	opts := &cliOptions{}
	root := &cobra.Command{
		Use:   "loandocs",
		Short: "Classify and extract loan documents with a learning review loop",
		Long: `loandocs classifies loan application PDFs, extracts their fields with an
LLM, and learns from reviewer corrections: every corrected field is stored and
shown to the model on later extractions of the same document type.`,
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default $CONFIG_PATH or ./config.yaml)")
	root.PersistentFlags().BoolVar(&opts.outputJSON, "json", false, "Output results as JSON")

	root.AddCommand(
		newServeCmd(opts),
		newProcessCmd(opts),
		newInboxCmd(opts),
		newMetricsCmd(opts),
		newCorrectionsCmd(opts),
	)
	return root
}

// load reads configuration and builds the app. The caller closes it.
func (o *cliOptions) load() (*App, error) {
	cfg, err := config.LoadConfig(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	return New(cfg, logger)
}

func (a *App) shutdown() {
	if err := a.Close(); err != nil {
		a.Logger.Warn("closing database", zap.Error(err))
	}
	_ = a.Logger.Sync()
}

func newServeCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, inbox scheduler and Slack review bot",
		Long: `Run the review service until interrupted.

Serves the HTTP API and /metrics on http_addr, scans inbox_dir on
inbox_schedule, posts review requests and the digest_schedule digest to
review_channel_id, and handles review buttons when slack_app_token is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.load()
			if err != nil {
				return err
			}
			defer a.shutdown()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.Serve(ctx)
		},
	}
}

func newProcessCmd(opts *cliOptions) *cobra.Command {
	var exportPath string
	cmd := &cobra.Command{
		Use:   "process <pdf-or-url>...",
		Short: "Classify and extract one or more documents",
		Long: `Classify and extract documents and print the results.

Examples:
  # Process two local files
  loandocs process w9.pdf statement.pdf

  # Process a remote file and save the dashboard workbook
  loandocs process https://example.com/coi.pdf --export run.xlsx`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.load()
			if err != nil {
				return err
			}
			defer a.shutdown()

			failed := 0
			var docs []review.Document
			for _, item := range a.Pipeline.ProcessBatch(cmd.Context(), args) {
				if item.Err != nil {
					failed++
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", item.Source, item.Err)
					continue
				}
				docs = append(docs, a.Session.Add(item.Result))
			}

			if opts.outputJSON {
				if err := writeJSON(cmd.OutOrStdout(), docs); err != nil {
					return err
				}
			} else {
				printDocuments(cmd.OutOrStdout(), docs)
			}
			if exportPath != "" {
				if err := writeWorkbook(exportPath, a.Session); err != nil {
					return err
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d documents failed", failed, len(args))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&exportPath, "export", "", "Write the dashboard workbook (.xlsx) to this path")
	return cmd
}

func newInboxCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inbox",
		Short: "Process everything in inbox_dir once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.load()
			if err != nil {
				return err
			}
			defer a.shutdown()

			w := a.Inbox()
			if w == nil {
				return fmt.Errorf("inbox_dir is not configured")
			}
			summary, err := w.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			if opts.outputJSON {
				return writeJSON(cmd.OutOrStdout(), summary)
			}
			fmt.Fprintln(cmd.OutOrStdout(), inbox.FormatSummary(summary))
			return nil
		},
	}
}

func newMetricsCmd(opts *cliOptions) *cobra.Command {
	var exportPath string
	cmd := &cobra.Command{
		Use:   "metrics <batch.json>",
		Short: "Compute dashboard metrics from a saved review batch",
		Long: `Compute classification, extraction, operational and confidence metrics
from a review batch file with the keys classify_reviews, extraction_reviews,
ops_metrics and confidences. Use "-" to read standard input.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			batch, err := readBatch(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			d := review.BuildDashboard(batch, time.Now())
			if exportPath != "" {
				wb, err := export.Workbook(d, nil)
				if err != nil {
					return err
				}
				defer wb.Close()
				if err := wb.SaveAs(exportPath); err != nil {
					return fmt.Errorf("saving workbook: %w", err)
				}
			}
			if opts.outputJSON {
				return writeJSON(cmd.OutOrStdout(), d)
			}
			printDashboard(cmd.OutOrStdout(), d)
			return nil
		},
	}
	cmd.Flags().StringVar(&exportPath, "export", "", "Write the dashboard workbook (.xlsx) to this path")
	return cmd
}

func newCorrectionsCmd(opts *cliOptions) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "corrections",
		Short: "Show which fields reviewers correct most",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if days < 1 {
				return fmt.Errorf("--days must be >= 1")
			}
			a, err := opts.load()
			if err != nil {
				return err
			}
			defer a.shutdown()

			since := time.Now().Add(-time.Duration(days) * 24 * time.Hour)
			stats, err := a.Store.CorrectionStats(cmd.Context(), since)
			if err != nil {
				return err
			}
			if opts.outputJSON {
				if stats == nil {
					stats = []domain.CorrectionStat{}
				}
				return writeJSON(cmd.OutOrStdout(), stats)
			}
			printCorrections(cmd.OutOrStdout(), stats, days)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "Look back this many days")
	return cmd
}

func readBatch(stdin io.Reader, path string) (domain.ReviewBatch, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return domain.ReviewBatch{}, fmt.Errorf("opening batch: %w", err)
		}
		defer f.Close()
		r = f
	}
	var batch domain.ReviewBatch
	if err := json.NewDecoder(r).Decode(&batch); err != nil {
		return domain.ReviewBatch{}, fmt.Errorf("parsing batch: %w", err)
	}
	return batch, nil
}

func writeWorkbook(path string, s *review.Session) error {
	wb, err := export.Workbook(s.Dashboard(time.Now()), s.Documents())
	if err != nil {
		return err
	}
	defer wb.Close()
	if err := wb.SaveAs(path); err != nil {
		return fmt.Errorf("saving workbook: %w", err)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printDocuments(w io.Writer, docs []review.Document) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSOURCE\tTYPE\tCONFIDENCE\tREVIEW\tFIELDS\tLATENCY\tCOST")
	for _, d := range docs {
		flag := "auto"
		if d.OriginalConfidence < d.Threshold {
			flag = "needed"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%s\t%d\t%.1fs\t$%.4f\n",
			d.ID, d.Source, d.Classification.DocumentType, d.OriginalConfidence, flag,
			len(d.Fields), d.LatencySeconds, d.CostUSD)
	}
	_ = tw.Flush()

	for _, d := range docs {
		if len(d.Fields) == 0 {
			continue
		}
		fmt.Fprintf(w, "\n%s (%s)\n", d.Source, d.Classification.DocumentType)
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for _, f := range d.Fields {
			fmt.Fprintf(tw, "  %s\t%s\t%.2f\tp%d\n", f.Name, f.Value, f.Confidence, f.Page)
		}
		_ = tw.Flush()
	}
}

func printDashboard(w io.Writer, d review.Dashboard) {
	c := d.Classification
	fmt.Fprintf(w, "Classification: accuracy %.3f  precision %.3f  recall %.3f\n", c.Accuracy, c.Precision, c.Recall)
	if len(c.Labels) > 0 {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
		fmt.Fprint(tw, "actual\\predicted\t")
		for _, l := range c.Labels {
			fmt.Fprintf(tw, "%s\t", l)
		}
		fmt.Fprintln(tw)
		for i, l := range c.Labels {
			fmt.Fprintf(tw, "%s\t", l)
			for _, n := range c.ConfusionMatrix[i] {
				fmt.Fprintf(tw, "%d\t", n)
			}
			fmt.Fprintln(tw)
		}
		_ = tw.Flush()
	}

	fmt.Fprintf(w, "\nExtraction: macro F1 %.3f\n", d.MacroF1)
	if len(d.Extraction) > 0 {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "FIELD\tEXACT\tF1\tSAMPLES")
		for _, f := range d.Extraction {
			fmt.Fprintf(tw, "%s\t%.3f\t%.3f\t%d\n", f.FieldName, f.ExactMatchRate, f.TokenF1Score, f.Samples)
		}
		_ = tw.Flush()
	}

	fmt.Fprintln(w)
	if d.Ops == nil {
		fmt.Fprintln(w, "Ops: not enough data")
	} else {
		o := d.Ops
		fmt.Fprintf(w, "Ops: %d docs  p50 %.2fs  p95 %.2fs  cost/doc $%.4f  total $%.4f  auto %.1f%%  review %.1f%%\n",
			o.TotalDocs, o.P50Latency, o.P95Latency, o.CostPerDoc, o.TotalCost, o.AutoApproveRate*100, o.HumanReviewRate*100)
	}

	if len(d.Confidence) > 0 {
		fmt.Fprintln(w)
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "TYPE\t<50%\t50-70%\t70-90%\t>=90%\tMEAN")
		for _, b := range d.Confidence {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%.3f\n", b.DocumentType, b.Below50, b.From50To70, b.From70To90, b.From90, b.Mean)
		}
		_ = tw.Flush()
	}
}

func printCorrections(w io.Writer, stats []domain.CorrectionStat, days int) {
	if len(stats) == 0 {
		fmt.Fprintf(w, "No corrections in the last %d days.\n", days)
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tFIELD\tCORRECTIONS")
	for _, s := range stats {
		fmt.Fprintf(tw, "%s\t%s\t%d\n", s.DocumentType, s.FieldName, s.CorrectionCount)
	}
	_ = tw.Flush()
}
