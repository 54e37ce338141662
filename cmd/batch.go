package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"invoiceguard/internal/logger"
	"invoiceguard/internal/pipeline"
	"invoiceguard/internal/raster"
	"invoiceguard/internal/sheets"
	"invoiceguard/pkg/models"
)

var batchCmd = &cobra.Command{
	Use:   "batch [folder-path]",
	Short: "Run the tamper check on every invoice in a folder",
	Long: `Run the tamper check on every supported document in a folder (recursively).

Documents are processed in parallel; each run is independent and writes its
artifacts into its own run directory. A document that cannot be processed is
reported as an error and does not stop the batch.

Optional environment variables:
  BATCH_WORKERS - Number of parallel workers (default: 4)
  PIPELINE_TIMEOUT_SECONDS - Timeout per document (default: 120)

The whole batch may run for ceil(documents / workers) times the per-document
timeout, plus a minute for the report export, before it is canceled.`,
	Example: `  # Check every invoice in a folder
  invoiceguard batch ./invoices

  # Use 8 workers and write a JSON report
  invoiceguard batch ./invoices --workers 8 --json -o report.json

  # Show every verdict, not only the summary
  invoiceguard batch ./invoices --verbose

  # Append the report to a Google Sheet
  invoiceguard batch ./invoices --sheet-url "https://docs.google.com/spreadsheets/d/..."`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

// BatchResult represents the result of processing a single document
type BatchResult struct {
	File    string                  `json:"file"`
	Verdict *models.VerdictEnvelope `json:"verdict,omitempty"`
	Error   string                  `json:"error,omitempty"`
	Status  string                  `json:"status"` // "authentic", "altered", "error"
	Index   int                     `json:"-"`      // Original order index
}

// BatchReport is the JSON output of the batch command.
type BatchReport struct {
	Folder    string        `json:"folder"`
	Total     int           `json:"total"`
	Authentic int           `json:"authentic"`
	Altered   int           `json:"altered"`
	Errors    int           `json:"errors"`
	Duration  string        `json:"duration"`
	Results   []BatchResult `json:"results"`
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().Int("workers", 0, "Number of parallel workers (default: BATCH_WORKERS)")
	batchCmd.Flags().StringP("output", "o", "", "Write the JSON report to a file")
	batchCmd.Flags().Bool("json", false, "Output the report as JSON")
	batchCmd.Flags().Bool("verbose", false, "Show every verdict")
	batchCmd.Flags().String("sheet-url", "", "Append the report to this Google Sheet")
	batchCmd.Flags().String("sheet-name", sheets.DefaultSheetName, "Tab name for --sheet-url")
}

func runBatch(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("batch")

	cfg, err := requireConfig()
	if err != nil {
		return err
	}

	folderPath := args[0]
	workers, _ := cmd.Flags().GetInt("workers")
	outputPath, _ := cmd.Flags().GetString("output")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	verbose, _ := cmd.Flags().GetBool("verbose")
	sheetURL, _ := cmd.Flags().GetString("sheet-url")
	sheetName, _ := cmd.Flags().GetString("sheet-name")
	if workers <= 0 {
		workers = cfg.BatchWorkers
	}

	folderInfo, err := os.Stat(folderPath)
	if err != nil {
		return fmt.Errorf("folder not found: %s", folderPath)
	}
	if !folderInfo.IsDir() {
		return fmt.Errorf("path is not a directory: %s", folderPath)
	}

	files, err := findDocuments(folderPath)
	if err != nil {
		return fmt.Errorf("failed to find documents: %w", err)
	}
	if len(files) == 0 {
		fmt.Println("No supported documents found in folder.")
		return nil
	}

	log.Info().
		Str("folder", folderPath).
		Int("files", len(files)).
		Int("workers", workers).
		Msg("Starting batch tamper check")

	ctx, cancel := createContextWithTimeout(batchDeadline(len(files), workers, cfg.PipelineTimeout), log)
	defer cancel()

	p, cleanup, err := buildPipeline(ctx, cfg, "", log)
	if err != nil {
		return err
	}
	defer cleanup()

	if !jsonOutput {
		fmt.Printf("Checking %d documents with %d parallel workers...\n\n", len(files), workers)
	}

	start := time.Now()
	results := checkDocumentsInParallel(ctx, p, files, workers, cfg.PipelineTimeout, log, verbose && !jsonOutput)

	report := BatchReport{
		Folder:   folderPath,
		Total:    len(results),
		Duration: time.Since(start).Round(time.Millisecond).String(),
		Results:  results,
	}
	for _, r := range results {
		switch r.Status {
		case models.StatusAuthentic:
			report.Authentic++
		case models.StatusAltered:
			report.Altered++
		default:
			report.Errors++
		}
	}

	log.Info().
		Int("total", report.Total).
		Int("authentic", report.Authentic).
		Int("altered", report.Altered).
		Int("errors", report.Errors).
		Msg("Batch tamper check completed")

	if sheetURL != "" {
		reporter, err := sheets.NewReporter(ctx, sheetURL)
		if err != nil {
			return fmt.Errorf("failed to connect to Google Sheet: %w", err)
		}
		if err := reporter.AppendRows(ctx, toSheetRows(results), sheetName); err != nil {
			return fmt.Errorf("failed to write report to Google Sheet: %w", err)
		}
		if !jsonOutput {
			fmt.Printf("Report written to Google Sheet (%s)\n", sheetName)
		}
	}

	if jsonOutput || outputPath != "" {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to create JSON output: %w", err)
		}
		if err := writeOutput(data, outputPath, log); err != nil {
			return err
		}
		if jsonOutput {
			return nil
		}
	}

	printBatchSummary(report)
	return nil
}

// batchReportAllowance covers the report export after the last document.
const batchReportAllowance = time.Minute

// batchDeadline bounds the whole batch by the slowest schedule: every wave of
// workers runs into the per-document timeout.
func batchDeadline(files, workers int, perDocument time.Duration) time.Duration {
	if workers < 1 {
		workers = 1
	}
	waves := (files + workers - 1) / workers
	if waves < 1 {
		waves = 1
	}
	return time.Duration(waves)*perDocument + batchReportAllowance
}

// findDocuments finds all supported documents in the specified folder
func findDocuments(folderPath string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(folderPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && raster.SupportedExtension(d.Name()) {
			files = append(files, path)
		}
		return nil
	})

	sort.Strings(files)
	return files, err
}

// documentChecker is the part of the pipeline the batch runner needs.
type documentChecker interface {
	CheckDocument(ctx context.Context, path string) (*pipeline.Verdict, error)
}

// checkDocumentsInParallel runs independent pipeline invocations with at most
// workers in flight. Results keep the input order.
func checkDocumentsInParallel(ctx context.Context, checker documentChecker, files []string, workers int, timeout time.Duration, log zerolog.Logger, verbose bool) []BatchResult {
	results := make([]BatchResult, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, file := range files {
		i, file := i, file
		g.Go(func() error {
			results[i] = checkOne(gctx, checker, file, i, timeout, log)
			if verbose {
				printBatchResult(results[i])
			}
			return nil
		})
	}
	// Workers never return errors; failures are recorded per file.
	_ = g.Wait()

	return results
}

func checkOne(ctx context.Context, checker documentChecker, file string, index int, timeout time.Duration, log zerolog.Logger) BatchResult {
	result := BatchResult{File: file, Index: index, Status: "error"}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	verdict, err := checker.CheckDocument(runCtx, file)
	if err != nil {
		log.Warn().Err(err).Str("file", file).Msg("Document could not be processed")
		result.Error = err.Error()
		return result
	}

	env := verdict.Envelope()
	result.Verdict = &env
	result.Status = env.Status
	return result
}

// toSheetRows flattens batch results into report rows.
func toSheetRows(results []BatchResult) []sheets.Row {
	rows := make([]sheets.Row, 0, len(results))
	for _, r := range results {
		row := sheets.Row{File: r.File, Status: r.Status, Message: r.Error}
		if v := r.Verdict; v != nil {
			row.Outcome = v.Outcome
			row.Message = v.Message
			row.MissingFields = v.MissingFields
			row.MatchedKeywords = v.MatchedKeywords
			row.MaxDifference = v.MaxDifference
			row.Page = v.PageArtifact
			row.RunID = v.RunID
			if v.EvidenceArtifact != nil {
				row.Evidence = *v.EvidenceArtifact
			}
		}
		rows = append(rows, row)
	}
	return rows
}

func printBatchResult(r BatchResult) {
	name := filepath.Base(r.File)
	switch {
	case r.Verdict != nil:
		fmt.Printf("[%s] %s: %s\n", strings.ToUpper(r.Status), name, r.Verdict.Message)
	default:
		fmt.Printf("[ERROR] %s: %s\n", name, r.Error)
	}
}

func printBatchSummary(report BatchReport) {
	fmt.Println()
	fmt.Println(strings.Repeat("=", 50))
	fmt.Println("                 RESULT")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Printf("Authentic: %d\n", report.Authentic)
	fmt.Printf("Altered:   %d\n", report.Altered)
	if report.Errors > 0 {
		fmt.Printf("Errors:    %d\n", report.Errors)
	}
	fmt.Printf("Duration:  %s\n", report.Duration)

	var flagged []BatchResult
	for _, r := range report.Results {
		if r.Status != models.StatusAuthentic {
			flagged = append(flagged, r)
		}
	}
	if len(flagged) > 0 {
		fmt.Println()
		fmt.Println("Flagged documents:")
		for _, r := range flagged {
			printBatchResult(r)
		}
	}
	fmt.Println(strings.Repeat("=", 50))
}
