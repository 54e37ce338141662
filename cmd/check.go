package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"invoiceguard/internal/config"
	"invoiceguard/internal/logger"
	"invoiceguard/internal/pipeline"
)

var checkCmd = &cobra.Command{
	Use:   "check [file]",
	Short: "Run the tamper check on one invoice image or PDF",
	Long: `Run the full tamper check on one document and print the verdict.

Supported inputs are PDF (first page only) and jpg, jpeg, png, gif, bmp,
tif, tiff and webp images. The ELA difference image and the analyzed page
(the rendered first page for PDFs, the upload itself for images) are stored
under ARTIFACT_DIR (or the GCS bucket when ARTIFACT_BACKEND=gcs) in a
directory named after the run ID.

Tamper-check failures are verdicts, not errors: the command succeeds and
reports the reason. Use --strict to exit non-zero for anything that is not
authentic.`,
	Example: `  # Check an invoice and print a summary
  invoiceguard check invoice.pdf

  # Print the verdict as JSON
  invoiceguard check receipt.jpg --json

  # Save the JSON verdict and fail the command if the invoice looks altered
  invoiceguard check invoice.png --json -o verdict.json --strict

  # Include the OCR transcript in the summary
  invoiceguard check invoice.pdf --show-text`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	checkCmd.Flags().Bool("json", false, "Output as JSON")
	checkCmd.Flags().Bool("show-text", false, "Include the OCR transcript in text output")
	checkCmd.Flags().Bool("strict", false, "Exit with an error unless the document is authentic")
	checkCmd.Flags().Int("timeout", 0, "Processing timeout in seconds (default: PIPELINE_TIMEOUT_SECONDS)")
}

func runCheck(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("check")

	cfg, err := requireConfig()
	if err != nil {
		return err
	}

	outputPath, _ := cmd.Flags().GetString("output")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	showText, _ := cmd.Flags().GetBool("show-text")
	strict, _ := cmd.Flags().GetBool("strict")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	path := args[0]
	timeout := timeoutFlag(timeoutSecs, cfg)

	log.Info().
		Str("file", path).
		Str("output", outputPath).
		Bool("json", jsonOutput).
		Dur("timeout", timeout).
		Msg("Starting tamper check")

	ctx, cancel := createContextWithTimeout(timeout, log)
	defer cancel()

	p, cleanup, err := buildPipeline(ctx, cfg, "", log)
	if err != nil {
		return err
	}
	defer cleanup()

	verdict, err := p.CheckDocument(ctx, path)
	if err != nil {
		return handlePipelineError(err, log)
	}

	log.Info().
		Str("run_id", verdict.RunID).
		Str("outcome", string(verdict.Outcome)).
		Msg("Tamper check completed")

	var data []byte
	if jsonOutput {
		data, err = json.MarshalIndent(verdict.Envelope(), "", "  ")
		if err != nil {
			log.Error().Err(err).Msg("Failed to marshal JSON output")
			return fmt.Errorf("failed to create JSON output: %w", err)
		}
	} else {
		data = []byte(formatVerdict(verdict, cfg, showText))
	}

	if err := writeOutput(data, outputPath, log); err != nil {
		return err
	}

	if strict && !verdict.Outcome.Authentic() {
		return fmt.Errorf("document did not pass the tamper check: %s", verdict.Outcome)
	}
	return nil
}

// formatVerdict renders a human-readable verdict summary.
func formatVerdict(v *pipeline.Verdict, cfg *config.Config, showText bool) string {
	var b strings.Builder

	status := "ALTERED"
	if v.Outcome.Authentic() {
		status = "AUTHENTIC"
	}
	fmt.Fprintf(&b, "Result:   %s\n", status)
	fmt.Fprintf(&b, "Outcome:  %s\n", v.Outcome)
	fmt.Fprintf(&b, "Message:  %s\n", v.Message)
	fmt.Fprintf(&b, "Run ID:   %s\n", v.RunID)

	fmt.Fprintf(&b, "Fields:   %d/6 found", len(v.Fields.Matched))
	if missing := v.Fields.MissingNames(); len(missing) > 0 {
		fmt.Fprintf(&b, " (missing: %s)", strings.Join(missing, ", "))
	}
	b.WriteString("\n")

	if v.Keywords != nil && len(v.Keywords.Matched) > 0 {
		fmt.Fprintf(&b, "Keywords: %s\n", strings.Join(v.Keywords.Matched, ", "))
	}
	if v.ELA != nil {
		fmt.Fprintf(&b, "ELA:      max difference %d (threshold %d)\n", v.ELA.MaxDifference, cfg.ELAThreshold)
	}
	if v.EvidenceArtifact != "" {
		fmt.Fprintf(&b, "Evidence: %s\n", v.EvidenceArtifact)
	}
	if v.PageArtifact != "" {
		fmt.Fprintf(&b, "Page:     %s\n", v.PageArtifact)
	}

	if showText {
		b.WriteString("\n=== Extracted Text ===\n\n")
		b.WriteString(v.Transcript.Text())
		b.WriteString("\n")
	}
	return b.String()
}

// writeOutput writes data to outputPath, or stdout when it is empty.
func writeOutput(data []byte, outputPath string, log zerolog.Logger) error {
	if outputPath != "" {
		if err := os.WriteFile(outputPath, data, 0644); err != nil {
			log.Error().
				Err(err).
				Str("output_file", outputPath).
				Msg("Failed to write output file")
			return fmt.Errorf("failed to write output file: %w", err)
		}

		log.Info().
			Str("output_file", outputPath).
			Int("bytes", len(data)).
			Msg("Results written to file")
		return nil
	}

	if _, err := os.Stdout.Write(data); err != nil {
		log.Error().Err(err).Msg("Failed to write to stdout")
		return fmt.Errorf("failed to write output: %w", err)
	}
	if len(data) > 0 && data[len(data)-1] != '\n' {
		fmt.Println()
	}
	return nil
}
