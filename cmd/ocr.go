package cmd

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"invoiceguard/internal/logger"
	"invoiceguard/internal/raster"
)

var ocrCmd = &cobra.Command{
	Use:   "ocr [file]",
	Short: "Print the OCR transcript the tamper check would see",
	Long: `Rasterize a document and run the same binarization and OCR the tamper
check uses, then print the transcript. Useful to find out why the field or
keyword check fails for a document.

The engine is selected with OCR_ENGINE:
  tesseract - local Tesseract (default), languages from OCR_LANGUAGES
  vision    - Google Cloud Vision, credentials from
              GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_CREDENTIALS`,
	Example: `  # Print the transcript of an invoice
  invoiceguard ocr invoice.pdf

  # Save the transcript to a file
  invoiceguard ocr invoice.png -o extracted.txt

  # Output as JSON with image details
  invoiceguard ocr invoice.pdf --json`,
	Args: cobra.ExactArgs(1),
	RunE: runOCR,
}

// OCROutput represents the JSON output structure when --json flag is used
type OCROutput struct {
	Text               string `json:"text"`
	FileName           string `json:"file_name"`
	Kind               string `json:"kind"`
	Width              int    `json:"width"`
	Height             int    `json:"height"`
	Channels           int    `json:"channels"`
	Engine             string `json:"engine"`
	ProcessingDuration string `json:"processing_duration"`
}

func init() {
	rootCmd.AddCommand(ocrCmd)

	ocrCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	ocrCmd.Flags().Bool("json", false, "Output as JSON")
	ocrCmd.Flags().Int("timeout", 0, "Processing timeout in seconds (default: PIPELINE_TIMEOUT_SECONDS)")
}

func runOCR(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("ocr")

	cfg, err := requireConfig()
	if err != nil {
		return err
	}

	outputPath, _ := cmd.Flags().GetString("output")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	path := args[0]

	ctx, cancel := createContextWithTimeout(timeoutFlag(timeoutSecs, cfg), log)
	defer cancel()

	doc, err := raster.NewDocument(path)
	if err != nil {
		return handlePipelineError(err, log)
	}

	extractor, cleanup, err := createExtractor(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	start := time.Now()
	img, err := createRasterizer(cfg).Rasterize(ctx, doc)
	if err != nil {
		return handlePipelineError(err, log)
	}

	transcript, err := extractor.Extract(ctx, img)
	if err != nil {
		return handlePipelineError(err, log)
	}
	duration := time.Since(start)

	log.Info().
		Str("file", path).
		Str("kind", doc.Kind.String()).
		Int("text_length", len(transcript.Text())).
		Dur("duration", duration).
		Msg("OCR completed")

	if !jsonOutput {
		return writeOutput([]byte(transcript.Text()), outputPath, log)
	}

	data, err := json.MarshalIndent(OCROutput{
		Text:               transcript.Text(),
		FileName:           filepath.Base(path),
		Kind:               doc.Kind.String(),
		Width:              img.Width,
		Height:             img.Height,
		Channels:           img.Channels,
		Engine:             cfg.OCREngine,
		ProcessingDuration: duration.String(),
	}, "", "  ")
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal JSON output")
		return fmt.Errorf("failed to create JSON output: %w", err)
	}
	return writeOutput(data, outputPath, log)
}
