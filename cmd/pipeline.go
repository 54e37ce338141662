package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"invoiceguard/internal/artifact"
	"invoiceguard/internal/checks"
	"invoiceguard/internal/config"
	"invoiceguard/internal/ela"
	"invoiceguard/internal/ocr"
	"invoiceguard/internal/ocr/tesseract"
	"invoiceguard/internal/pipeline"
	"invoiceguard/internal/raster"
)

// createContextWithTimeout creates a context with timeout and signal handling
func createContextWithTimeout(timeout time.Duration, log zerolog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)

	// Handle interrupt signals for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			log.Info().
				Str("signal", sig.String()).
				Msg("Received interrupt signal, canceling processing")
			cancel()
		case <-ctx.Done():
			// Context completed normally
		}
	}()

	return ctx, cancel
}

// timeoutFlag returns --timeout in seconds, or the configured pipeline timeout when unset.
func timeoutFlag(secs int, cfg *config.Config) time.Duration {
	if secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return cfg.PipelineTimeout
}

// googleClientOptions returns options shared by the Google API clients.
// GOOGLE_CLOUD_PROJECT bills Vision and Storage usage to that project.
func googleClientOptions(cfg *config.Config) []option.ClientOption {
	if cfg.GoogleCloudProject == "" {
		return nil
	}
	return []option.ClientOption{option.WithQuotaProject(cfg.GoogleCloudProject)}
}

func createRasterizer(cfg *config.Config) *raster.PopplerRasterizer {
	return raster.NewPopplerRasterizer(raster.PopplerConfig{
		PdftoppmPath: cfg.PdftoppmPath,
		DPI:          cfg.RasterDPI,
		JPEGQuality:  cfg.RasterJPEGQuality,
	})
}

// createExtractor builds the text extractor over the configured OCR engine.
// The returned func releases engine resources.
func createExtractor(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*ocr.Extractor, func(), error) {
	var engine ocr.Engine
	cleanup := func() {}

	switch cfg.OCREngine {
	case "vision":
		vision, err := ocr.NewVisionEngine(ctx, nil, googleClientOptions(cfg)...)
		if err != nil {
			if errors.Is(err, ocr.ErrMissingCredentials) {
				log.Error().
					Err(err).
					Msg("Google Cloud credentials not configured")
				return nil, nil, fmt.Errorf("missing Google Cloud credentials. Please set one of:\n" +
					"  GOOGLE_APPLICATION_CREDENTIALS=/path/to/service-account-key.json\n" +
					"  GOOGLE_CREDENTIALS='<json-credentials>'\n" +
					"or use OCR_ENGINE=tesseract\n" +
					"Original error: %w", err)
			}
			log.Error().Err(err).Msg("Failed to create Vision OCR engine")
			return nil, nil, fmt.Errorf("failed to create OCR engine: %w", err)
		}
		engine = vision
		cleanup = func() {
			if err := vision.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close Vision client")
			}
		}
	default:
		engine = tesseract.New(tesseract.Config{
			Languages:      cfg.OCRLanguages,
			TessdataPrefix: cfg.TessdataPrefix,
		})
	}

	extractor, err := ocr.NewExtractor(engine, cfg.BinarizeThreshold)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	log.Debug().
		Str("engine", engine.Name()).
		Int("threshold", cfg.BinarizeThreshold).
		Msg("OCR engine created successfully")
	return extractor, cleanup, nil
}

// createArtifactStore opens the configured artifact backend. baseURL only
// applies to the local backend.
func createArtifactStore(ctx context.Context, cfg *config.Config, baseURL string, log zerolog.Logger) (artifact.Store, func(), error) {
	switch cfg.ArtifactBackend {
	case "gcs":
		store, client, err := artifact.NewGCSStore(ctx, cfg.GCSArtifactBucket, cfg.GCSArtifactPrefix, googleClientOptions(cfg)...)
		if err != nil {
			log.Error().Err(err).Str("bucket", cfg.GCSArtifactBucket).Msg("Failed to create GCS artifact store")
			return nil, nil, fmt.Errorf("failed to open artifact bucket %s: %w", cfg.GCSArtifactBucket, err)
		}
		return store, func() {
			if err := client.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close storage client")
			}
		}, nil
	default:
		store, err := artifact.NewLocalStore(cfg.ArtifactDir, baseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open artifact directory %s: %w", cfg.ArtifactDir, err)
		}
		return store, func() {}, nil
	}
}

// buildPipeline wires every stage from configuration. The returned func
// releases clients held by the stages.
func buildPipeline(ctx context.Context, cfg *config.Config, artifactBaseURL string, log zerolog.Logger) (*pipeline.Pipeline, func(), error) {
	fields, err := checks.NewFieldCheckerFromRules(cfg.Rules, cfg.FieldMinMatches)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid field rules: %w", err)
	}
	keywords := checks.NewKeywordCheckerFromRules(cfg.Rules)

	extractor, closeExtractor, err := createExtractor(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}

	store, closeStore, err := createArtifactStore(ctx, cfg, artifactBaseURL, log)
	if err != nil {
		closeExtractor()
		return nil, nil, err
	}
	cleanup := func() {
		closeStore()
		closeExtractor()
	}

	engine, err := ela.NewEngine(cfg.ELAQuality, cfg.ELAThreshold, store)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	p, err := pipeline.New(pipeline.Deps{
		Rasterizer: createRasterizer(cfg),
		Extractor:  extractor,
		Fields:     fields,
		Keywords:   keywords,
		ELA:        engine,
		Pages:      store,
		Observer:   pipeline.NewLogObserver(),
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	log.Debug().
		Str("ocr_engine", cfg.OCREngine).
		Str("artifact_backend", cfg.ArtifactBackend).
		Int("field_min_matches", fields.MinMatches()).
		Int("ela_quality", cfg.ELAQuality).
		Int("ela_threshold", cfg.ELAThreshold).
		Msg("Pipeline created successfully")

	return p, cleanup, nil
}

// handlePipelineError provides user-friendly error messages for infrastructure failures
func handlePipelineError(err error, log zerolog.Logger) error {
	log.Error().Err(err).Msg("Document processing failed")

	switch {
	case errors.Is(err, pipeline.ErrTimeout):
		return fmt.Errorf("could not process document: timed out. Try increasing --timeout or PIPELINE_TIMEOUT_SECONDS")
	case errors.Is(err, pipeline.ErrCanceled):
		return fmt.Errorf("could not process document: processing was canceled")
	case errors.Is(err, raster.ErrUnsupportedFormat), errors.Is(err, raster.ErrDecodeFailed):
		return fmt.Errorf("could not process document: unsupported or corrupted image file: %w", err)
	case errors.Is(err, raster.ErrInvalidPDF):
		return fmt.Errorf("could not process document: invalid or corrupted PDF file. Please check the file integrity")
	case errors.Is(err, raster.ErrNoPages):
		return fmt.Errorf("could not process document: the PDF has no pages")
	case errors.Is(err, raster.ErrRenderFailed):
		return fmt.Errorf("could not process document: PDF rendering failed. Make sure Poppler's pdftoppm is installed "+
			"or set PDFTOPPM_PATH: %w", err)
	case errors.Is(err, ocr.ErrMissingCredentials):
		return fmt.Errorf("could not process document: Google Cloud credentials missing for the Vision OCR engine")
	case errors.Is(err, ocr.ErrImageTooLarge):
		return fmt.Errorf("could not process document: page image exceeds the OCR request limit. Try a lower RASTER_DPI")
	case errors.Is(err, ocr.ErrOCRFailed):
		return fmt.Errorf("could not process document: OCR failed. This may be due to network issues, API quota limits, "+
			"or a missing Tesseract language pack: %w", err)
	case errors.Is(err, ela.ErrRecompress), errors.Is(err, ela.ErrEmptyImage):
		return fmt.Errorf("could not process document: the image could not be recompressed for error level analysis: %w", err)
	case errors.Is(err, artifact.ErrExists), errors.Is(err, artifact.ErrPersistFailed):
		return fmt.Errorf("could not process document: failed to store evidence artifact: %w", err)
	default:
		return fmt.Errorf("could not process document: %w", err)
	}
}
