package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"invoiceguard/internal/logger"
	"invoiceguard/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the tamper check over HTTP",
	Long: `Start an HTTP server that accepts invoice uploads and returns verdicts.

Endpoints:
  POST /api/check_invoice  multipart/form-data with the document in field "invoice"
  GET  /artifacts/...      evidence images (local artifact backend only)
  GET  /healthz            liveness check

Each upload is stored in its own temporary directory under UPLOAD_DIR and
removed when the request completes.

Optional environment variables:
  SERVER_ADDR - Listen address (default: :8080)
  MAX_UPLOAD_MB - Upload size limit (default: 20)
  CORS_ALLOWED_ORIGINS - Comma-separated allowed origins (default: *)`,
	Example: `  # Serve on the default address
  invoiceguard serve

  # Serve on a different port
  invoiceguard serve --addr :9090

  # Try it
  curl -F invoice=@invoice.pdf http://localhost:8080/api/check_invoice`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "Listen address (default: SERVER_ADDR)")
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("serve")

	cfg, err := requireConfig()
	if err != nil {
		return err
	}

	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = cfg.ServerAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Local artifacts are served by this process, so references become URLs.
	artifactBaseURL, artifactDir := "", ""
	if cfg.ArtifactBackend == "local" {
		artifactBaseURL, artifactDir = "/artifacts", cfg.ArtifactDir
	}

	p, cleanup, err := buildPipeline(ctx, cfg, artifactBaseURL, log)
	if err != nil {
		return err
	}
	defer cleanup()

	srv := server.New(p, server.Config{
		Addr:           addr,
		UploadDir:      cfg.UploadDir,
		MaxUploadBytes: cfg.MaxUploadBytes,
		ArtifactDir:    artifactDir,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Timeout:        cfg.PipelineTimeout,
	})

	log.Info().
		Str("addr", addr).
		Str("ocr_engine", cfg.OCREngine).
		Str("artifact_backend", cfg.ArtifactBackend).
		Msg("Starting tamper check server")

	return srv.ListenAndServe(ctx)
}
