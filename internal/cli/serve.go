package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"ragchat/internal/api"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the document API under /api/v1 and the OpenAI-compatible chat surface
under /v1. Documents left unfinished by a previous run are ingested again.

Examples:
  ragchat serve
  ragchat serve --addr 127.0.0.1:9000`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.reindex.Prepare(); err != nil {
		return fmt.Errorf("failed to prepare index: %w", err)
	}

	a.ingest.Start(ctx)
	go func() {
		if _, err := a.ingest.Recover(ctx); err != nil && ctx.Err() == nil {
			log.WithError(err).Error("failed to requeue unfinished documents")
		}
	}()

	if !log.IsLevelEnabled(logrus.DebugLevel) {
		gin.SetMode(gin.ReleaseMode)
	}
	handler := api.NewRouter(api.NewAPI(api.Deps{
		Documents:      a.docs,
		Collections:    a.collections,
		Chat:           a.chat,
		Completion:     cfg.Completion,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		Log:            log.WithField("component", "api"),
	}))

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"addr":       cfg.Server.Addr,
			"embedding":  cfg.Embedding.Provider + "/" + cfg.Embedding.Model,
			"completion": cfg.Completion.Provider + "/" + cfg.Completion.Model,
			"chunks":     a.vectors.Count(),
		}).Info("ragchat listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
