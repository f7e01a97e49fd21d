package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nurisoft/contractdesk/internal/contract"
	"github.com/nurisoft/contractdesk/internal/server"
	"github.com/nurisoft/contractdesk/internal/template"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the contract management HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if servePort > 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return eris.Wrap(err, "config")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate")
		}

		templates, err := template.Load(cfg.Templates.Path)
		if err != nil {
			return eris.Wrap(err, "load templates")
		}

		srv := server.New(buildOrchestrator(), contract.NewService(st, templates), st, server.Options{
			MaxUploadBytes: cfg.Upload.MaxBytes,
			UploadDir:      cfg.Upload.TempDir,
		})

		httpSrv := &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
			Handler: srv.Handler(),
		}

		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpSrv.Shutdown(shutdownCtx); err != nil {
				zap.L().Warn("server shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("server listening",
			zap.Int("port", cfg.Server.Port),
			zap.String("store_driver", cfg.Store.Driver),
			zap.Bool("vision_enabled", cfg.Anthropic.Key != ""),
		)

		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (overrides config)")
	rootCmd.AddCommand(serveCmd)
}
