package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wakala/tradeguard/internal/api"
	"github.com/wakala/tradeguard/internal/rules"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if cfg.Rules.File != "" {
				if err := importRuleFile(ctx, a, cfg.Rules.File, "system"); err != nil {
					return err
				}
			}

			srv := &http.Server{
				Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
				Handler:      api.NewRouter(a.apiDeps()),
				ReadTimeout:  cfg.Server.ReadTimeout,
				WriteTimeout: cfg.Server.WriteTimeout,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("listening", zap.String("addr", srv.Addr), zap.String("api_base", "/api/v1"))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return fmt.Errorf("server failed: %w", err)
			case <-ctx.Done():
			}

			logger.Info("shutting down", zap.Duration("timeout", cfg.Server.ShutdownTimeout))
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}
			return nil
		},
	}
}

func importRuleFile(ctx context.Context, a *app, path, actor string) error {
	defs, err := rules.LoadFile(path)
	if err != nil {
		return err
	}
	n, err := a.alerts.ImportRules(ctx, defs, actor)
	if err != nil {
		return fmt.Errorf("import %s: %w", path, err)
	}
	logger.Info("rule file imported", zap.String("path", path), zap.Int("rules", n))
	return nil
}
