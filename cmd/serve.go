package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/risk-surcharge/internal/api"
	"github.com/sells-group/risk-surcharge/internal/store"
)

// version is set at build time.
var version = "dev"

var (
	servePort int
	serveRun  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve surcharge lookups over HTTP",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		e, err := newEnv(cfg, "serve")
		if err != nil {
			return err
		}
		opts, err := e.resolveOptions()
		if err != nil {
			return err
		}
		st, err := e.openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		deps := api.Deps{
			Transform: e.transform,
			Options:   opts,
			Profile:   e.profile,
			Store:     st,
			Version:   version,
		}
		if e.industry != nil {
			deps.Industry = e.industry
		}
		h := api.NewHandler(deps)

		// Start without a table when nothing was assessed yet; POST /v1/reload
		// picks it up later.
		if err := h.LoadLatest(ctx, serveRun); err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				return err
			}
			zap.L().Warn("serve: no completed assessment in the store", zap.String("run_id", serveRun))
		}

		srv := api.NewServer(cfg.Server, h)

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				zap.L().Error("server shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().StringVar(&serveRun, "run", "", "assessment run to serve (default: latest completed)")
	rootCmd.AddCommand(serveCmd)
}
