package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/article-engine/internal/api"
	"github.com/sells-group/article-engine/internal/config"
)

var (
	workerStatusAddr string
	workerOnce       bool
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume generation jobs from the queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate(config.ModeWorker); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return eris.Wrap(err, "migrate store")
		}

		env, err := initEngine(ctx, st)
		if err != nil {
			_ = st.Close()
			return err
		}
		defer env.Close()

		if workerOnce {
			n, err := env.Consumer.ProcessOnce(ctx)
			if err != nil {
				return err
			}
			zap.L().Info("single batch processed", zap.Int("jobs", n), zap.Any("stats", env.Consumer.Stats()))
			return nil
		}

		addr := workerStatusAddr
		if addr == "" {
			addr = cfg.Server.StatusAddr
		}
		if addr != "" {
			srv := &http.Server{
				Addr: addr,
				Handler: api.NewHandler(api.Options{
					Jobs:           st,
					Governor:       env.Governor,
					Order:          env.Router.Order,
					Stats:          env.Consumer.Stats,
					AllowedOrigins: cfg.Server.AllowedOrigins,
				}),
				ReadHeaderTimeout: 10 * time.Second,
			}

			// Graceful shutdown
			go func() {
				<-ctx.Done()
				zap.L().Info("shutting down status server")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()

			go func() {
				zap.L().Info("starting status server", zap.String("addr", addr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					zap.L().Error("status server failed", zap.Error(err))
				}
			}()
		}

		return env.Consumer.Run(ctx)
	},
}

func init() {
	workerCmd.Flags().StringVar(&workerStatusAddr, "status-addr", "", "listen address for the status API, e.g. :8080 (default from config)")
	workerCmd.Flags().BoolVar(&workerOnce, "once", false, "process a single batch and exit")
	rootCmd.AddCommand(workerCmd)
}
