package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/article-engine/internal/config"
	"github.com/sells-group/article-engine/internal/model"
	"github.com/sells-group/article-engine/internal/store"
)

var (
	generatePayload payloadFlags
	generateOut     string
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate one article without the queue and print the HTML",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate(config.ModeGenerate); err != nil {
			return err
		}
		p, err := generatePayload.payload()
		if err != nil {
			return err
		}

		// The postgres searcher reads from the store's pool.
		var st store.Store
		if cfg.Retrieval.Searcher == "postgres" {
			st, err = initStore(ctx)
			if err != nil {
				return err
			}
		}

		env, err := initEngine(ctx, st)
		if err != nil {
			if st != nil {
				_ = st.Close()
			}
			return err
		}
		defer env.Close()

		job := model.Job{ID: uuid.NewString(), Payload: p, Status: model.JobStatusProcessing}
		out, err := env.Consumer.Generate(ctx, job)
		if err != nil {
			return eris.Wrap(err, "generate")
		}

		a := out.Artifact
		zap.L().Info("article generated",
			zap.String("title", a.Title),
			zap.String("provider", a.Metrics.Provider),
			zap.Int("length", a.Metrics.Length),
			zap.Bool("validated", a.Metrics.Validated),
			zap.Int("corrections", a.Metrics.CorrectionAttempts),
			zap.Float64("score", a.QualityScore),
			zap.Int64("tokens", a.Metrics.TokensUsed),
		)

		if generateOut != "" {
			if err := os.WriteFile(generateOut, []byte(a.Content), 0o644); err != nil {
				return eris.Wrapf(err, "write %s", generateOut)
			}
			return nil
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), a.Content)
		return err
	},
}

func init() {
	generatePayload.bind(generateCmd)
	generateCmd.Flags().StringVarP(&generateOut, "out", "o", "", "write HTML to this file instead of stdout")
	rootCmd.AddCommand(generateCmd)
}
