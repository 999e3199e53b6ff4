package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/article-engine/internal/config"
	"github.com/sells-group/article-engine/internal/model"
)

var (
	enqueuePayload  payloadFlags
	enqueuePriority int
	enqueueFile     string
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Insert generation jobs into the queue",
	Long:  "Inserts one job from flags, or many from a JSON-lines file of payloads (--file, - for stdin).",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate(config.ModeEnqueue); err != nil {
			return err
		}

		var jobs []model.Job
		if enqueueFile != "" {
			in, err := openInput(enqueueFile)
			if err != nil {
				return err
			}
			payloads, err := readPayloads(in)
			_ = in.Close()
			if err != nil {
				return err
			}
			for _, p := range payloads {
				jobs = append(jobs, model.Job{Payload: p, Priority: enqueuePriority})
			}
		} else {
			p, err := enqueuePayload.payload()
			if err != nil {
				return err
			}
			jobs = append(jobs, model.Job{Payload: p, Priority: enqueuePriority})
		}
		if len(jobs) == 0 {
			return eris.New("no jobs to enqueue")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		if len(jobs) == 1 {
			job, err := st.Enqueue(ctx, jobs[0])
			if err != nil {
				return eris.Wrap(err, "enqueue job")
			}
			fmt.Fprintln(cmd.OutOrStdout(), job.ID)
			zap.L().Info("job enqueued", zap.String("job_id", job.ID), zap.String("topic", job.Payload.Topic))
			return nil
		}

		n, err := st.EnqueueBatch(ctx, jobs)
		if err != nil {
			return eris.Wrap(err, "enqueue batch")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d jobs enqueued\n", n)
		zap.L().Info("jobs enqueued", zap.Int64("count", n))
		return nil
	},
}

func init() {
	enqueuePayload.bind(enqueueCmd)
	enqueueCmd.Flags().IntVar(&enqueuePriority, "priority", 0, "job priority (higher runs first)")
	enqueueCmd.Flags().StringVar(&enqueueFile, "file", "", "JSON-lines file of payloads, - for stdin")
	rootCmd.AddCommand(enqueueCmd)
}
