package main

import (
	"fmt"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/tavern-panel/panel/jobs"
)

func newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and trigger background jobs",
	}
	cmd.AddCommand(newJobsTriggerCmd(), newJobsStatsCmd())
	return cmd
}

func newJobsTriggerCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "trigger <task>",
		Short:     "Enqueue a background task now",
		Long:      "Enqueue a background task now. Known tasks: " + strings.Join(jobs.TaskTypes(), ", "),
		Args:      cobra.ExactArgs(1),
		ValidArgs: jobs.TaskTypes(),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			task, err := jobs.NewTask(args[0], cfg.StaleCleaningAfter)
			if err != nil {
				return err
			}
			client := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
			defer client.Close()
			info, err := client.Enqueue(cmd.Context(), task)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s as %s on %s\n", info.Type, info.ID, info.Queue)
			return nil
		},
	}
}

func newJobsStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print the state of the default queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
			defer inspector.Close()
			info, err := inspector.GetQueueInfo(jobs.QueueDefault)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queue=%s size=%d pending=%d active=%d scheduled=%d retry=%d failed_today=%d\n",
				info.Queue, info.Size, info.Pending, info.Active, info.Scheduled, info.Retry, info.Failed)
			return nil
		},
	}
}
