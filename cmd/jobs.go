package cmd

import (
	"github.com/spf13/cobra"
)

func newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspects crawl jobs",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "Lists the most recent jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			jobs, err := appInstance.Crawls().RecentJobs(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printJSON(cmd, jobs)
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "maximum number of jobs to show")

	get := &cobra.Command{
		Use:   "get <job-id>",
		Short: "Shows one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			job, err := appInstance.Crawls().GetJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, job)
		},
	}

	running := &cobra.Command{
		Use:   "running",
		Short: "Shows the running job, or null",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			job, err := appInstance.Crawls().RunningJob(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, job)
		},
	}

	cmd.AddCommand(list, get, running)
	return cmd
}
