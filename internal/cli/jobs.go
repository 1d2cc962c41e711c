package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"recipebox/backend/features/job"
)

func newJobsCmd(open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and retry dead-lettered messages",
	}

	var filter job.Filter
	list := &cobra.Command{
		Use:   "list",
		Short: "List failed jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: withBackend(open, func(cmd *cobra.Command, b *Backend, _ []string) error {
			jobs, err := b.Jobs.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No failed jobs.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTOPIC\tRECIPE\tRETRIES\tCREATED\tERROR")
			for _, j := range jobs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
					j.ID, j.Topic, orDash(j.RecipeID), j.Retries, j.CreatedAt.Format(time.RFC3339), j.Error)
			}
			return w.Flush()
		}),
	}
	list.Flags().StringVar(&filter.Topic, "topic", "", "only jobs from this NSQ topic")
	list.Flags().StringVar(&filter.RecipeID, "recipe", "", "only jobs for this recipe id")
	list.Flags().IntVar(&filter.Limit, "limit", 50, "maximum number of jobs to show")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "retry <job-id>",
		Short: "Republish a failed job to its original topic",
		Args:  cobra.ExactArgs(1),
		RunE: withBackend(open, func(cmd *cobra.Command, b *Backend, args []string) error {
			if err := b.Jobs.Retry(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("retry %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %s republished.\n", args[0])
			return nil
		}),
	})
	return cmd
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
