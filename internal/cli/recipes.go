package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"recipebox/backend/internal/workflow"
)

func newRecipesCmd(open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recipes",
		Short: "Inspect and settle ingredient batches",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status <recipe-id>",
		Short: "Show the ingredient batch status of a recipe",
		Args:  cobra.ExactArgs(1),
		RunE: withBackend(open, func(cmd *cobra.Command, b *Backend, args []string) error {
			status, err := b.Batches.Status(cmd.Context(), args[0])
			if errors.Is(err, workflow.ErrBatchNotFound) {
				fmt.Fprintf(cmd.OutOrStdout(), "Recipe %s has no ingredient batch.\n", args[0])
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Recipe %s: %s\n", args[0], status)
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "fail <recipe-id>",
		Short: "Cancel a running batch and mark its recipe as failed",
		Args:  cobra.ExactArgs(1),
		RunE: withBackend(open, func(cmd *cobra.Command, b *Backend, args []string) error {
			if err := b.Batches.Fail(cmd.Context(), args[0], workflow.ErrOperatorCancel); err != nil {
				return fmt.Errorf("recipe %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Recipe %s failed.\n", args[0])
			return nil
		}),
	})
	return cmd
}

func newPruneCmd(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Fail expired batches and delete expired recipes once",
		Args:  cobra.NoArgs,
		RunE: withBackend(open, func(cmd *cobra.Command, b *Backend, _ []string) error {
			b.Pruner.PruneOnce(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), "Prune finished.")
			return nil
		}),
	}
}
