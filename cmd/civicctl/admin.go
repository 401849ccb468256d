package main

import (
	"context"
	"fmt"
	"time"

	"civicvoice/internal/config"
	"civicvoice/internal/model"
	"civicvoice/internal/store"

	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema and indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(ctx context.Context, st store.Store, _ *config.Config) error {
				if err := st.Migrate(ctx); err != nil {
					return err
				}
				printf(cmd.OutOrStdout(), "migration complete\n")
				return nil
			})
		},
	}
}

func newUserCmd() *cobra.Command {
	userCmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}

	setAdmin := func(use, short string, admin bool) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <email>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStore(cmd, func(ctx context.Context, st store.Store, _ *config.Config) error {
					if err := st.SetAdmin(ctx, args[0], admin); err != nil {
						return fmt.Errorf("%s %s: %w", use, args[0], err)
					}
					printf(cmd.OutOrStdout(), "%s: is_admin=%t\n", args[0], admin)
					return nil
				})
			},
		}
	}

	var olderThan time.Duration
	purge := &cobra.Command{
		Use:   "purge-unverified",
		Short: "Delete accounts that never completed email verification",
		Long: `Delete unverified accounts created before now minus --older-than.
When --older-than is not set the configured app.unverified_ttl is used.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(ctx context.Context, st store.Store, cfg *config.Config) error {
				ttl := olderThan
				if ttl <= 0 {
					ttl = cfg.App.UnverifiedTTL
				}
				if ttl <= 0 {
					return fmt.Errorf("retention must be positive")
				}
				n, err := st.PurgeUnverified(ctx, time.Now().Add(-ttl))
				if err != nil {
					return err
				}
				printf(cmd.OutOrStdout(), "purged %d unverified account(s) older than %s\n", n, ttl)
				return nil
			})
		},
	}
	purge.Flags().DurationVar(&olderThan, "older-than", 0, "minimum account age, e.g. 48h")

	userCmd.AddCommand(
		setAdmin("promote", "Grant admin rights to an account", true),
		setAdmin("demote", "Revoke admin rights from an account", false),
		purge,
	)
	return userCmd
}

func newFeedbackCmd() *cobra.Command {
	feedbackCmd := &cobra.Command{
		Use:   "feedback",
		Short: "Manage citizen feedback",
	}
	feedbackCmd.AddCommand(&cobra.Command{
		Use:   "set-status <id> <status>",
		Short: "Move a feedback item to another workflow status",
		Long:  "Valid statuses: pending, under_review, in_progress, resolved, rejected.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status := model.FeedbackStatus(args[1])
			if !status.Valid() {
				return fmt.Errorf("invalid status %q", args[1])
			}
			return withStore(cmd, func(ctx context.Context, st store.Store, _ *config.Config) error {
				fb, err := st.UpdateFeedbackStatus(ctx, args[0], status)
				if err != nil {
					return fmt.Errorf("update %s: %w", args[0], err)
				}
				printf(cmd.OutOrStdout(), "%s: %s\n", fb.ID, fb.Status)
				return nil
			})
		},
	})
	return feedbackCmd
}
