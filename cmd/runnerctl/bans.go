package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashureev/shsh-runner/internal/domain"
)

func newBanCmd(opts *options) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "ban <username>...",
		Short: "Ban one or more users",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bans, closeFn, err := openBans(opts)
			if err != nil {
				return err
			}
			defer closeFn()

			for _, name := range args {
				if !domain.ValidUsername(name) {
					return fmt.Errorf("invalid username %q", name)
				}
				if err := bans.Ban(cmd.Context(), name, reason); err != nil {
					return fmt.Errorf("ban %s: %w", name, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Banned '%s'\n", name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded with the ban (database only)")
	return cmd
}

func newUnbanCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "unban <username>...",
		Short: "Lift bans",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bans, closeFn, err := openBans(opts)
			if err != nil {
				return err
			}
			defer closeFn()

			for _, name := range args {
				removed, err := bans.Unban(cmd.Context(), name)
				if err != nil {
					return fmt.Errorf("unban %s: %w", name, err)
				}
				if removed {
					fmt.Fprintf(cmd.OutOrStdout(), "Unbanned '%s'\n", name)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "'%s' was not banned\n", name)
				}
			}
			return nil
		},
	}
}

func newBansCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "bans",
		Short: "List banned users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			bans, closeFn, err := openBans(opts)
			if err != nil {
				return err
			}
			defer closeFn()

			list, err := bans.ListBans(cmd.Context())
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No banned users.")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "USERNAME\tSINCE\tREASON")
			for _, b := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", b.Username, b.CreatedAt.Format(time.RFC3339), b.Reason)
			}
			return tw.Flush()
		},
	}
}
