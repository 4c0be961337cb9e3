package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ashureev/shsh-runner/internal/banlist"
	"github.com/ashureev/shsh-runner/internal/store"
)

type options struct {
	dbPath      string
	banListPath string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "runnerctl",
		Short:         "Operate a repo runner server",
		Long:          `Manage the ban list and inspect registered users of a repo runner server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.dbPath, "db", envOr("DB_PATH", "./data/runner.db"), "SQLite database path")
	cmd.PersistentFlags().StringVar(&opts.banListPath, "ban-file", os.Getenv("BAN_LIST_PATH"), "JSON ban list file (default: bans in the database)")

	cmd.AddCommand(
		newBanCmd(opts),
		newUnbanCmd(opts),
		newBansCmd(opts),
		newUsersCmd(opts),
	)
	return cmd
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func openStore(opts *options) (*store.SQLiteStore, error) {
	repo, err := store.NewSQLite(opts.dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", opts.dbPath, err)
	}
	return repo, nil
}

// openBans returns the configured ban list and a close function.
func openBans(opts *options) (banlist.List, func(), error) {
	if opts.banListPath != "" {
		f, err := banlist.NewFile(opts.banListPath)
		if err != nil {
			return nil, nil, err
		}
		return f, func() {}, nil
	}
	repo, err := openStore(opts)
	if err != nil {
		return nil, nil, err
	}
	return repo, func() { _ = repo.Close() }, nil
}
