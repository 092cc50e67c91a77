package main

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"ai_feed/migrations"
)

type gooseFunc func(db *sql.DB, dir string, opts ...goose.OptionsFunc) error

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var dbPath string

	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the aifeed database schema",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&dbPath, "db", envOrDefault("DATABASE_PATH", "./data/aifeed.db"), "path to sqlite database")

	for _, c := range []struct {
		use   string
		short string
		fn    gooseFunc
	}{
		{"up", "Migrate to the latest version", goose.Up},
		{"up-one", "Migrate one version up", goose.UpByOne},
		{"down", "Roll back one version", goose.Down},
		{"status", "Show migration status", goose.Status},
		{"version", "Show current version", goose.Version},
		{"reset", "Roll back all migrations", goose.Reset},
	} {
		root.AddCommand(&cobra.Command{
			Use:   c.use,
			Short: c.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runGoose(dbPath, c.use, c.fn)
			},
		})
	}
	return root
}

func runGoose(dbPath, name string, fn gooseFunc) error {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := fn(db, "."); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
