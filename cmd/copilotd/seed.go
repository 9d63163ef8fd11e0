package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"RM-Copilot/internal/app"
	xerrors "RM-Copilot/internal/errors"
	"RM-Copilot/internal/fixtures"
	"RM-Copilot/internal/storage/mysql"
)

func newSeedCmd(c *cli) *cobra.Command {
	var from string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Migrate the MySQL fixture tables and load a dataset into them",
		Long: `seed applies the embedded migrations to fixtures.mysql.dsn and replaces the
accounts, crm_notes and kb_articles tables with the given fixture file, or with
the builtin dataset when --from is omitted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(c.cfg.Fixtures.MySQL.DSN) == "" {
				return xerrors.New(xerrors.CodeConfigFailure, "seed 需要配置 fixtures.mysql.dsn")
			}

			ds := fixtures.Default()
			if from != "" {
				loaded, err := fixtures.LoadFile(from)
				if err != nil {
					return err
				}
				ds = loaded
			}

			store, err := mysql.NewFixtureStore(cmd.Context(), app.MySQLConfig(c.cfg.Fixtures.MySQL), true)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Seed(cmd.Context(), ds); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d accounts, %d clients, %d articles\n",
				len(ds.Accounts), len(ds.Clients), len(ds.Articles))
			return nil
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "fixture file (JSON or YAML) to load instead of the builtin dataset")
	return cmd
}
