package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sebtcheng/insighted-monitor/internal/diag"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the ledger schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("migrate"); err != nil {
			return err
		}

		st, err := initStore(ctx, diag.NewCounters())
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate ledger")
		}

		zap.L().Info("ledger schema up to date", zap.String("driver", cfg.Ledger.Driver))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
