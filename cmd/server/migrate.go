package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Provision the messages and users tables",
	Long: `migrate creates the schema for the configured DB_DRIVER: embedded SQL
migrations for postgres, gorm auto-migration for mysql and sqlite.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		st, err := openStorage(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		defer st.close()

		if err := st.migrate(); err != nil {
			return err
		}
		log.Info("schema ready", zap.String("db_driver", cfg.DBDriver))
		return nil
	},
}
