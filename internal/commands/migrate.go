package commands

import (
	"context"
	"log"
	"time"

	"github.com/spf13/cobra"

	"sitecrew-backend/internal/platform/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the embedded database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		conn, err := db.Connect(cfg.DB)
		if err != nil {
			return err
		}
		defer conn.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
		defer cancel()
		if err := db.Migrate(ctx, conn); err != nil {
			return err
		}
		log.Printf("[INFO] schema up to date: %s", cfg.DB.DBName)
		return nil
	},
}
