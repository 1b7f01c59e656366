package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openstratus/stratus/pkg/stores"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply ledger database migrations and exit",
		Long: `Opens the ledger database, applies any pending schema migrations and
exits. The serve command migrates on startup as well; this command
exists for pre-deployment pipelines that migrate separately.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			store, err := stores.NewSQLiteStore(stores.Config{
				Path:            cfg.Database.Path,
				MaxOpenConns:    cfg.Database.MaxOpenConns,
				MaxIdleConns:    cfg.Database.MaxIdleConns,
				ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			})
			if err != nil {
				return fmt.Errorf("failed to create ledger store: %w", err)
			}
			if err := store.Init(cmd.Context()); err != nil {
				return fmt.Errorf("failed to open ledger database: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Println("migrations applied")
			return nil
		},
	}
}
