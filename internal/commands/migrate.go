package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// migrator is implemented by providers whose schema must be created up front.
type migrator interface {
	Migrate(ctx context.Context) error
}

// NewMigrateCmd creates the migrate command.
func NewMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the tables and indexes the configured provider needs",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(cmd, false)
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			prov, err := newProvider(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("creating provider: %w", err)
			}
			defer func() { _ = prov.Stop(ctx) }()

			m, ok := prov.(migrator)
			if !ok {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Provider %s needs no migration.\n", cfg.Provider)
				return nil
			}
			if err := m.Migrate(ctx); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("Migrated %s provider.", cfg.Provider))
			return nil
		},
	}
}
