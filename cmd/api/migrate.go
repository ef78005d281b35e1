package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ovaphlow/pitchfork/service-chat-go/internal/migrations"
	"github.com/ovaphlow/pitchfork/service-chat-go/pkg/database"
)

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate [up|status]",
		Short: "Apply or inspect database migrations",
		Long: `Apply pending schema migrations (up, the default) or print the
applied state of every migration (status).

Example:
  chat-api migrate
  chat-api migrate status --config ./chat.yaml`,
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"up", "status"},
		RunE: func(cmd *cobra.Command, args []string) error {
			action := "up"
			if len(args) == 1 {
				action = args[0]
			}

			cfg, lg, err := opts.bootstrap()
			if err != nil {
				return err
			}
			defer lg.Sync()
			sugar := lg.Sugar()

			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx := cmd.Context()
			db, err := openDatabase(ctx, cfg.Database, false)
			if err != nil {
				return err
			}
			defer db.Close()

			fsys, err := migrations.For(cfg.Database.Driver)
			if err != nil {
				return err
			}
			switch action {
			case "up":
				if err := database.Migrate(ctx, db.DB, cfg.Database.Driver, fsys, "."); err != nil {
					return err
				}
				sugar.Infow("migrations applied", "driver", cfg.Database.Driver)
				return nil
			case "status":
				return database.MigrationStatus(ctx, db.DB, cfg.Database.Driver, fsys, ".")
			default:
				return fmt.Errorf("unknown migrate action %q", action)
			}
		},
	}
	return cmd
}
