package main

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-chat-go/internal/config"
	"github.com/ovaphlow/pitchfork/service-chat-go/internal/migrations"
	"github.com/ovaphlow/pitchfork/service-chat-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-chat-go/pkg/utilities"
)

// rootOptions holds flags shared by every subcommand.
type rootOptions struct {
	ConfigFile string
	EnvFile    string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "chat-api",
		Short:         "Realtime chat backend",
		Long:          "Serves account signup and verification, session tokens and the websocket relay.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts, serveOptions{Migrate: true})
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "path to a config file (yaml, json or toml)")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", "", "dotenv file to load before reading the environment (default .env)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	return cmd
}

// bootstrap loads configuration and builds the logger.
func (o *rootOptions) bootstrap() (config.Config, *zap.Logger, error) {
	if o.EnvFile != "" {
		config.LoadDotEnv(o.EnvFile)
	} else {
		config.LoadDotEnv()
	}

	cfg, err := config.Load(o.ConfigFile)
	if err != nil {
		return config.Config{}, nil, err
	}
	lg, err := utilities.Init(cfg.Log)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, lg, nil
}

// openDatabase connects with cfg and optionally applies pending migrations.
func openDatabase(ctx context.Context, cfg database.Config, migrate bool) (*sqlx.DB, error) {
	sqlDB, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	if migrate {
		fsys, err := migrations.For(cfg.Driver)
		if err != nil {
			sqlDB.Close()
			return nil, err
		}
		if err := database.Migrate(ctx, sqlDB, cfg.Driver, fsys, "."); err != nil {
			sqlDB.Close()
			return nil, err
		}
	}
	return sqlx.NewDb(sqlDB, cfg.Driver), nil
}
