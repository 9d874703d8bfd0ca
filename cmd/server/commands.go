package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/prudhvinik1/edgecall/internal/app"
	"github.com/prudhvinik1/edgecall/internal/database"
	"github.com/prudhvinik1/edgecall/internal/services"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func buildServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	fxApp := fx.New(
		fx.NopLogger,
		app.Module(cfg),
	)
	if err := fxApp.Err(); err != nil {
		log.Error().Err(err).Msg("Failed to build application")
		return err
	}
	fxApp.Run()
	return nil
}

func buildMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			result, err := database.Migrate(cfg.DatabaseURL)
			if err != nil {
				log.Error().Err(err).Msg("Migration failed")
				return err
			}
			log.Info().
				Uint("version", result.Version).
				Bool("dirty", result.Dirty).
				Bool("changed", result.Changed).
				Msg("Migrations applied")
			return nil
		},
	}
}

func buildTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token [user-id]",
		Short: "Mint a client token for local testing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid user id: %w", err)
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			token, expiresAt, err := services.NewAuthService(cfg.JWTSecret, app.DevTokenExpiry).IssueToken(userID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			log.Debug().Time("expires_at", expiresAt).Msg("Token issued")
			return nil
		},
	}
}
