package main

import (
	"fmt"

	"github.com/mpnag/discipline/internal/background"
	"github.com/mpnag/discipline/internal/config"
	"github.com/mpnag/discipline/internal/database"
	"github.com/mpnag/discipline/internal/repositories"
	"github.com/spf13/cobra"
)

func newSweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired refresh tokens and used or expired reset tokens once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadTooling()
			if err != nil {
				return err
			}

			logger := stderrLogger()
			db, err := database.NewConnection(&cfg.Database, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			cm := background.NewCleanupManager(
				repositories.NewRefreshTokenRepository(db),
				repositories.NewPasswordResetRepository(db),
				nil,
				logger,
				0,
			)
			result := cm.RunOnce(commandContext(cmd))

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "refresh tokens deleted: %d\nreset tokens deleted: %d\n",
				result.RefreshTokens, result.ResetTokens)
			return err
		},
	}
}
