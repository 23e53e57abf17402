package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/mpnag/discipline/internal/config"
	"github.com/mpnag/discipline/internal/database"
	"github.com/mpnag/discipline/internal/models"
	"github.com/mpnag/discipline/internal/repositories"
	"github.com/mpnag/discipline/internal/services"
	pkgauth "github.com/mpnag/discipline/pkg/auth"
	pkglogger "github.com/mpnag/discipline/pkg/logger"
	"github.com/spf13/cobra"
)

func newAccountsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Account provisioning",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newAccountsCreateCommand())
	return cmd
}

func newAccountsCreateCommand() *cobra.Command {
	var (
		fullName    string
		email       string
		username    string
		role        string
		grade       string
		passwordEnv string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an account",
		Long:  "Create an account. The password is read from the environment variable named by --password-env so it never appears in the process list.",
		RunE: func(cmd *cobra.Command, args []string) error {
			parsedRole, ok := models.ParseRole(role)
			if !ok {
				return fmt.Errorf("unknown role %q (want Admin, Teacher or Student)", role)
			}
			password := os.Getenv(passwordEnv)
			if password == "" {
				return fmt.Errorf("%s is not set", passwordEnv)
			}

			input := services.NewAccount{
				FullName: fullName,
				Email:    email,
				Username: username,
				Password: password,
				Role:     parsedRole,
			}
			if grade != "" {
				input.Grade = &grade
			}

			cfg, err := config.LoadTooling()
			if err != nil {
				return err
			}
			hasher, err := pkgauth.NewHasher(cfg.BcryptCost)
			if err != nil {
				return err
			}

			logger := stderrLogger()
			db, err := database.NewConnection(&cfg.Database, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			svc := services.NewAccountService(repositories.NewAccountRepository(db), hasher, logger, pkglogger.NewAuditLogger(logger))
			summary, err := svc.Create(commandContext(cmd), input)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		},
	}

	cmd.Flags().StringVar(&fullName, "full-name", "", "Display name")
	cmd.Flags().StringVar(&email, "email", "", "Email address")
	cmd.Flags().StringVar(&username, "username", "", "Login name (must not contain @)")
	cmd.Flags().StringVar(&role, "role", "", "Admin, Teacher or Student")
	cmd.Flags().StringVar(&grade, "grade", "", "Grade (students only)")
	cmd.Flags().StringVar(&passwordEnv, "password-env", "AUTHCTL_PASSWORD", "Environment variable holding the initial password")
	_ = cmd.MarkFlagRequired("full-name")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}
