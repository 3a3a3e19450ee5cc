package cmd

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/qrave1/parley/internal/application/config"
	"github.com/qrave1/parley/internal/infra/auth"
)

var (
	tokenUser string
	tokenTTL  time.Duration
)

// tokenCmd выпускает JWT для локальной разработки. Выдача токенов пользователям не входит в сервис.
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Sign a development JWT for a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		userID, err := uuid.Parse(tokenUser)
		if err != nil {
			return fmt.Errorf("parse user id: %w", err)
		}

		token, err := auth.NewVerifier(cfg.JWTSecret).Issue(userID, tokenTTL)
		if err != nil {
			return fmt.Errorf("issue token: %w", err)
		}

		_, err = fmt.Fprintln(cmd.OutOrStdout(), token)

		return err
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "user id (uuid)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("user")

	rootCmd.AddCommand(tokenCmd)
}
