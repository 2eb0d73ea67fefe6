package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Medard-prog/web-whisperer-sub001/internal/logger"
	"github.com/Medard-prog/web-whisperer-sub001/internal/services"
)

// createAdminCmd opens an administrator account. Administrators cannot sign
// up through the API.
func createAdminCmd() *cobra.Command {
	var in services.SignUpInput
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an administrator account",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap("admin")
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			user, err := a.users.CreateAdmin(ctx, in)
			if err != nil {
				return fmt.Errorf("failed to create administrator: %w", err)
			}
			logger.Infof("Administrator %s created with id %s", user.Email, user.ID)
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", user.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&in.Email, "email", "", "Email address")
	cmd.Flags().StringVar(&in.Name, "name", "", "Display name")
	cmd.Flags().StringVar(&in.Password, "password", "", "Initial password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}
