package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	loginEmail    string
	loginPassword string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and print the credentials as .env lines",
	Example: `  dmsync login --email ann@example.com --password '...' >> .env`,
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := newClient("").Login(cmd.Context(), loginEmail, loginPassword)
		if err != nil {
			return fmt.Errorf("login: %w", err)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "DMSYNC_TOKEN=%s\n", creds.Token)
		fmt.Fprintf(out, "DMSYNC_USER_ID=%s\n", creds.UserID)
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "Account email")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "Account password")
	loginCmd.MarkFlagRequired("email")
	loginCmd.MarkFlagRequired("password")
}
