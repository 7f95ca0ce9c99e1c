package main

import (
	"fmt"
	"os"

	"titipanq-admin/internal/validation"

	"github.com/spf13/cobra"
)

func (c *cli) loginCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Login and store the token pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("TITIPANQ_PASSWORD")
			}
			_, err := c.app.client.Login(cmd.Context(), validation.LoginForm{Email: email, Password: password})
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "logged in as %s (%s)\n", email, c.app.client.Role())
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password (or TITIPANQ_PASSWORD)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func (c *cli) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear the stored token pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.app.client.Logout(); err != nil {
				return err
			}
			fmt.Fprintln(c.out, "logged out")
			return nil
		},
	}
}
