package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tavern-panel/panel/internal/employees"
	"github.com/tavern-panel/panel/internal/payroll"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage employee accounts",
	}
	cmd.AddCommand(newUserCreateCmd())
	return cmd
}

func newUserCreateCmd() *cobra.Command {
	var (
		username string
		name     string
		role     string
		password string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an employee account, typically the first PATRON",
		Long: `Create an employee account.

The password is read from --password, then PANEL_PASSWORD, then the first
line of standard input.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			parsed, err := payroll.ParseRole(role)
			if err != nil {
				return err
			}
			if password == "" {
				password = os.Getenv("PANEL_PASSWORD")
			}
			if password == "" {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return errors.New("password required")
				}
				password = strings.TrimRight(line, "\r\n")
			}
			if name == "" {
				name = username
			}

			e, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			emp, err := e.services.Employees.Create(cmd.Context(), employees.CreateInput{
				Username:    username,
				DisplayName: name,
				Password:    password,
				Role:        string(parsed),
				HiredAt:     time.Now(),
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (#%d, %s)\n", emp.Username, emp.ID, parsed.Label())
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "login name")
	cmd.Flags().StringVar(&name, "name", "", "display name (defaults to the username)")
	cmd.Flags().StringVar(&role, "role", string(payroll.RolePatron), "CDD, CDI, RESPONSABLE or PATRON")
	cmd.Flags().StringVar(&password, "password", "", "initial password")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}
