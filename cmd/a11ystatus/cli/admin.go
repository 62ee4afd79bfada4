package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ICJIA/icjia-accessibility-status/internal/service"
)

func newAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage admin users",
		Long:  "Create and list the administrative users who sign in to manage API keys.",
	}

	cmd.AddCommand(newAdminCreateCmd())
	cmd.AddCommand(newAdminListCmd())

	return cmd
}

// ---------- admin create ----------

func newAdminCreateCmd() *cobra.Command {
	var (
		username string
		email    string
		password string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new admin user",
		Example: `  a11ystatus admin create --username admin --email admin@example.com --password secret123
  a11ystatus admin create --username admin --email admin@example.com  # prompts for password`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdminCreate(cmd.OutOrStdout(), username, email, password)
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "Login name (required)")
	cmd.Flags().StringVar(&email, "email", "", "Admin email address (required)")
	cmd.Flags().StringVar(&password, "password", "", "Admin password (prompted if omitted)")
	cmd.MarkFlagRequired("username")
	cmd.MarkFlagRequired("email")

	return cmd
}

func runAdminCreate(out io.Writer, username, email, password string) error {
	// Prompt for password if not provided
	if password == "" {
		pw, err := readPassword(out)
		if err != nil {
			return err
		}
		password = pw
	}

	e, err := openCLIEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	user, err := e.accounts.CreateAdmin(context.Background(), "", service.NewAdmin{
		Username: username,
		Email:    email,
		Password: password,
	}, cliInfo)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Created admin user %q (%s)\n", user.Username, user.ID)
	return nil
}

// ---------- admin list ----------

func newAdminListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all admin users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdminList(cmd.OutOrStdout(), jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runAdminList(out io.Writer, jsonOutput bool) error {
	e, err := openCLIEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	admins, err := e.accounts.List(context.Background())
	if err != nil {
		return fmt.Errorf("list admin users: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(admins)
	}

	if len(admins) == 0 {
		fmt.Fprintln(out, "No admin users configured. Use 'a11ystatus admin create' to create one.")
		return nil
	}

	fmt.Fprintf(out, "%-24s %-30s %-20s\n", "USERNAME", "EMAIL", "CREATED")
	fmt.Fprintf(out, "%-24s %-30s %-20s\n", "--------", "-----", "-------")
	for _, a := range admins {
		fmt.Fprintf(out, "%-24s %-30s %-20s\n", a.Username, a.Email, a.CreatedAt.Format("2006-01-02 15:04"))
	}

	return nil
}
