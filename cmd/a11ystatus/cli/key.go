package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ICJIA/icjia-accessibility-status/internal/apikey"
	"github.com/ICJIA/icjia-accessibility-status/internal/service"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long:    "Create, list, rotate and revoke the API keys external integrations use to reach the API.",
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyRevokeCmd())
	cmd.AddCommand(newKeyRotateCmd())
	cmd.AddCommand(newKeySweepCmd())
	cmd.AddCommand(newKeyStatsCmd())

	return cmd
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var (
		name      string
		env       string
		scopes    []string
		expiresIn time.Duration
		notes     string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long:  "Generate a new API key. The full key is shown once and cannot be retrieved again.",
		Example: `  a11ystatus key create --name "status dashboard" --scope sites:read
  a11ystatus key create --name ci --env test --expires-in 720h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyCreate(cmd.OutOrStdout(), name, env, scopes, expiresIn, notes)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Human-readable key name (required)")
	cmd.Flags().StringVar(&env, "env", string(apikey.Live), "Key environment: live or test")
	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "Scope to grant, repeatable (default sites:write)")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 0, "Expire the key after this long (default never)")
	cmd.Flags().StringVar(&notes, "notes", "", "Free-form notes")
	cmd.MarkFlagRequired("name")

	return cmd
}

func runKeyCreate(out io.Writer, name, env string, scopes []string, expiresIn time.Duration, notes string) error {
	e, err := openCLIEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	in := service.CreateKeyInput{
		Name:        name,
		Environment: env,
		Scopes:      scopes,
	}
	if expiresIn > 0 {
		t := time.Now().Add(expiresIn).UTC()
		in.ExpiresAt = &t
	}
	if notes != "" {
		in.Notes = &notes
	}

	created, err := e.keys.Create(context.Background(), "", in, cliInfo)
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}

	k := created.Key
	fmt.Fprintln(out, "API Key created:")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Key:    %s\n", created.FullKey)
	fmt.Fprintf(out, "  ID:     %s\n", k.ID)
	fmt.Fprintf(out, "  Name:   %s\n", k.KeyName)
	fmt.Fprintf(out, "  Scopes: %s\n", strings.Join(k.Scopes, ", "))
	if k.ExpiresAt != nil {
		fmt.Fprintf(out, "  Expires: %s\n", k.ExpiresAt.Format(time.RFC3339))
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  Save this key now - it cannot be retrieved again.")
	return nil
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyList(cmd.OutOrStdout(), jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runKeyList(out io.Writer, jsonOutput bool) error {
	e, err := openCLIEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	keys, _, err := e.keys.List(context.Background(), 0, 0)
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}

	type keyRow struct {
		ID       string   `json:"id"`
		Key      string   `json:"display_key"`
		Name     string   `json:"key_name"`
		Scopes   []string `json:"scopes"`
		Active   bool     `json:"is_active"`
		Usage    int64    `json:"usage_count"`
		LastUsed string   `json:"last_used_at,omitempty"`
		Grace    string   `json:"grace_period_expires_at,omitempty"`
	}

	rows := make([]keyRow, len(keys))
	for i, k := range keys {
		rows[i] = keyRow{
			ID:     k.ID,
			Key:    apikey.DisplayName(k.KeyPrefix, k.KeySuffix),
			Name:   k.KeyName,
			Scopes: k.Scopes,
			Active: k.IsActive,
			Usage:  k.UsageCount,
		}
		if k.LastUsedAt != nil {
			rows[i].LastUsed = k.LastUsedAt.Format(time.RFC3339)
		}
		if k.GracePeriodExpiresAt != nil {
			rows[i].Grace = k.GracePeriodExpiresAt.Format(time.RFC3339)
		}
	}

	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	if len(rows) == 0 {
		fmt.Fprintln(out, "No API keys configured. Use 'a11ystatus key create' to create one.")
		return nil
	}

	fmt.Fprintf(out, "%-36s %-24s %-24s %-8s %-8s\n", "ID", "KEY", "NAME", "ACTIVE", "USES")
	fmt.Fprintf(out, "%-36s %-24s %-24s %-8s %-8s\n", "--", "---", "----", "------", "----")
	for _, k := range rows {
		fmt.Fprintf(out, "%-36s %-24s %-24s %-8s %-8d\n", k.ID, k.Key, k.Name, yesNo(k.Active), k.Usage)
	}

	return nil
}

// ---------- key revoke ----------

func newKeyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <id-or-prefix>",
		Short: "Revoke an API key",
		Long:  "Deactivate an API key, preventing any further authenticated requests using that key.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyRevoke(cmd.OutOrStdout(), args[0])
		},
	}

	return cmd
}

func runKeyRevoke(out io.Writer, ref string) error {
	e, err := openCLIEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := context.Background()
	key, err := resolveKey(ctx, e.keys, ref)
	if err != nil {
		return err
	}
	if _, err := e.keys.Revoke(ctx, "", key.ID, cliInfo); err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}

	fmt.Fprintf(out, "Revoked API key %s (%s)\n", apikey.DisplayName(key.KeyPrefix, key.KeySuffix), key.KeyName)
	return nil
}

// ---------- key rotate ----------

func newKeyRotateCmd() *cobra.Command {
	var graceDays int

	cmd := &cobra.Command{
		Use:   "rotate <id-or-prefix>",
		Short: "Replace an API key, keeping the old one alive for a grace period",
		Long: `Issue a replacement key with the same name, scopes and expiry. The old key
keeps working until its grace period ends and is then deactivated by the sweep.`,
		Example: `  a11ystatus key rotate sk_live_3f9a2c
  a11ystatus key rotate 0191c4c2-... --grace-days 3`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyRotate(cmd.OutOrStdout(), args[0], graceDays)
		},
	}

	cmd.Flags().IntVar(&graceDays, "grace-days", 0, "Days the old key stays valid (default rotation.grace_period_days)")

	return cmd
}

func runKeyRotate(out io.Writer, ref string, graceDays int) error {
	if graceDays < 0 {
		return fmt.Errorf("--grace-days must not be negative")
	}

	e, err := openCLIEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := context.Background()
	key, err := resolveKey(ctx, e.keys, ref)
	if err != nil {
		return err
	}
	res, err := e.rotation.Rotate(ctx, key.ID, "", graceDays)
	if err != nil {
		return fmt.Errorf("rotate api key: %w", err)
	}

	fmt.Fprintln(out, "API Key rotated:")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  New key: %s\n", res.FullKey)
	fmt.Fprintf(out, "  New ID:  %s\n", res.NewKey.ID)
	fmt.Fprintf(out, "  Old key %s stays active until %s (%d days)\n",
		apikey.DisplayName(key.KeyPrefix, key.KeySuffix),
		res.GracePeriodExpiresAt.Format(time.RFC3339), res.GracePeriodDays)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  Save this key now - it cannot be retrieved again.")
	return nil
}

// ---------- key sweep ----------

func newKeySweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Deactivate keys whose rotation grace period has ended",
		Long:  "Run the grace period sweep once. The server runs it on rotation.sweep_interval.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeySweep(cmd.OutOrStdout())
		},
	}
}

func runKeySweep(out io.Writer) error {
	e, err := openCLIEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	res, err := e.rotation.SweepExpiredGracePeriods(context.Background())
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	fmt.Fprintf(out, "Deactivated %d key(s)", res.Deactivated)
	if res.Failed > 0 {
		fmt.Fprintf(out, ", %d failed (see logs)", res.Failed)
	}
	fmt.Fprintln(out)
	return nil
}

// ---------- key stats ----------

func newKeyStatsCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show key rotation statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyStats(cmd.OutOrStdout(), jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runKeyStats(out io.Writer, jsonOutput bool) error {
	e, err := openCLIEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	stats, err := e.rotation.Stats(context.Background())
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}

	fmt.Fprintf(out, "Total:            %d\n", stats.TotalKeys)
	fmt.Fprintf(out, "Active:           %d\n", stats.ActiveKeys)
	fmt.Fprintf(out, "Inactive:         %d\n", stats.InactiveKeys)
	fmt.Fprintf(out, "In grace period:  %d\n", stats.KeysInGracePeriod)
	fmt.Fprintf(out, "Rotated:          %d\n", stats.RotatedKeys)
	return nil
}
