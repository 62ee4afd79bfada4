package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ICJIA/icjia-accessibility-status/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long:  "Initialize a default configuration file or display the current effective configuration.",
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

// ---------- config init ----------

func newConfigInitCmd() *cobra.Command {
	var (
		force bool
		path  string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a default a11ystatus.yaml configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(cmd.OutOrStdout(), path, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing config file")
	cmd.Flags().StringVar(&path, "path", "a11ystatus.yaml", "File to write")

	return cmd
}

func runConfigInit(out io.Writer, path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}

	if err := config.WriteDefaultSettings(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Fprintf(out, "Created %s\n", path)
	fmt.Fprintln(out, "Every key can be overridden with an A11Y_ environment variable, e.g. A11Y_SERVER_PORT.")
	return nil
}

// ---------- config show ----------

func newConfigShowCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the current effective configuration",
		Long: `Show the effective configuration. With --file, the given YAML file is read
on its own, with ${VAR} references expanded, instead of the usual config search.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd.OutOrStdout(), file)
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Show the settings from this YAML file only")

	return cmd
}

func runConfigShow(out io.Writer, file string) error {
	var (
		settings *config.Settings
		err      error
	)
	if file != "" {
		fmt.Fprintf(out, "# Config file: %s\n", file)
		settings, err = config.LoadSettingsFile(file)
	} else {
		if configFile := viper.ConfigFileUsed(); configFile != "" {
			fmt.Fprintf(out, "# Config file: %s\n", configFile)
		} else {
			fmt.Fprintln(out, "# Config file: (none found, using defaults)")
		}
		settings, err = loadSettings()
	}
	if err != nil {
		return err
	}
	if settings.Database.DSN != "" {
		settings.Database.DSN = "********"
	}

	data, err := yaml.Marshal(settings)
	if err != nil {
		return err
	}
	_, err = out.Write(data)
	return err
}
