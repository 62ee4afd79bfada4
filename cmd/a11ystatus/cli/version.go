package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ICJIA/icjia-accessibility-status/internal/apikey"
	"github.com/ICJIA/icjia-accessibility-status/internal/config"
)

// versionInfo describes a build. Commit falls back to the VCS revision
// recorded by the Go toolchain when no -ldflags value was given.
type versionInfo struct {
	Version      string   `json:"version"`
	Commit       string   `json:"commit"`
	Built        string   `json:"built"`
	GoVersion    string   `json:"go_version"`
	Platform     string   `json:"platform"`
	APIBasePath  string   `json:"api_base_path"`
	StoreDrivers []string `json:"store_drivers"`
	KeyScopes    []string `json:"key_scopes"`
}

func buildVersionInfo(version, commit, date string) versionInfo {
	if commit == "" || commit == "none" {
		if bi, ok := debug.ReadBuildInfo(); ok {
			for _, s := range bi.Settings {
				if s.Key == "vcs.revision" {
					commit = s.Value
				}
			}
		}
	}
	return versionInfo{
		Version:      version,
		Commit:       commit,
		Built:        date,
		GoVersion:    runtime.Version(),
		Platform:     runtime.GOOS + "/" + runtime.GOARCH,
		APIBasePath:  "/api/v1",
		StoreDrivers: []string{config.DriverSQLite, config.DriverPostgres},
		KeyScopes:    apikey.ValidScopes,
	}
}

func newVersionCmd(version, commit, date string) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVersion(cmd.OutOrStdout(), buildVersionInfo(version, commit, date), jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	return cmd
}

func runVersion(out io.Writer, info versionInfo, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}

	fmt.Fprintf(out, "a11ystatus %s\n", info.Version)
	fmt.Fprintf(out, "  commit:   %s\n", info.Commit)
	fmt.Fprintf(out, "  built:    %s\n", info.Built)
	fmt.Fprintf(out, "  go:       %s (%s)\n", info.GoVersion, info.Platform)
	fmt.Fprintf(out, "  api:      %s\n", info.APIBasePath)
	fmt.Fprintf(out, "  stores:   %s\n", strings.Join(info.StoreDrivers, ", "))
	fmt.Fprintf(out, "  scopes:   %s\n", strings.Join(info.KeyScopes, ", "))
	return nil
}
