package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check if the server is running and ready",
		Long:  "Query the readiness probe of a running server, which also pings its store.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.OutOrStdout(), addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Server address (default from server.host and server.port)")

	return cmd
}

func runStatus(out io.Writer, addr string) error {
	if addr == "" {
		settings, err := loadSettings()
		if err != nil {
			return err
		}
		host := settings.Server.Host
		if host == "" || host == "0.0.0.0" {
			host = "127.0.0.1"
		}
		addr = fmt.Sprintf("http://%s:%d", host, settings.Server.Port)
	}

	readyAddr := addr + "/readyz"
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(readyAddr)
	if err != nil {
		fmt.Fprintf(out, "Server is not responding at %s.\n", addr)
		return nil
	}
	defer resp.Body.Close()

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	json.NewDecoder(resp.Body).Decode(&body)

	fmt.Fprintf(out, "Server is running at %s\n", addr)
	fmt.Fprintf(out, "  Ready:  %s (%d)\n", body.Status, resp.StatusCode)
	for name, state := range body.Checks {
		fmt.Fprintf(out, "  %-7s %s\n", name+":", state)
	}
	return nil
}
