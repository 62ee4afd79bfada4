package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ICJIA/icjia-accessibility-status/internal/server"
)

func newServeCmd() *cobra.Command {
	var (
		dev     bool
		baseURL string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long: `Start the HTTP server that authenticates admin sessions and API keys.

The grace period sweep and the expired session purge run in the background
until the server receives SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(dev, baseURL)
		},
	}

	cmd.Flags().IntP("port", "p", 8080, "HTTP listen port")
	cmd.Flags().String("host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (debug logging)")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Public base URL advertised in the OpenAPI document")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(dev bool, baseURL string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}

	logger, closeLog := newLogger(settings.Logging, dev)
	defer closeLog()

	// 1. Open the row store
	store, err := openStore(settings)
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Info("store initialized", "driver", store.Driver(), "data_dir", settings.Database.DataDir)

	// 2. Check for first-run (no admin exists)
	hasAdmin, err := store.HasAnyAdminUser(context.Background())
	if err != nil {
		logger.Warn("failed to check for admin", "error", err)
	}
	if !hasAdmin {
		logger.Warn("no admin account found - run: a11ystatus admin create")
	}

	// 3. Build and start HTTP server
	srvCfg := server.ConfigFromSettings(settings)
	srvCfg.BaseURL = baseURL
	srvCfg.Version = versionString()
	srv := server.New(srvCfg, store, logger)

	host, port := settings.Server.Host, settings.Server.Port
	fmt.Printf("→ a11ystatus %s\n", versionString())
	fmt.Printf("→ Listening on http://%s:%d\n", host, port)
	fmt.Printf("→ OpenAPI:    http://%s:%d/openapi.json\n", host, port)
	fmt.Printf("→ Health:     http://%s:%d/healthz\n", host, port)
	fmt.Printf("→ Metrics:    http://%s:%d/metrics\n", host, port)
	fmt.Printf("→ Key sweep every %s, %d day grace period\n", srvCfg.SweepInterval, srvCfg.GracePeriodDays)
	fmt.Println()

	return srv.ListenAndServe()
}
