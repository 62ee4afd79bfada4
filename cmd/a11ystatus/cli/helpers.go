package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ICJIA/icjia-accessibility-status/internal/activity"
	"github.com/ICJIA/icjia-accessibility-status/internal/apikey"
	"github.com/ICJIA/icjia-accessibility-status/internal/config"
	"github.com/ICJIA/icjia-accessibility-status/internal/model"
	"github.com/ICJIA/icjia-accessibility-status/internal/service"
)

// dataDir holds the --data-dir persistent flag value (set on root command).
var dataDir string

// defaultDataDir returns ~/.a11ystatus.
func defaultDataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".a11ystatus")
}

// loadSettings decodes the effective settings from the config file, A11Y_*
// environment variables and the --data-dir flag.
func loadSettings() (*config.Settings, error) {
	s, err := config.LoadSettings(viper.GetViper())
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		s.Database.DataDir = dataDir
	}
	if s.Database.Driver == config.DriverSQLite && s.Database.DSN == "" && s.Database.DataDir == "" {
		s.Database.DataDir = defaultDataDir()
	}
	return s, nil
}

// openStore connects to the configured row store.
func openStore(s *config.Settings) (*config.Store, error) {
	store, err := config.Open(s.Database)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return store, nil
}

// newLogger builds the process logger. With logging.file set, output goes to
// a size-rotated file instead of stderr. The returned func closes the file.
func newLogger(cfg config.LoggingSettings, dev bool) (*slog.Logger, func()) {
	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	if dev {
		level = slog.LevelDebug
	}

	var (
		w       io.Writer = os.Stderr
		closeFn           = func() {}
	)
	if cfg.File != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		w = lj
		closeFn = func() { lj.Close() }
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h), closeFn
}

// cliEnv bundles what the offline management commands need.
type cliEnv struct {
	store    *config.Store
	keys     *service.KeyManager
	rotation *service.RotationManager
	accounts *service.AccountService
	logger   *slog.Logger
}

// openCLIEnv loads settings, opens the store and builds the key and account
// services. Activity is written synchronously; there is no background queue
// outside serve.
func openCLIEnv() (*cliEnv, error) {
	s, err := loadSettings()
	if err != nil {
		return nil, err
	}
	logger, _ := newLogger(config.LoggingSettings{Level: "warn"}, false)
	store, err := openStore(s)
	if err != nil {
		return nil, err
	}

	act := activity.New(store, nil, logger)
	gen := apikey.NewGenerator(s.Auth.HashCost)
	return &cliEnv{
		store:    store,
		keys:     service.NewKeyManager(store, gen, act, logger),
		rotation: service.NewRotationManager(store, gen, act, logger, s.Rotation.GracePeriodDays),
		accounts: service.NewAccountService(store, act, s.Auth.HashCost),
		logger:   logger,
	}, nil
}

func (e *cliEnv) Close() error {
	return e.store.Close()
}

// cliInfo tags activity written by management commands.
var cliInfo = activity.RequestInfo{IP: "cli", UserAgent: "a11ystatus"}

// resolveKey finds a key by ID, or by a unique prefix of its stored key
// prefix or display name.
func resolveKey(ctx context.Context, keys *service.KeyManager, ref string) (*model.APIKey, error) {
	key, err := keys.Get(ctx, ref)
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, config.ErrNotFound) {
		return nil, err
	}

	all, _, err := keys.List(ctx, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	var matched *model.APIKey
	for i := range all {
		k := &all[i]
		if strings.HasPrefix(k.KeyPrefix, ref) || apikey.DisplayName(k.KeyPrefix, k.KeySuffix) == ref {
			if matched != nil {
				return nil, fmt.Errorf("%q matches more than one API key, use the key ID", ref)
			}
			matched = k
		}
	}
	if matched == nil {
		return nil, fmt.Errorf("no API key found matching %q", ref)
	}
	return matched, nil
}

// readPassword prompts for a password twice without echo.
func readPassword(out io.Writer) (string, error) {
	fmt.Fprint(out, "Password: ")
	pwBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	fmt.Fprintln(out)

	fmt.Fprint(out, "Confirm password: ")
	confirmBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", fmt.Errorf("failed to read confirmation: %w", err)
	}
	fmt.Fprintln(out)

	if string(pwBytes) != string(confirmBytes) {
		return "", fmt.Errorf("passwords do not match")
	}
	return string(pwBytes), nil
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}

// yesNo renders a bool for table output.
func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
