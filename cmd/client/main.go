package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/openmined/syftsync/internal/client"
	"github.com/openmined/syftsync/internal/client/config"
	"github.com/openmined/syftsync/internal/utils"
	"github.com/openmined/syftsync/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "SYFTSYNC"

var home, _ = os.UserHomeDir()

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "syftsync",
		Short:   "SyftSync datasite sync daemon",
		Version: version.Detailed(),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			cmd.SilenceUsage = true
			slog.Info("syftsync", "version", version.Version, "revision", version.Revision, "build", version.BuildDate)
			slog.Info("daemon using config", "path", cfg.Path)

			c, err := client.New(cmd.Context(), cfg, client.WithWatcher(), client.WithControlPlane())
			if err != nil {
				return err
			}
			defer c.Close()

			defer slog.Info("Bye!")
			if err := c.Start(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("daemon start", "error", err)
				return err
			}
			return nil
		},
	}

	cmd.Flags().SortFlags = false
	cmd.PersistentFlags().StringP("email", "e", "", "Email of the datasite owner")
	cmd.PersistentFlags().StringP("datadir", "d", config.DefaultDataDir, "Workspace directory")
	cmd.PersistentFlags().StringP("server", "s", config.DefaultServerURL, "Sync server url")
	cmd.PersistentFlags().StringP("config", "c", config.DefaultConfigPath, "Config file")
	cmd.Flags().StringP("http-addr", "a", config.DefaultControlPlaneAddr, "Address to bind the local http server")
	cmd.Flags().StringP("http-token", "t", "", "Access token for the local http server")

	return cmd
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to load .env: %v\n", err)
	}

	logFile, err := openLogFile(config.DefaultLogFilePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
		os.Exit(1)
	}
	defer logFile.Close()
	slog.SetDefault(newLogger(logFile))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// openLogFile appends so a one-shot command does not wipe the log of a
// running daemon.
func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

func newLogger(logFile *os.File) *slog.Logger {
	stdoutHandler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})
	fileHandler := slog.NewTextHandler(logFile, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	return slog.New(utils.NewMultiLogHandler(stdoutHandler, fileHandler))
}

// loadConfig merges, from lowest to highest priority, flag defaults, the
// config file, SYFTSYNC_* environment variables and explicitly set flags.
// The result is validated.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := viper.New()

	configPath := resolveConfigPath(cmd)
	v.SetConfigFile(configPath)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		_, ok := err.(viper.ConfigFileNotFoundError)
		if !enoent && !ok {
			return nil, fmt.Errorf("config read '%s': %w", configPath, err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindFlag(v, "email", cmd.Flag("email"))
	bindFlag(v, "data_dir", cmd.Flag("datadir"))
	bindFlag(v, "server_url", cmd.Flag("server"))
	bindFlag(v, "control_plane.addr", cmd.Flag("http-addr"))
	bindFlag(v, "control_plane.token", cmd.Flag("http-token"))

	cfg := &config.Config{
		Path:           configPath,
		Email:          v.GetString("email"),
		DataDir:        v.GetString("data_dir"),
		ServerURL:      v.GetString("server_url"),
		AccessToken:    v.GetString("access_token"),
		Workers:        v.GetInt("workers"),
		BulkThreshold:  v.GetInt("bulk_threshold"),
		Interval:       v.GetDuration("interval"),
		StorageBackend: v.GetString("storage_backend"),
		ControlPlane: config.ControlPlane{
			Addr:  v.GetString("control_plane.addr"),
			Token: v.GetString("control_plane.token"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// bindFlag skips flags the command does not carry.
func bindFlag(v *viper.Viper, key string, flag *pflag.Flag) {
	if flag == nil {
		return
	}
	_ = v.BindPFlag(key, flag)
}
