// Command dialdeck serves the voice-agent configuration dashboard.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/dialdeck/internal/app"
	"github.com/MrWong99/dialdeck/internal/bootstrap"
	"github.com/MrWong99/dialdeck/internal/config"
	"github.com/MrWong99/dialdeck/internal/dashboard"
	"github.com/MrWong99/dialdeck/internal/observe"
	"github.com/MrWong99/dialdeck/pkg/profile"
)

// version is overridden at build time via -ldflags.
var version = "dev"

var configPath string

func main() {
	os.Exit(run())
}

func run() int {
	if err := buildRootCmd().Execute(); err != nil {
		// cobra has already printed the error.
		return 1
	}
	return 0
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "dialdeck",
		Short: "Dialdeck - voice agent configuration dashboard",
		Long: `Dialdeck keeps one configuration profile per channel (browser, Twilio,
Telnyx), cascades provider, model, and voice selections against the
bootstrap catalogs, and saves them to the configuration service.`,
		Version:      version,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML configuration file")

	rootCmd.AddCommand(buildServeCmd(), buildInspectCmd(), buildValidateCmd())
	return rootCmd
}

// loadConfig loads configPath and prints a friendly hint for a missing file.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file %q not found; copy configs/example.yaml to get started", configPath)
		}
		return nil, err
	}
	return cfg, nil
}

// ── serve ─────────────────────────────────────────────────────────────────────

func buildServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the dashboard HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(parent context.Context, cfg *config.Config) error {
	slog.SetDefault(newLogger(cfg.Server.LogLevel))
	slog.Info("dialdeck starting",
		"config", configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"saver", cfg.Saver.Kind,
	)

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	serviceVersion := cfg.Telemetry.ServiceVersion
	if serviceVersion == "" {
		serviceVersion = version
	}
	channels := make([]string, len(profile.Channels))
	for i, ch := range profile.Channels {
		channels[i] = string(ch)
	}
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:      cfg.Telemetry.ServiceName,
		ServiceVersion:   serviceVersion,
		Environment:      cfg.Telemetry.Environment,
		Channels:         channels,
		BootstrapSources: cfg.Bootstrap.Paths(),
		SaverKind:        string(cfg.Saver.Kind),
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}

	application, err := app.New(ctx, cfg, app.WithMetrics(tel.Metrics))
	if err != nil {
		return fmt.Errorf("initialise application: %w", err)
	}

	slog.Info("server ready; press Ctrl+C to shut down")
	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	} else {
		runErr = nil
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		runErr = errors.Join(runErr, err)
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return runErr
}

// ── inspect ───────────────────────────────────────────────────────────────────

// channelReport is the inspect output for one channel.
type channelReport struct {
	Selection profile.Selection      `yaml:"selection"`
	Payload   map[string]any         `yaml:"payload"`
	Options   dashboard.ChainOptions `yaml:"options"`
}

func buildInspectCmd() *cobra.Command {
	var only string
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Load the bootstrap bundle and print the reconciled profiles",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			slog.SetDefault(newLogger(config.LogWarn))

			channels := profile.Channels
			if only != "" {
				ch, err := profile.ParseChannel(only)
				if err != nil {
					return err
				}
				channels = []profile.Channel{ch}
			}

			b, err := bootstrap.Load(cmd.Context(), cfg.Bootstrap.Sources)
			if err != nil {
				return err
			}
			store, err := dashboard.New(b)
			if err != nil {
				return err
			}

			profiles := store.Profiles()
			report := make(map[profile.Channel]channelReport, len(channels))
			for _, ch := range channels {
				p := profiles[ch]
				opts, err := store.Options(ch)
				if err != nil {
					return err
				}
				report[ch] = channelReport{Selection: p.Selection, Payload: p.Flatten(), Options: opts}
			}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(report); err != nil {
				return err
			}
			return enc.Close()
		},
	}
	cmd.Flags().StringVar(&only, "channel", "", "only print this channel (browser, twilio, telnyx)")
	return cmd
}

// ── validate ──────────────────────────────────────────────────────────────────

func buildValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and bootstrap files without serving",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			b, err := bootstrap.Load(cmd.Context(), cfg.Bootstrap.Sources)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d snapshot keys, %d model providers, %d voice providers\n",
				len(b.Snapshot), len(b.Models), len(b.Voices))
			return nil
		},
	}
}

// ── Logger ────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
