// Package main provides the storechat binary entry point.
// One binary runs any of the three services: the chat front door, the
// product capability or the order capability.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/c360studio/storechat/config"
	"github.com/c360studio/storechat/httpapi"

	// Register LLM providers via init()
	_ "github.com/c360studio/storechat/llm/providers"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "storechat"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// options are the persistent flags shared by every subcommand.
type options struct {
	configPath string
	logLevel   string
	listenAddr string
}

func rootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Conversational storefront assistant",
		Long: `Storechat answers customer chat about products and orders.

Services:
- chat      classifies each conversation and routes it to a capability
- products  answers product questions from the catalog
- orders    answers order questions from the order data API

Configuration is layered: defaults, ~/.config/storechat/config.yaml,
storechat.yaml in the working tree, --config, then environment variables.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&opts.listenAddr, "listen", "", "Listen address (overrides server.listen_addr)")

	cmd.AddCommand(
		serveCmd(opts, "chat", "Run the chat front door", (*App).ChatHandler),
		serveCmd(opts, "products", "Run the product capability", (*App).ProductsHandler),
		serveCmd(opts, "orders", "Run the order capability", (*App).OrdersHandler),
		configCmd(opts),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
			},
		},
	)

	return cmd
}

func serveCmd(opts *options, name, short string, build func(*App) (http.Handler, error)) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			app, err := NewApp(cfg, logger)
			if err != nil {
				return err
			}
			defer app.Close()

			handler, err := build(app)
			if err != nil {
				return fmt.Errorf("build %s service: %w", name, err)
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			logger.Info("Starting storechat",
				"service", name,
				"version", Version,
				"addr", cfg.Server.ListenAddr)

			return httpapi.Serve(ctx, cfg.Server.ListenAddr, handler, logger)
		},
	}
}

func configCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup(opts, io.Discard)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			return enc.Close()
		},
	}
}

// setup loads configuration and installs the default logger. Flags win over
// every configuration layer.
func setup(opts *options, logOut io.Writer) (*config.Config, *slog.Logger, error) {
	bootstrap := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: slog.LevelWarn}))

	cfg, err := config.NewLoader(bootstrap).Load(opts.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if opts.listenAddr != "" {
		cfg.Server.ListenAddr = opts.listenAddr
	}

	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	return cfg, logger, nil
}
