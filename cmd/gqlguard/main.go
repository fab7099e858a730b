// Package main is the entry point of gqlguard, the GraphQL admission
// gateway, and of its offline analyze command.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/vyrodovalexey/gqlguard/internal/config"
	"github.com/vyrodovalexey/gqlguard/internal/observability"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

const (
	envConfigPath = "GQLGUARD_CONFIG_PATH"
	envLogLevel   = "GQLGUARD_LOG_LEVEL"
	envLogFormat  = "GQLGUARD_LOG_FORMAT"

	defaultConfigPath = "configs/gqlguard.yaml"

	analyzeCommand = "analyze"
)

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	showVersion bool
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == analyzeCommand {
		os.Exit(runAnalyze(os.Args[2:], os.Stdin, os.Stdout, os.Stderr))
	}

	flags, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(exitUsage)
	}

	if flags.showVersion {
		printVersion(os.Stdout)
		return
	}

	logger := initLogger(flags)
	defer func() { _ = logger.Sync() }()

	cfg := loadAndValidateConfig(flags.configPath, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := initApplication(ctx, cfg, logger, defaultRegistry())
	if err != nil {
		logger.Fatal("failed to initialize gqlguard", observability.Error(err))
	}

	if err := runGateway(ctx, app, flags.configPath, logger); err != nil {
		logger.Fatal("gateway failed", observability.Error(err))
	}
}

// parseFlags parses the server flags. Environment variables provide the
// defaults.
func parseFlags(args []string, output io.Writer) (cliFlags, error) {
	fs := flag.NewFlagSet("gqlguard", flag.ContinueOnError)
	fs.SetOutput(output)

	var flags cliFlags
	fs.StringVar(&flags.configPath, "config", getEnvOrDefault(envConfigPath, defaultConfigPath),
		"Path to configuration file")
	fs.StringVar(&flags.logLevel, "log-level", getEnvOrDefault(envLogLevel, "info"),
		"Log level (debug, info, warn, error)")
	fs.StringVar(&flags.logFormat, "log-format", getEnvOrDefault(envLogFormat, "json"),
		"Log format (json, console)")
	fs.BoolVar(&flags.showVersion, "version", false, "Show version information")
	fs.Usage = func() {
		fmt.Fprintf(output, "Usage:\n  gqlguard [flags]\n  gqlguard %s [flags]\n\nFlags:\n", analyzeCommand)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return cliFlags{}, err
	}
	return flags, nil
}

// printVersion prints version information.
func printVersion(w io.Writer) {
	fmt.Fprintf(w, "gqlguard version %s\n", version)
	fmt.Fprintf(w, "  Build time: %s\n", buildTime)
	fmt.Fprintf(w, "  Git commit: %s\n", gitCommit)
}

// initLogger initializes the process logger.
func initLogger(flags cliFlags) observability.Logger {
	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  flags.logLevel,
		Format: flags.logFormat,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	observability.SetGlobalLogger(logger)
	return logger
}

// loadAndValidateConfig loads the configuration and checks that its schema
// and cost map resolve.
func loadAndValidateConfig(configPath string, logger observability.Logger) *config.GuardConfig {
	logger.Info("starting gqlguard",
		observability.String("version", version),
		observability.String("config", configPath),
	)

	cfg, err := config.LoadAndValidate(configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", observability.Error(err))
	}

	logger.Info("configuration loaded",
		observability.String("name", cfg.Metadata.Name),
		observability.String("listen", cfg.Spec.Listen.Address),
		observability.String("admin", cfg.Spec.Admin.Address),
		observability.Int("routes", len(cfg.Spec.Routes)),
		observability.Int("upstreams", len(cfg.Spec.Upstreams)),
		observability.Bool("schema", cfg.Spec.Schema.IsSet()),
	)
	return cfg
}
