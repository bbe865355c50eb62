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

	"github.com/mir00r/proxy-balancer/internal/config"
	"github.com/mir00r/proxy-balancer/pkg/logger"
)

const version = "1.0.0"

// options are the command line inputs layered on top of file and environment
type options struct {
	configPath string
	port       int
	adminCmd   string
	backends   []string

	// positional addresses dropped because the list already had them
	skipped []string
}

func parseFlags(args []string, output io.Writer) (*options, error) {
	opts := &options{}

	fs := flag.NewFlagSet("proxy-balancer", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&opts.configPath, "config", "", "path to a YAML config file (default: $CONFIG_FILE or ./config.yaml)")
	fs.IntVar(&opts.port, "port", 0, "proxy listen port, overrides config and environment")
	fs.StringVar(&opts.adminCmd, "admin", "", "run a one-off admin command: health-check, validate-config, stats")
	fs.Usage = func() {
		fmt.Fprintf(output, "Usage: proxy-balancer [flags] [backend-address ...]\n\n")
		fmt.Fprintf(output, "Backend addresses are appended to the configured list; an address\n")
		fmt.Fprintf(output, "already in the list is skipped with a warning.\n\nFlags:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	opts.backends = fs.Args()

	return opts, nil
}

// loadConfig applies defaults, file, environment and then the command line
func loadConfig(opts *options) (*config.Config, error) {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}

	if opts.port > 0 {
		cfg.Server.Port = opts.port
	}
	opts.skipped = cfg.AppendBackends(opts.backends...)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	if opts.adminCmd != "" {
		if err := runAdminProcess(opts, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Command failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.ToLoggerConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.WithFields(map[string]interface{}{
		"version":  version,
		"port":     cfg.Server.Port,
		"backends": len(cfg.Backends),
		"process":  getProcessInfo(),
	}).Info("Starting proxy balancer")

	for _, address := range opts.skipped {
		log.WithField("backend", address).Warn("Backend given on the command line is already configured, skipping")
	}

	application, err := newApp(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.start(ctx); err != nil {
		log.WithError(err).Fatal("Failed to start")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigChan:
		log.WithField("signal", sig.String()).Info("Shutdown signal received")
	case err := <-application.server.Errors():
		log.WithError(err).Error("Server stopped unexpectedly")
		exitCode = 1
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := application.shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Error during shutdown")
		exitCode = 1
	}

	log.Info("Proxy balancer stopped")
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}
