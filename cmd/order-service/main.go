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

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/flashorder/internal/app"
	"github.com/vladislavdragonenkov/flashorder/internal/version"
)

// envConfigPath задаёт путь к YAML-конфигу, если не передан флаг -config.
const envConfigPath = "FLASHORDER_CONFIG"

type envLookup func(string) (string, bool)

type options struct {
	configPath  string
	showVersion bool
}

func parseFlags(args []string, output io.Writer) (options, error) {
	fs := flag.NewFlagSet("order-service", flag.ContinueOnError)
	fs.SetOutput(output)

	var opts options
	fs.StringVar(&opts.configPath, "config", "", "path to YAML config (env: "+envConfigPath+")")
	fs.BoolVar(&opts.showVersion, "version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return opts, nil
}

// readConfig собирает конфигурацию: defaults, затем YAML-файл, затем переменные окружения.
func readConfig(path string, lookup envLookup) (app.Config, []string, error) {
	if path == "" {
		if v, ok := lookup(envConfigPath); ok {
			path = v
		}
	}

	cfg, err := app.LoadConfig(path)
	if err != nil {
		return app.Config{}, nil, err
	}
	cfg, warnings := app.ApplyEnv(cfg, lookup)
	return cfg, warnings, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.WithError(err).Fatal("invalid arguments")
	}
	if opts.showVersion {
		fmt.Println(version.Current())
		return
	}

	for _, warning := range app.SetupLogger(log.StandardLogger(), os.LookupEnv) {
		log.Warn(warning)
	}

	cfg, warnings, err := readConfig(opts.configPath, os.LookupEnv)
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}
	for _, warning := range warnings {
		log.Warn(warning)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"version":      version.GetVersion(),
		"http_addr":    cfg.HTTPAddr,
		"grpc_addr":    cfg.GRPCAddr,
		"metrics_addr": cfg.MetricsAddr,
	}).Info("starting flashorder")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("application stopped with error")
	}

	log.Info("flashorder stopped")
}
