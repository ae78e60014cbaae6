package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	root.SetArgs(resolveArgs(os.Args[0], os.Args[1:]))
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

// resolveArgs maps alternate binary names onto subcommands.
func resolveArgs(argv0 string, args []string) []string {
	alias := map[string]string{
		"labs-mcp":     "mcp",
		"labs-mcp.exe": "mcp",
		"labs-run":     "run",
	}
	if mapped, ok := alias[filepath.Base(argv0)]; ok {
		return append([]string{mapped}, args...)
	}
	return args
}

type globalOptions struct {
	configPath string
	apiURL     string
	logLevel   string
	jsonOut    bool
}

// app is everything a command needs once configuration is resolved.
type app struct {
	cfg        Config
	configPath string
	log        *logrus.Logger
	client     *ExecutorClient
	history    HistoryStore
	console    *Console
	closers    []io.Closer
}

func (o *globalOptions) config() (Config, string, error) {
	path := resolveConfigPath(o.configPath)
	cfg, err := loadConfigOrEmpty(path)
	if err != nil {
		return Config{}, path, err
	}
	cfg = normalizeConfig(cfg)
	if o.apiURL != "" {
		cfg.API.URL = strings.TrimRight(strings.TrimSpace(o.apiURL), "/")
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if err := validateConfig(cfg); err != nil {
		return Config{}, path, err
	}
	return cfg, path, nil
}

// setup loads configuration and builds the console. logToFile is set by the
// TUI, which owns the terminal.
func (o *globalOptions) setup(ctx context.Context, logToFile bool) (*app, error) {
	cfg, path, err := o.config()
	if err != nil {
		return nil, err
	}
	logger, closer, err := newLogger(cfg.Log, logToFile)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	a := &app{cfg: cfg, configPath: path, log: logger, closers: []io.Closer{closer}}

	history, err := openHistory(ctx, cfg.History)
	if err != nil {
		logger.WithError(err).WithField("path", cfg.History.Path).Warn("run history unavailable")
		history = nopHistory{}
	}
	a.history = history
	a.closers = append(a.closers, history)

	a.client = NewExecutorClient(cfg.API, logger)
	a.console = NewConsole(a.client, history, cfg, logger)
	logger.WithFields(logrus.Fields{
		"config":   path,
		"executor": a.client.BaseURL(),
	}).Debug("console ready")
	return a, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i].Close() //nolint:errcheck
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "labs",
		Short:         "Operator console for the Ansible labs executor",
		Long:          "labs selects inventory targets, launches playbooks on the executor and follows their output.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUICommand(cmd, opts)
		},
	}
	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "config path (default: $LABS_CONFIG, ./.labs/labs.json, ~/.labs/labs.json)")
	flags.StringVar(&opts.apiURL, "api-url", "", "executor base URL")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	flags.BoolVar(&opts.jsonOut, "json", false, "output JSON")

	root.AddCommand(
		newTUICmd(opts),
		newRunCmd(opts),
		newStatusCmd(opts),
		newCancelCmd(opts),
		newExecutionsCmd(opts),
		newCatalogCmd(opts),
		newDoctorCmd(opts),
		newHistoryCmd(opts),
		newMCPCmd(opts),
		newConfigCmd(opts),
	)
	return root
}
