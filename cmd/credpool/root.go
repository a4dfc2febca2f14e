package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/MrEthical07/credpool"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type app struct {
	configPath string
	dataPath   string
	keyFile    string
	logLevel   string

	out    io.Writer
	getenv func(string) string

	// Set by withPool for the running command.
	cfg credpool.Config
	log *logrus.Logger
}

func newRootCmd(out io.Writer, getenv func(string) string) *cobra.Command {
	a := &app{out: out, getenv: getenv}

	root := &cobra.Command{
		Use:          "credpool",
		Short:        "Manage an encrypted pool of upstream accounts",
		SilenceUsage: true,
	}
	root.SetOut(out)

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "path to a TOML config file")
	flags.StringVar(&a.dataPath, "data", "", "account document path (overrides config)")
	flags.StringVar(&a.keyFile, "key-file", "", "encryption key file (overrides config)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		a.addCmd(),
		a.removeCmd(),
		a.listCmd(),
		a.validateCmd(),
		a.settingsCmd(),
		a.resetLimitsCmd(),
		a.statsCmd(),
		a.usageCmd(),
	)
	return root
}

// load resolves configuration: defaults, then the TOML file, then the
// environment, then flags.
func (a *app) load() (fileConfig, credpool.Config, error) {
	fc, err := loadFileConfig(a.configPath)
	if err != nil {
		return fileConfig{}, credpool.Config{}, err
	}
	fc.applyEnv(a.getenv)
	if a.dataPath != "" {
		fc.Storage.Path = a.dataPath
	}
	if a.keyFile != "" {
		fc.Storage.KeyFile = a.keyFile
	}
	if a.logLevel != "" {
		fc.Log.Level = a.logLevel
	}

	cfg, err := fc.poolConfig(a.getenv)
	if err != nil {
		return fileConfig{}, credpool.Config{}, err
	}
	return fc, cfg, nil
}

func (a *app) newLogger(lc logConfig) (*logrus.Logger, error) {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	level, err := logrus.ParseLevel(lc.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	l.SetLevel(level)
	if strings.EqualFold(lc.Format, "json") {
		l.SetFormatter(&logrus.JSONFormatter{})
	}
	return l, nil
}

// withPool opens the pool for one command and closes it afterwards.
func (a *app) withPool(fn func(ctx context.Context, p *credpool.Pool) error) error {
	fc, cfg, err := a.load()
	if err != nil {
		return err
	}
	log, err := a.newLogger(fc.Log)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = log

	pool, err := credpool.New().
		WithConfig(cfg).
		WithLogger(log).
		WithGetenv(a.getenv).
		Build()
	if err != nil {
		return err
	}
	defer pool.Close()

	return fn(context.Background(), pool)
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
