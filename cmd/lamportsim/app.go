package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/daviddao/lamportsim/pkg/logger"
	"github.com/daviddao/lamportsim/pkg/store"
)

const (
	defaultDir = ".lamportsim"
	defaultDB  = defaultDir + "/trace.db"
)

// app holds shared state for all CLI subcommands.
type app struct {
	v      *viper.Viper
	log    *slog.Logger
	closer io.Closer
	stdout io.Writer
	stderr io.Writer

	// openStore is swapped out in tests.
	openStore func(path string) (store.StoreInterface, error)
}

func newApp(stdout, stderr io.Writer) *app {
	v := viper.New()
	v.SetDefault("log.level", "warn")
	v.SetDefault("log.format", "text")
	v.SetDefault("trace.db", defaultDB)
	v.SetEnvPrefix("LAMPORTSIM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &app{
		v:         v,
		log:       logger.Discard(),
		stdout:    stdout,
		stderr:    stderr,
		openStore: openSQLiteStore,
	}
}

// Close releases the log destination.
func (a *app) Close() {
	if a.closer != nil {
		_ = a.closer.Close()
	}
}

func (a *app) rootCommand() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:   "lamportsim",
		Short: "Lamport logical-clock simulator",
		Long: `lamportsim runs processes that share no clock and talk only by messages,
stamps every event with a Lamport counter and checks that the counters
respect causal order.

Examples:
  lamportsim run                           # built-in three-process demo
  lamportsim run --scenario ping.yaml --archive
  lamportsim runs
  lamportsim verify <run-id>
  lamportsim log <run-id> --process P2`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.configure(configPath)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "config file (yaml, json or toml)")
	pf.String("log-level", "", "log level: debug, info, warn, error")
	pf.String("log-format", "", "log format: text, json, color")
	pf.String("log-file", "", "write logs to this file (rotated) instead of stderr")
	pf.String("trace", "", "trace archive database (default "+defaultDB+")")
	_ = a.v.BindPFlag("log.level", pf.Lookup("log-level"))
	_ = a.v.BindPFlag("log.format", pf.Lookup("log-format"))
	_ = a.v.BindPFlag("log.file", pf.Lookup("log-file"))
	_ = a.v.BindPFlag("trace.db", pf.Lookup("trace"))

	root.AddCommand(
		a.runCommand(),
		a.verifyCommand(),
		a.logCommand(),
		a.runsCommand(),
	)
	return root
}

// configure reads the optional config file and builds the logger. Flags
// override environment, which overrides the file.
func (a *app) configure(configPath string) error {
	if configPath != "" {
		a.v.SetConfigFile(configPath)
		if err := a.v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", configPath, err)
		}
	}

	l, closer, err := logger.New(logger.Config{
		Level:      a.v.GetString("log.level"),
		Format:     a.v.GetString("log.format"),
		File:       a.v.GetString("log.file"),
		MaxSizeMB:  a.v.GetInt("log.max_size_mb"),
		MaxBackups: a.v.GetInt("log.max_backups"),
		MaxAgeDays: a.v.GetInt("log.max_age_days"),
		Compress:   a.v.GetBool("log.compress"),
	})
	if err != nil {
		return err
	}
	a.log, a.closer = l, closer
	return nil
}

// tracePath returns the configured archive path.
func (a *app) tracePath() string {
	if p := a.v.GetString("trace.db"); p != "" {
		return p
	}
	return defaultDB
}

func openSQLiteStore(path string) (store.StoreInterface, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("cannot create %s: %w", dir, err)
		}
	}
	s, err := store.New(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open trace archive %q: %w", path, err)
	}
	return s, nil
}

// withStore opens the configured archive, runs fn and closes it.
func (a *app) withStore(fn func(store.StoreInterface) error) error {
	s, err := a.openStore(a.tracePath())
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

// printJSON writes v to stdout as indented JSON.
func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
