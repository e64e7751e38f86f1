package main

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"llamacore/internal/config"
)

// app carries state shared by every subcommand once the root pre-run has
// merged the config file with the persistent flags.
type app struct {
	configPath string
	logLevel   string
	logFile    string

	cfg    config.Config
	log    zerolog.Logger
	closer io.Closer
}

func newRootCmd() *cobra.Command {
	a := &app{log: zerolog.Nop()}
	root := &cobra.Command{
		Use:           "llamacore",
		Short:         "llama.cpp-style inference server and tools",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", os.Getenv("LLAMACORE_CONFIG"), "Config file (.yaml, .toml or .json)")
	pf.StringVar(&a.logLevel, "log-level", envOr("LLAMACORE_LOG_LEVEL", "info"), "Log level: trace|debug|info|warn|error|off")
	pf.StringVar(&a.logFile, "log-file", "", "Write JSON logs to a rotating file instead of stderr")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if a.configPath != "" {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
		}
		flags := cmd.Flags()
		a.cfg.LogLevel = pick(flags, "log-level", a.logLevel, a.cfg.LogLevel)
		a.cfg.LogFile = pick(flags, "log-file", a.logFile, a.cfg.LogFile)
		l, closer, err := config.NewLogger(a.cfg.LogLevel, a.cfg.LogFile)
		if err != nil {
			return err
		}
		a.log, a.closer = l, closer
		log.Logger = l
		return nil
	}
	root.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		if a.closer != nil {
			return a.closer.Close()
		}
		return nil
	}

	root.AddCommand(
		newServeCmd(a),
		newRunCmd(a),
		newGenerateCmd(a),
		newTranscribeCmd(a),
		newVersionCmd(),
	)
	return root
}

// pick returns the flag value when the flag was set explicitly or the file
// left the field empty; otherwise the file value wins.
func pick[T comparable](flags *pflag.FlagSet, name string, flagVal, fileVal T) T {
	var zero T
	if flags.Changed(name) || fileVal == zero {
		return flagVal
	}
	return fileVal
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// splitCSV splits a comma separated list, dropping empty entries.
func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
