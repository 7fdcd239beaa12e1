package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/wagiedev/rbridge-go/internal/config"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "rbridge",
		Short:         "Bridge interpreter processes over a loopback TCP port",
		Version:       fmt.Sprintf("%s (%s)", version, gitCommit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to YAML config file")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&flags.logFormat, "log-format", "json", "Log format: json or text")

	root.AddCommand(newServeCmd(flags))
	root.AddCommand(newCheckCmd(flags))

	return root
}

// loadConfig reads the config file named by --config. Without one, only
// environment overrides apply.
func (f *globalFlags) loadConfig() (*config.File, error) {
	if f.configPath == "" {
		return config.Parse(nil, os.LookupEnv)
	}

	return config.LoadFile(f.configPath)
}

// logger builds the process logger. The --log-level flag wins over the
// config file.
func (f *globalFlags) logger(w io.Writer, file *config.File) (*slog.Logger, error) {
	level := file.LogLevel
	if f.logLevel != "" {
		level = f.logLevel
	}

	return newLogger(w, level, f.logFormat)
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	lvl, err := config.ParseLogLevel(level)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: lvl}

	switch format {
	case "", "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}
