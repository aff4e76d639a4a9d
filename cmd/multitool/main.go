package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"multitool/internal/app"
)

var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		if !errors.Is(err, app.ErrQuit) {
			fmt.Fprintln(os.Stderr, "fatal:", err)
			os.Exit(1)
		}
	}
}

type rootFlags struct {
	config string
	quiet  bool
}

func newRootCmd() *cobra.Command {
	var f rootFlags
	root := &cobra.Command{
		Use:           "multitool",
		Short:         "Timers, stopwatches and scriptable tools driven by one frame loop",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&f.config, "config", "c", "", "config file (JSON or YAML); defaults to ./multitool.yaml when present")
	root.PersistentFlags().BoolVarP(&f.quiet, "quiet", "q", false, "suppress progress output")

	root.AddCommand(
		newRunCmd(&f),
		newCountdownCmd(&f),
		newStopwatchCmd(&f),
		newToolsCmd(&f),
		newOpenCmd(&f),
		newHistoryCmd(&f),
		newValidateCmd(&f),
	)
	return root
}

// configPath falls back to well-known file names in the working directory.
func (f *rootFlags) configPath() string {
	if f.config != "" {
		return f.config
	}
	if env := os.Getenv("MULTITOOL_CONFIG"); env != "" {
		return env
	}
	for _, name := range []string{"multitool.yaml", "multitool.yml", "multitool.json"} {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}
