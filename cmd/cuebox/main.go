// cuebox - profile-driven automation engine
//
// cuebox keeps a reactive graph of plugin state, activates profiles whose
// conditions pass, and runs automations when active profiles map a raised
// trigger. Plugins (variables, clock, MQTT) feed state and triggers in and
// carry actions out. The library of profiles and automations is plain YAML,
// reloaded as files change.
//
// Commands:
//
//	cuebox serve                   run the engine and the HTTP API
//	cuebox validate                check every library file and exit
//	cuebox run <automation>        run one automation, wait, exit
//	cuebox token <subject>         print an API bearer token
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	_ "github.com/nerrad567/cuebox/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// configEnv names the environment variable holding the config path.
const configEnv = "CUEBOX_CONFIG"

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// rootOptions holds global flags for all commands.
type rootOptions struct {
	ConfigPath string
}

// newRootCommand creates the cuebox command tree.
func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "cuebox",
		Short:         "cuebox - profile-driven automation engine",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "",
		"config file (default $"+configEnv+" or "+defaultConfigPath+")")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newValidateCommand(opts))
	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newTokenCommand(opts))

	return cmd
}

// getConfigPath returns the configuration file path.
// The --config flag wins, then CUEBOX_CONFIG, then the default.
func getConfigPath(flag string) string {
	if flag != "" {
		return flag
	}
	if path := os.Getenv(configEnv); path != "" {
		return path
	}
	return defaultConfigPath
}
