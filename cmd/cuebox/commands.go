package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nerrad567/cuebox/internal/api"
	"github.com/nerrad567/cuebox/internal/automation"
	"github.com/nerrad567/cuebox/internal/engine"
	"github.com/nerrad567/cuebox/internal/infrastructure/config"
	"github.com/nerrad567/cuebox/internal/library"
)

// sourceCLI is the run source recorded for automations started by "run".
const sourceCLI = "cli"

// ─── validate ───────────────────────────────────────────────────────────────

// newValidateCommand creates the validate command.
func newValidateCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check every profile and automation file",
		Long: `Parse every profile and automation in the library and check it
against the configured plugins: action data, trigger configs and
references to named automations. Nothing is started or connected.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runValidate(rootOpts.ConfigPath, cmd.OutOrStdout())
		},
	}
}

func runValidate(configFlag string, out io.Writer) error {
	cfg, log, err := loadConfig(configFlag)
	if err != nil {
		return err
	}

	e := newEngine(cfg, log, nil, nil)
	if err := registerPlugins(e, cfg, nil); err != nil {
		return err
	}

	loader := library.NewLoader(cfg.Library.ProfilesDir, cfg.Library.AutomationsDir)
	lib, loadErr := loader.LoadAll()
	problems := errors.Join(loadErr, e.Validate(lib))

	fmt.Fprintf(out, "%d profiles, %d automations\n", len(lib.Profiles), len(lib.Automations))
	if problems != nil {
		for _, line := range strings.Split(problems.Error(), "\n") {
			fmt.Fprintf(out, "  ✗ %s\n", line)
		}
		return fmt.Errorf("library is invalid")
	}
	fmt.Fprintln(out, "library is valid")
	return nil
}

// ─── run ────────────────────────────────────────────────────────────────────

// runOptions holds flags for the run command.
type runOptions struct {
	Set []string
}

// newRunCommand creates the run command.
func newRunCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run <automation>",
		Short: "Run one automation and wait for it to finish",
		Long: `Start the engine with the configured plugins and library, run one
named automation and exit once it has finished. Profiles load as usual
but core.started is not raised.

Values for templates are passed with --set key=value; values are parsed
as YAML scalars, so numbers and booleans keep their types.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseValues(opts.Set)
			if err != nil {
				return err
			}
			return runAutomation(cmd, rootOpts.ConfigPath, args[0], values)
		},
	}

	cmd.Flags().StringArrayVar(&opts.Set, "set", nil, "template value key=value (repeatable)")

	return cmd
}

func runAutomation(cmd *cobra.Command, configFlag, name string, values map[string]any) error {
	cfg, log, err := loadConfig(configFlag)
	if err != nil {
		return err
	}

	a, err := openApp(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	// Collect finished runs; the one we start may finish before its ID is known.
	var mu sync.Mutex
	finished := make(map[string]automation.Run)
	a.engine.Observe(engine.ObserverFunc(func(channel string, payload any) {
		if run, ok := payload.(automation.Run); ok && channel == engine.ChannelAutomationFinished {
			mu.Lock()
			finished[run.ID] = run
			mu.Unlock()
		}
	}))

	a.loadLibrary()

	runID, err := a.engine.StartAutomation(name, values, sourceCLI)
	if err != nil {
		return fmt.Errorf("starting %s: %w", name, err)
	}
	a.engine.Queue().Wait()

	mu.Lock()
	run, ok := finished[runID]
	mu.Unlock()
	if !ok {
		return fmt.Errorf("run %s of %s did not finish", runID, name)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %s (%d/%d actions, %d failed, %d skipped)\n",
		run.ID, name, run.Status,
		run.ActionsCompleted, run.ActionsTotal, run.ActionsFailed, run.ActionsSkipped)

	if run.Status == automation.StatusFailed {
		if run.Error != "" {
			return fmt.Errorf("automation %s failed: %s", name, run.Error)
		}
		return fmt.Errorf("automation %s failed", name)
	}
	return nil
}

// parseValues parses key=value pairs. Values are YAML scalars.
func parseValues(pairs []string) (map[string]any, error) {
	values := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --set %q: want key=value", pair)
		}
		if raw == "" {
			values[key] = ""
			continue
		}
		var v any
		if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("invalid --set %q: %w", pair, err)
		}
		values[key] = v
	}
	return values, nil
}

// ─── token ──────────────────────────────────────────────────────────────────

// tokenOptions holds flags for the token command.
type tokenOptions struct {
	TTL time.Duration
}

// newTokenCommand creates the token command.
func newTokenCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &tokenOptions{}

	cmd := &cobra.Command{
		Use:   "token <subject>",
		Short: "Print an API bearer token",
		Long: `Sign an HS256 token for subject with security.jwt.secret. The
lifetime defaults to security.jwt.access_token_ttl minutes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// No logger: stdout carries only the token.
			cfg, err := config.Load(getConfigPath(rootOpts.ConfigPath))
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			ttl := opts.TTL
			if ttl <= 0 {
				ttl = time.Duration(cfg.Security.JWT.AccessTokenTTL) * time.Minute
			}
			token, err := api.IssueToken(cfg.Security.JWT.Secret, args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().DurationVar(&opts.TTL, "ttl", 0, "token lifetime (default from config)")

	return cmd
}
