package main

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/cuebox/internal/api"
)

const testSecret = "test-secret-for-development-only-0123456789"

// testSite writes a config, a variables file and the given library files
// into a temporary directory and returns the config path.
func testSite(t *testing.T, apiPort int, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()

	for _, sub := range []string{"profiles", "automations"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
			t.Fatalf("writing %s: %v", name, err)
		}
	}

	variables := `
variables:
  count:
    default: 0
  label:
    type: string
    default: ""
`
	if err := os.WriteFile(filepath.Join(dir, "variables.yaml"), []byte(variables), 0o600); err != nil {
		t.Fatalf("writing variables: %v", err)
	}

	if apiPort == 0 {
		apiPort = 8420
	}
	configContent := fmt.Sprintf(`
site:
  id: test-site
library:
  profiles_dir: %[1]s/profiles
  automations_dir: %[1]s/automations
  variables_file: %[1]s/variables.yaml
  watch: false
clock:
  enabled: false
database:
  path: %[1]s/cuebox.db
  wal_mode: true
  busy_timeout: 5
api:
  host: "127.0.0.1"
  port: %[2]d
logging:
  level: error
  format: text
  output: stderr
security:
  jwt:
    secret: %[3]q
`, dir, apiPort, testSecret)

	configPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(configContent), 0o600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

const bumpAutomation = `
name: bump
actions:
  - plugin: variables
    action: inc
    data:
      name: count
      amount: "{{ step ?? 1 }}"
  - plugin: variables
    action: set
    data:
      name: label
      value: "bumped to {{ variables.count }}"
`

// ─── Config Path ────────────────────────────────────────────────────────────

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv(configEnv, "")

	if path := getConfigPath(""); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv(configEnv, expected)

	if path := getConfigPath(""); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

// TestGetConfigPath_FlagWins verifies --config beats the environment.
func TestGetConfigPath_FlagWins(t *testing.T) {
	t.Setenv(configEnv, "/from/env.yaml")

	if path := getConfigPath("/from/flag.yaml"); path != "/from/flag.yaml" {
		t.Errorf("getConfigPath() = %q, want /from/flag.yaml", path)
	}
}

// ─── serve ──────────────────────────────────────────────────────────────────

// TestServe_InvalidConfig verifies serve fails with an invalid config path.
func TestServe_InvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := runServe(ctx, "/nonexistent/path/config.yaml"); err == nil {
		t.Fatal("runServe() should fail with invalid config path")
	}
}

// TestServe_StartsAndStops runs the full application and checks the
// health endpoint before shutting it down.
func TestServe_StartsAndStops(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	configPath := testSite(t, port, map[string]string{"automations/bump.yaml": bumpAutomation})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runServe(ctx, configPath) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/api/v1/health", port)
	deadline := time.Now().Add(5 * time.Second)
	healthy := false
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				healthy = true
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("runServe() error = %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("runServe() did not return after cancel")
	}
	if !healthy {
		t.Error("health endpoint never answered 200")
	}
}

// ─── validate ───────────────────────────────────────────────────────────────

func TestValidate_Valid(t *testing.T) {
	configPath := testSite(t, 0, map[string]string{
		"automations/bump.yaml": bumpAutomation,
		"profiles/busy.yaml": `
name: busy
conditions:
  state: {plugin: variables, key: count}
  operator: greaterThan
  compare: 3
on_activate: bump
`,
	})

	out, err := execute(t, "--config", configPath, "validate")
	if err != nil {
		t.Fatalf("validate error = %v\n%s", err, out)
	}
	if !strings.Contains(out, "1 profiles, 1 automations") || !strings.Contains(out, "library is valid") {
		t.Errorf("output = %q", out)
	}
}

func TestValidate_ReportsProblems(t *testing.T) {
	configPath := testSite(t, 0, map[string]string{
		"automations/bump.yaml": bumpAutomation,
		"automations/bad.yaml": `
name: bad
actions:
  - plugin: variables
    action: set
    data: {value: 1}
`,
		"automations/garbage.yaml": "actions: [",
		"profiles/night.yaml": `
name: night
triggers:
  clock:
    minute:
      - automation: bump
on_activate: missing
`,
	})

	out, err := execute(t, "--config", configPath, "validate")
	if err == nil {
		t.Fatalf("validate should fail\n%s", out)
	}
	for _, want := range []string{"automation bad", "garbage", "profile night", "missing"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

// ─── run ────────────────────────────────────────────────────────────────────

func TestRun_CompletesAutomation(t *testing.T) {
	configPath := testSite(t, 0, map[string]string{"automations/bump.yaml": bumpAutomation})

	out, err := execute(t, "--config", configPath, "run", "bump", "--set", "step=3")
	if err != nil {
		t.Fatalf("run error = %v\n%s", err, out)
	}
	if !strings.Contains(out, "bump: completed (2/2 actions") {
		t.Errorf("output = %q", out)
	}
}

func TestRun_Errors(t *testing.T) {
	configPath := testSite(t, 0, map[string]string{
		"automations/broken.yaml": `
name: broken
actions:
  - plugin: core
    action: delay
    data: "{{ 1 + }}"
`,
	})

	if _, err := execute(t, "--config", configPath, "run", "missing"); err == nil {
		t.Error("running an unknown automation should fail")
	}
	out, err := execute(t, "--config", configPath, "run", "broken")
	if err == nil {
		t.Errorf("a failed run should return an error\n%s", out)
	}
	if !strings.Contains(out, "failed") {
		t.Errorf("output = %q", out)
	}
}

func TestParseValues(t *testing.T) {
	tests := []struct {
		name    string
		pairs   []string
		want    map[string]any
		wantErr bool
	}{
		{"number", []string{"step=3"}, map[string]any{"step": 3}, false},
		{"bool", []string{"on=true"}, map[string]any{"on": true}, false},
		{"string", []string{"scene=movie night"}, map[string]any{"scene": "movie night"}, false},
		{"empty", []string{"scene="}, map[string]any{"scene": ""}, false},
		{"equals in value", []string{"expr=a=b"}, map[string]any{"expr": "a=b"}, false},
		{"missing equals", []string{"step"}, nil, true},
		{"missing key", []string{"=3"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseValues(tt.pairs)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseValues() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("%s = %#v, want %#v", k, got[k], v)
				}
			}
		})
	}
}

// ─── token ──────────────────────────────────────────────────────────────────

func TestToken(t *testing.T) {
	configPath := testSite(t, 0, nil)

	out, err := execute(t, "--config", configPath, "token", "panel", "--ttl", "5m")
	if err != nil {
		t.Fatalf("token error = %v", err)
	}
	subject, err := api.ParseToken(testSecret, strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if subject != "panel" {
		t.Errorf("subject = %q, want panel", subject)
	}
}
