package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/p-blackswan/crewflow/internal/config"
	"github.com/p-blackswan/crewflow/internal/orchestrator"
	"github.com/p-blackswan/crewflow/internal/project"
)

func testEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("CREWFLOW_DB_PATH", filepath.Join(dir, "crewflow.db"))
	t.Setenv("CREWFLOW_MEMORY_BACKEND", "memory")
	t.Setenv("CREWFLOW_LOG_FORMAT", "json")
	t.Setenv("CREWFLOW_LOG_LEVEL", "error")
	t.Setenv("CREWFLOW_PIPELINE_FILE", "")
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRunCmd_HelloWorldJSON(t *testing.T) {
	testEnv(t)

	out, err := execute(t, "run", "build", "a", "hello", "world", "CLI")
	require.NoError(t, err)

	var res orchestrator.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, project.PhaseDone, res.FinalPhase)
	assert.Equal(t, "build a hello world CLI", res.State.Request)
	assert.Len(t, res.History, 4)
}

func TestRunCmd_YAMLOutput(t *testing.T) {
	testEnv(t)

	out, err := execute(t, "run", "--output", "yaml", "build a hello world CLI")
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "done", doc["final_phase"])
}

func TestRunCmd_FailedProjectReturnsError(t *testing.T) {
	dir := testEnv(t)
	pipelineFile := filepath.Join(dir, "failing.yaml")
	require.NoError(t, os.WriteFile(pipelineFile, []byte(`
name: always-failing
orchestrator:
  max_retries: 0
guardrails:
  layer_modes:
    quality: advisory
crews:
  planning:
    role: planner
    script:
      text: Plan.
      requirements: {title: Requirements, summary: Print a greeting.}
      architecture: {title: Hello, summary: One binary., tech_stack: [go]}
  development:
    role: developer
    script:
      text: Code.
      files:
        - {path: main.go, content: "package main\n\nfunc main() {}\n"}
  testing:
    role: tester
    script:
      text: Tests ran.
      fail_times: 5
      failing_cases: [TestGreeting]
  deployment:
    role: release
    script:
      text: Packaged.
      deployment: {target: binary, manifest: go build .}
`), 0o600))

	out, err := execute(t, "run", "--pipeline", pipelineFile, "build a hello world CLI")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry_budget_exhausted")

	var res orchestrator.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res), "result is printed before the error")
	assert.Equal(t, project.PhaseFailed, res.FinalPhase)
}

func TestRunCmd_Validation(t *testing.T) {
	testEnv(t)

	_, err := execute(t, "run")
	assert.Error(t, err, "request argument is required")

	_, err = execute(t, "run", "--output", "xml", "build it")
	assert.ErrorContains(t, err, "unknown output format")

	t.Setenv("CREWFLOW_MEMORY_BACKEND", "redis")
	_, err = execute(t, "run", "build it")
	assert.ErrorContains(t, err, "memory backend")
}

func TestNewLogger_Level(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&config.Config{LogLevel: "warn", LogFormat: "json"}, &buf)

	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"message":"shown"`)
}
