package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const directScenario = `name: direct_chat
users:
  - { id: alice, name: Alice }
  - { id: bob, name: Bob }
steps:
  - action: start_direct
    actor: alice
    as: dm
    args: { with: bob }
  - action: send
    actor: alice
    conversation: $dm
    args: { text: "hi bob" }
assertions:
  - type: last_message
    conversation: $dm
    expect: { text: "hi bob", sender: alice }
  - type: message_count
    conversation: $dm
    count: 1
`

const brokenScenario = `name: wrong_count
users:
  - { id: alice }
  - { id: bob }
steps:
  - action: start_direct
    actor: alice
    as: dm
    args: { with: bob }
assertions:
  - type: message_count
    conversation: $dm
    count: 5
`

func writeScenario(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func runScenarioCommand(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: format}
	cmd := NewScenarioCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestScenarioCommandMissingArgs(t *testing.T) {
	_, err := runScenarioCommand(t, "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestScenarioCommandNonExistentDir(t *testing.T) {
	_, err := runScenarioCommand(t, "text", "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenarios directory not found")
}

func TestScenarioCommandEmptyDir(t *testing.T) {
	out, err := runScenarioCommand(t, "text", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found")

	out, err = runScenarioCommand(t, "json", t.TempDir())
	require.NoError(t, err)
	var response CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &response))
	assert.Equal(t, "ok", response.Status)
}

func TestScenarioCommandPasses(t *testing.T) {
	out, err := runScenarioCommand(t, "text", "../harness/testdata/scenarios")
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ restricted_group")
	assert.Contains(t, out, "✓ All scenarios passed")
}

func TestScenarioCommandFailure(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "direct.yaml", directScenario)
	writeScenario(t, dir, "broken.yaml", brokenScenario)

	out, err := runScenarioCommand(t, "text", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✓ direct_chat")
	assert.Contains(t, out, "✗ wrong_count")
	assert.Contains(t, out, "expected 5 messages, got 0 messages")
	assert.Contains(t, out, "1 passed, 1 failed, 2 total")
}

func TestScenarioCommandJSON(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "broken.yaml", brokenScenario)

	out, err := runScenarioCommand(t, "json", dir)
	require.Error(t, err)

	var response struct {
		Status string      `json:"status"`
		Data   SuiteReport `json:"data"`
		Error  *CLIError   `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &response))
	assert.Equal(t, "error", response.Status)
	require.NotNil(t, response.Error)
	assert.Equal(t, "E_SCENARIO_FAILED", response.Error.Code)
	require.Len(t, response.Data.Scenarios, 1)
	assert.False(t, response.Data.Scenarios[0].Pass)
}

func TestScenarioCommandFilter(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "direct.yaml", directScenario)
	writeScenario(t, dir, "broken.yaml", brokenScenario)

	out, err := runScenarioCommand(t, "text", dir, "--filter", "dir*")
	require.NoError(t, err, out)
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")

	_, err = runScenarioCommand(t, "text", dir, "--filter", "[")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestScenarioCommandGolden(t *testing.T) {
	dir := t.TempDir()
	file := writeScenario(t, dir, "direct.yaml", directScenario)

	out, err := runScenarioCommand(t, "text", dir, "--update")
	require.NoError(t, err, out)

	golden, err := os.ReadFile(goldenFilePath(file))
	require.NoError(t, err)
	assert.Contains(t, string(golden), `"scenario_name": "direct_chat"`)
	assert.Contains(t, string(golden), `"conversation": "alice_bob"`)

	out, err = runScenarioCommand(t, "text", dir)
	require.NoError(t, err, out)

	require.NoError(t, os.WriteFile(goldenFilePath(file), []byte("{}\n"), 0644))
	out, err = runScenarioCommand(t, "text", dir)
	require.Error(t, err)
	assert.Contains(t, out, "trace does not match golden file")
}

func TestScenarioCommandLoadError(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "bad.yaml", "name: bad\nsteps:\n  - action: teleport\n    actor: alice\n")

	out, err := runScenarioCommand(t, "text", dir)
	require.Error(t, err)
	assert.Contains(t, out, "✗ bad.yaml")
	assert.Contains(t, out, "failed to load scenario")
}

func TestGoldenFilePath(t *testing.T) {
	assert.Equal(t, filepath.Join("scenarios", "golden", "direct.golden"), goldenFilePath(filepath.Join("scenarios", "direct.yaml")))
}
