package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/user/nearby-blue/logger"
)

// The initiator never scans without a start_scan action, so its link state is
// known for the whole run.
const idleScenario = `name: idle
simulation: perfect
tick_ms: 50
report_ms: 50
duration_ms: 200
responder:
  position: {x: 0, y: 0, z: 0}
initiator:
  position: {x: 1, y: 0, z: 0}
assertions:
  - type: link_state
    device: initiator
    data: {state: %s}
`

func writeScenario(t *testing.T, state string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "idle.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(idleScenario, state)), 0644))
	return path
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	prev := logger.GetLevel()
	t.Cleanup(func() { logger.SetLevel(prev) })

	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRunWithoutScenarioPrintsUsage(t *testing.T) {
	code, out, _ := runCLI(t)
	require.Equal(t, 1, code)
	require.Contains(t, out, "Usage: ranging-sim")
}

func TestRunRejectsUnknownFlag(t *testing.T) {
	code, _, errOut := runCLI(t, "-bogus")
	require.Equal(t, 2, code)
	require.Contains(t, errOut, "bogus")
}

func TestRunReportsLoadFailure(t *testing.T) {
	code, _, errOut := runCLI(t, "-scenario", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Equal(t, 1, code)
	require.Contains(t, errOut, "Failed to load scenario")
}

func TestRunPassingScenarioWritesReport(t *testing.T) {
	report := filepath.Join(t.TempDir(), "run.md")
	code, out, _ := runCLI(t, "-scenario", writeScenario(t, "idle"), "-log-level", "ERROR", "-report", report)

	require.Equal(t, 0, code)
	require.Contains(t, out, "=== Running Scenario: idle ===")
	require.Contains(t, out, "All assertions passed")
	require.Contains(t, out, "initiator power=")

	data, err := os.ReadFile(report)
	require.NoError(t, err)
	require.Contains(t, string(data), "idle")
}

func TestRunFailingAssertionExitsNonZero(t *testing.T) {
	code, out, _ := runCLI(t, "-scenario", writeScenario(t, "ranging"), "-log-level", "ERROR", "-duration", "100ms")

	require.Equal(t, 1, code)
	require.Contains(t, out, "link is idle, want ranging")
	require.Contains(t, out, "Some assertions failed")
}
