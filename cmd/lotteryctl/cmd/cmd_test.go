package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jswmusik/jobbeli/internal/audit"
	"github.com/jswmusik/jobbeli/internal/model"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := RootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func simulate(t *testing.T, args ...string) simulation {
	t.Helper()
	out, err := run(t, append([]string{"simulate", "-f", "testdata/scenario.yaml"}, args...)...)
	require.NoError(t, err)
	var sim simulation
	require.NoError(t, json.Unmarshal([]byte(out), &sim))
	return sim
}

func TestSimulate(t *testing.T) {
	sim := simulate(t)
	assert.Equal(t, int64(42), sim.Seed, "seed comes from the scenario")

	r, err := audit.Verify(sim.Report, sim.Digest)
	require.NoError(t, err)
	report := r.(*audit.ReportV1)

	assert.Equal(t, 3, report.InputSummary.TotalApplicants)
	assert.Equal(t, 2, report.InputSummary.TotalJobs, "draft jobs do not take part")
	assert.Equal(t, 2, report.OutputSummary.MatchedCount)
	assert.Equal(t, 1, report.OutputSummary.ReserveCount)
	require.Len(t, report.Eligibility.IneligibleDetails, 1)
	assert.Equal(t, "y4", report.Eligibility.IneligibleDetails[0].YouthID)

	// y4's draft-job application is never written.
	for _, w := range sim.Writes {
		assert.NotEqual(t, "a8", w.ApplicationID)
	}
	var rejected int
	for _, w := range sim.Writes {
		if w.To == model.AppRejected {
			rejected++
		}
	}
	// a7 is ineligible and the two winners each lose their other application.
	assert.Equal(t, 3, rejected)
	assert.Len(t, sim.Writes, 7)
}

func TestSimulate_SeedFlagOverridesScenario(t *testing.T) {
	a := simulate(t, "--seed", "7")
	b := simulate(t, "--seed", "7")
	assert.Equal(t, int64(7), a.Seed)
	assert.Equal(t, a.Digest, b.Digest)
	assert.Equal(t, string(a.Report), string(b.Report))
}

func TestSimulate_Errors(t *testing.T) {
	_, err := run(t, "simulate")
	require.Error(t, err, "--file is required")

	_, err = run(t, "simulate", "-f", "testdata/missing.yaml")
	require.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("group: {name: no id}\n"), 0o600))
	_, err = run(t, "simulate", "-f", bad)
	require.Error(t, err)

	_, err = run(t, "simulate", "-f", "testdata/scenario.yaml", "--seed", "-1")
	require.Error(t, err)
}

func TestDigest(t *testing.T) {
	sim := simulate(t)
	dir := t.TempDir()

	reportPath := filepath.Join(dir, "report.json")
	require.NoError(t, os.WriteFile(reportPath, sim.Report, 0o600))
	out, err := run(t, "digest", "-f", reportPath)
	require.NoError(t, err)
	assert.Equal(t, sim.Digest, strings.TrimSpace(out))

	runJSON, err := json.Marshal(map[string]any{"id": "r1", "audit_report": sim.Report, "report_digest": sim.Digest})
	require.NoError(t, err)
	runPath := filepath.Join(dir, "run.json")
	require.NoError(t, os.WriteFile(runPath, runJSON, 0o600))
	out, err = run(t, "digest", "-f", runPath)
	require.NoError(t, err)
	assert.Equal(t, sim.Digest+" verified", strings.TrimSpace(out))

	tampered, err := json.Marshal(map[string]any{"audit_report": sim.Report, "report_digest": "sha256:00"})
	require.NoError(t, err)
	tamperedPath := filepath.Join(dir, "tampered.json")
	require.NoError(t, os.WriteFile(tamperedPath, tampered, 0o600))
	_, err = run(t, "digest", "-f", tamperedPath)
	require.ErrorIs(t, err, audit.ErrDigestMismatch)
}
