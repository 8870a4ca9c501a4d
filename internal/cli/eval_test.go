package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func evalArgs(extra ...string) []string {
	args := []string{
		"--schema", filepath.Join("testdata", "schema"),
		"--record", filepath.Join("testdata", "records", "borehole.yaml"),
	}
	return append(args, extra...)
}

func TestEval_CascadeTextGolden(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewEvalCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs(evalArgs(
		"--set", "depth_base=12.4",
		"--set", "method=CPT",
	))

	err := cmd.Execute()
	require.NoError(t, err)

	g := goldie.New(t, goldie.WithFixtureDir(filepath.Join("testdata", "golden")))
	g.Assert(t, "eval_cascade", buf.Bytes())
}

func TestEval_JSONOutput(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "json"}
	cmd := NewEvalCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs(evalArgs("--set", "depth_base=12.4"))

	err := cmd.Execute()
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   EvalResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.NotEmpty(t, resp.Data.InstanceID)
	require.Len(t, resp.Data.Changes, 2)
	assert.Equal(t, "depth_base", resp.Data.Changes[0].FieldID)
	assert.Equal(t, "12.4", resp.Data.Changes[0].After)
	assert.Equal(t, "thickness", resp.Data.Changes[1].FieldID)
	assert.Equal(t, "10", resp.Data.Changes[1].After)
	assert.Empty(t, resp.Data.Failed)
}

func TestEval_ReportsFieldFailures(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewEvalCommand(rootOpts)
	cmd.SetOut(buf)
	// Clearing depth_top makes the thickness formula fail closed.
	cmd.SetArgs(evalArgs("--set", "depth_top=null"))

	err := cmd.Execute()
	require.NoError(t, err, "per-field failures are reported, not fatal")
	assert.Contains(t, buf.String(), "failed thickness [EVALUATION_FAILED]")
}

func TestEval_RequiresSet(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewEvalCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs(evalArgs())

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, buf.String(), "at least one --set")
}

func TestEval_RejectsBadSet(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewEvalCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs(evalArgs("--set", "depth_base=deep"))

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, buf.String(), "E008")
}

func TestEval_RejectsFormulaFieldEdit(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewEvalCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs(evalArgs("--set", "thickness=5"))

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, buf.String(), "E010")
}

func TestEval_PersistsAcrossInvocations(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "lithos.db")

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewEvalCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs(evalArgs(
		"--db", dbPath,
		"--instance", "bh-01",
		"--set", "depth_base=12.4",
	))
	require.NoError(t, cmd.Execute())

	// A second invocation loads the stored instance; no record this time.
	buf.Reset()
	cmd = NewResolveCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{
		"--schema", filepath.Join("testdata", "schema"),
		"--db", dbPath,
		"--instance", "bh-01",
	})
	require.NoError(t, cmd.Execute())

	output := buf.String()
	assert.Contains(t, output, "depth_base = 12.4 (raw)")
	assert.Contains(t, output, "thickness = 10 (formula)")
	assert.Contains(t, output, "method = SPT (raw)")
}

func TestEval_DBRequiresInstance(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewEvalCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs(evalArgs(
		"--db", filepath.Join(t.TempDir(), "lithos.db"),
		"--set", "depth_base=12.4",
	))

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, buf.String(), "--db requires --instance")
}
