package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/grove/internal/auth"
	"github.com/roach88/grove/internal/event"
	"github.com/roach88/grove/internal/store"
	"github.com/roach88/grove/internal/testutil"
)

func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

var t0 = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func sampleLog() []event.Event {
	return []event.Event{
		testutil.Planted("p1", t0, "s1", event.Season2Weeks, event.EnvironmentFertile, 2),
		testutil.Watered("w1", t0.Add(time.Hour), "s1"),
		testutil.Harvested("h1", t0.Add(2*time.Hour), "s1", 4),
		testutil.Planted("p2", t0.Add(3*time.Hour), "s2", event.Season1Month, event.EnvironmentFirm, 5),
		testutil.Uprooted("u1", t0.Add(4*time.Hour), "s2", 1.25),
		testutil.SunShone("sun1", t0.Add(5*time.Hour), "branch-0-twig-0"),
		testutil.LeafCreated("l1", t0, "leaf-1", "branch-0-twig-0", "Saga"),
	}
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("GROVE_JWT_SECRET", "test-secret")

	out, err := execute(t, NewTokenCommand(&RootOptions{Format: "json"}), "alice", "--ttl", "1h")
	require.NoError(t, err)

	res := decodeData[TokenResult](t, out)
	assert.Equal(t, "alice", res.UserID)
	assert.WithinDuration(t, time.Now().Add(time.Hour), res.ExpiresAt, time.Minute)

	claims, err := auth.NewManager("test-secret").ParseToken(res.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.UserID)
}

func TestTokenCommand_RequiresSecret(t *testing.T) {
	t.Setenv("GROVE_JWT_SECRET", "")

	_, err := execute(t, NewTokenCommand(&RootOptions{Format: "text"}), "alice")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "GROVE_JWT_SECRET")
}

func TestServeCommand_InvalidConfig(t *testing.T) {
	t.Setenv("GROVE_JWT_SECRET", "")

	_, err := execute(t, NewServeCommand(&RootOptions{Format: "text"}), "--db", filepath.Join(t.TempDir(), "grove.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "GROVE_JWT_SECRET")
}

func TestServeCommand_StopsOnCancel(t *testing.T) {
	t.Setenv("GROVE_JWT_SECRET", "test-secret")
	dbPath := filepath.Join(t.TempDir(), "grove.db")

	ctx, cancel := context.WithCancel(context.Background())
	cmd := NewServeCommand(&RootOptions{Format: "text"})
	cmd.SetContext(ctx)

	done := make(chan error, 1)
	out := &bytes.Buffer{}
	go func() {
		cmd.SetOut(out)
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs([]string{"--addr", "127.0.0.1:0", "--db", dbPath})
		done <- cmd.Execute()
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop after cancel")
	}
	assert.FileExists(t, dbPath)
}

func TestReplayCommand_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.json")
	data, err := json.Marshal(sampleLog())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))

	out, err := execute(t, NewReplayCommand(&RootOptions{Format: "json"}), "--file", path, "--shuffles", "10")
	require.NoError(t, err)

	res := decodeData[ReplayResult](t, out)
	assert.True(t, res.Deterministic)
	assert.Equal(t, 7, res.Events)
	assert.Equal(t, 2, res.Sprouts)
	assert.Equal(t, 12, res.Orders)
	assert.Equal(t, event.MustLogHash(sampleLog()), res.LogHash)
}

func TestReplayCommand_Database(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "grove.db")
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	_, err = st.Append(context.Background(), "alice", sampleLog())
	require.NoError(t, err)
	require.NoError(t, st.Close())

	out, err := execute(t, NewReplayCommand(&RootOptions{Format: "text"}), "--db", dbPath, "--owner", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "Events: 7 (0 skipped)")
	assert.Contains(t, out, "✓ 22 arrival orders derived the same state")

	out, err = execute(t, NewReplayCommand(&RootOptions{Format: "json"}), "--db", dbPath, "--owner", "bob")
	require.NoError(t, err)
	assert.Zero(t, decodeData[ReplayResult](t, out).Events)
}

func TestReplayCommand_FlagErrors(t *testing.T) {
	_, err := execute(t, NewReplayCommand(&RootOptions{Format: "text"}))
	require.Error(t, err)

	_, err = execute(t, NewReplayCommand(&RootOptions{Format: "text"}), "--db", "x.db")
	require.Error(t, err)

	_, err = execute(t, NewReplayCommand(&RootOptions{Format: "text"}), "--db", "/nonexistent/grove.db", "--owner", "alice")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "database not found")
}

func TestReplay_DuplicatesAndMalformed(t *testing.T) {
	events := append(sampleLog(), sampleLog()[0], event.New(event.KindSproutWatered, "bad", t0, nil))

	res, err := Replay(events, 5)
	require.NoError(t, err)
	assert.True(t, res.Deterministic)
	assert.Equal(t, 1, res.Skipped)
	assert.Zero(t, res.Conflicts, "an identical redelivery is not a conflict")
}

func TestReplay_ConflictingCopies(t *testing.T) {
	log := sampleLog()
	rewritten := log[0]
	rewritten.Payload = rewritten.Payload.Clone()
	rewritten.Payload[event.FieldTitle] = event.String("Something else")
	confirmed := log[1].WithServerTimestamp(t0.Add(time.Hour))

	res, err := Replay(append(log, rewritten, confirmed), 3)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Conflicts, "a server timestamp alone does not change content")

	res.Source = "export.json"
	assert.Contains(t, res.String(), "Conflicting copies: 1 client ids")
}

const vectorsDir = "../harness/testdata/vectors"
const goldenDir = "../harness/testdata/golden"

func TestVectorsCommand_SharedVectors(t *testing.T) {
	out, err := execute(t, NewVectorsCommand(&RootOptions{Format: "json"}), vectorsDir, "--golden", goldenDir)
	require.NoError(t, err, out)

	res := decodeData[VectorsResult](t, out)
	assert.Zero(t, res.Failed)
	assert.Equal(t, res.Total, res.Passed)
	assert.GreaterOrEqual(t, res.Total, 9)
}

func TestVectorsCommand_Filter(t *testing.T) {
	out, err := execute(t, NewVectorsCommand(&RootOptions{Format: "text"}), vectorsDir, "--filter", "uproot*")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ uproot_refund")
	assert.Contains(t, out, "Summary: 1 passed, 0 failed, 1 total")
}

func TestVectorsCommand_UpdateThenCompare(t *testing.T) {
	golden := filepath.Join(t.TempDir(), "golden")

	_, err := execute(t, NewVectorsCommand(&RootOptions{Format: "text"}), vectorsDir, "--golden", golden, "--update")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(golden, "empty_log.golden"))

	_, err = execute(t, NewVectorsCommand(&RootOptions{Format: "text"}), vectorsDir, "--golden", golden)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(golden, "empty_log.golden"), []byte("{}"), 0644))
	out, err := execute(t, NewVectorsCommand(&RootOptions{Format: "json"}), vectorsDir, "--golden", golden)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, CodeVectorFailed, decodeError(t, out).Code)
}

func TestVectorsCommand_FailingAssertion(t *testing.T) {
	dir := t.TempDir()
	content := `
name: wrong
description: "Expects the wrong capacity"
events: []
assertions:
  - type: soil
    capacity: 11
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wrong.yaml"), []byte(content), 0644))

	out, err := execute(t, NewVectorsCommand(&RootOptions{Format: "text"}), dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ wrong")
	assert.Contains(t, out, "capacity 11.000000")
}

func TestVectorsCommand_Errors(t *testing.T) {
	_, err := execute(t, NewVectorsCommand(&RootOptions{Format: "text"}), "/nonexistent/vectors")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, NewVectorsCommand(&RootOptions{Format: "text"}), t.TempDir(), "--update")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--update requires --golden")
}
