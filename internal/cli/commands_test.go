package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docsync/internal/testutil"
)

func newGoldie(t *testing.T) *goldie.Goldie {
	t.Helper()
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestSetThenGet_Text(t *testing.T) {
	db := filepath.Join(t.TempDir(), "test.db")
	clock := testutil.NewDeterministicClock()

	out, err := runCLI(t, clock, "--db", db, "set", "doc-1", "title", "Roadmap")
	require.NoError(t, err)
	newGoldie(t).Assert(t, "set_text", []byte(out))

	_, err = runCLI(t, clock, "--db", db, "set", "doc-1", "status", "done")
	require.NoError(t, err)

	out, err = runCLI(t, clock, "--db", db, "get", "doc-1")
	require.NoError(t, err)
	newGoldie(t).Assert(t, "get_text", []byte(out))
}

func TestGet_KeyJSON(t *testing.T) {
	db := filepath.Join(t.TempDir(), "test.db")
	clock := testutil.NewDeterministicClock()

	_, err := runCLI(t, clock, "--db", db, "set", "doc-1", "title", "Roadmap")
	require.NoError(t, err)

	out, err := runCLI(t, clock, "--db", db, "--format", "json", "get", "doc-1", "title")
	require.NoError(t, err)
	newGoldie(t).Assert(t, "get_key_json", []byte(out))
}

func TestGet_EmptyDocument(t *testing.T) {
	db := filepath.Join(t.TempDir(), "test.db")

	out, err := runCLI(t, nil, "--db", db, "get", "doc-new")
	require.NoError(t, err)
	assert.Equal(t, "(empty)\n", out)
}

func TestGet_MissingKey(t *testing.T) {
	db := filepath.Join(t.TempDir(), "test.db")

	out, err := runCLI(t, nil, "--db", db, "get", "doc-1", "missing")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	newGoldie(t).Assert(t, "get_missing_text", []byte(out))
}

func TestSet_Delete(t *testing.T) {
	db := filepath.Join(t.TempDir(), "test.db")
	clock := testutil.NewDeterministicClock()

	_, err := runCLI(t, clock, "--db", db, "set", "doc-1", "title", "Roadmap")
	require.NoError(t, err)
	out, err := runCLI(t, clock, "--db", db, "set", "doc-1", "title", "--delete")
	require.NoError(t, err)
	assert.Equal(t, "deleted title\n", out)

	out, err = runCLI(t, clock, "--db", db, "get", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "(empty)\n", out)
}

func TestSet_WrongArgs(t *testing.T) {
	db := filepath.Join(t.TempDir(), "test.db")

	_, err := runCLI(t, nil, "--db", db, "set", "doc-1", "title")
	require.Error(t, err)
}

func TestDump_Text(t *testing.T) {
	db := filepath.Join(t.TempDir(), "test.db")
	clock := testutil.NewDeterministicClock()

	for _, kv := range [][2]string{{"a", "1"}, {"b", "2"}} {
		_, err := runCLI(t, clock, "--db", db, "set", "doc-1", kv[0], kv[1])
		require.NoError(t, err)
	}

	out, err := runCLI(t, clock, "--db", db, "dump", "doc-1")
	require.NoError(t, err)
	newGoldie(t).Assert(t, "dump_text", []byte(out))
}

func TestCompact_BelowThreshold(t *testing.T) {
	db := filepath.Join(t.TempDir(), "test.db")
	clock := testutil.NewDeterministicClock()

	_, err := runCLI(t, clock, "--db", db, "set", "doc-1", "a", "1")
	require.NoError(t, err)

	out, err := runCLI(t, clock, "--db", db, "compact", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "skipped: 1 updates\n", out)
}

func TestCompact_ThenDump(t *testing.T) {
	db := filepath.Join(t.TempDir(), "test.db")
	clock := testutil.NewDeterministicClock()

	for _, kv := range [][2]string{{"a", "1"}, {"b", "2"}, {"c", "3"}} {
		_, err := runCLI(t, clock, "--db", db, "set", "doc-1", kv[0], kv[1])
		require.NoError(t, err)
	}

	out, err := runCLI(t, clock, "--db", db, "compact", "doc-1", "--threshold", "1")
	require.NoError(t, err)
	newGoldie(t).Assert(t, "compact_text", []byte(out))

	out, err = runCLI(t, clock, "--db", db, "--format", "json", "dump", "doc-1")
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   dumpResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 0, resp.Data.Updates)
	assert.Equal(t, 1, resp.Data.Snapshots)
	require.NotNil(t, resp.Data.Latest)
	assert.Equal(t, 3, resp.Data.Latest.UpdateCount)
	// three sets stamped t+1..t+3ms, the snapshot t+4ms
	assert.True(t, resp.Data.Latest.CreatedAt.Equal(testutil.Epoch.Add(4_000_000)))

	// The snapshot alone reproduces the document.
	out, err = runCLI(t, clock, "--db", db, "get", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "a=1\nb=2\nc=3\n", out)
}

func TestCompact_NegativeThreshold(t *testing.T) {
	db := filepath.Join(t.TempDir(), "test.db")

	_, err := runCLI(t, nil, "--db", db, "compact", "doc-1", "--threshold", "-1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "docsync.log")
	cfgPath := filepath.Join(dir, "docsync.yaml")
	cfg := "database: " + filepath.Join(dir, "from-config.db") + "\nlog:\n  level: debug\n  file: " + logFile + "\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0644))

	cmd := NewRootCommand()
	cmd.SetOut(&bytesDiscard{})
	cmd.SetArgs([]string{"--config", cfgPath, "set", "doc-1", "a", "1"})
	require.NoError(t, cmd.Execute())

	_, err := os.Stat(filepath.Join(dir, "from-config.db"))
	assert.NoError(t, err, "database path should come from the config file")

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "published update")
}

func TestConfigFile_Invalid(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "docsync.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("compaction_threshold: -5\n"), 0644))

	cmd := NewRootCommand()
	cmd.SetOut(&bytesDiscard{})
	cmd.SetErr(&bytesDiscard{})
	cmd.SetArgs([]string{"--config", cfgPath, "get", "doc-1"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load config")
}

type bytesDiscard struct{}

func (bytesDiscard) Write(p []byte) (int, error) { return len(p), nil }
