package paths

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	require.Equal(t, filepath.Join(home, "agents"), ExpandHome("~/agents"))
	require.Equal(t, home, ExpandHome("~"))
	require.Equal(t, "/abs/path", ExpandHome("/abs/path"))
	require.Equal(t, "relative", ExpandHome("relative"))
}

func TestResolveStateRoot_Explicit(t *testing.T) {
	require.Equal(t, "/data/agents", ResolveStateRoot("/data/agents"))
}

func TestResolveStateRoot_Env(t *testing.T) {
	t.Setenv("ADWD_STATE_ROOT", "/env/agents")
	require.Equal(t, "/env/agents", ResolveStateRoot(""))
}

func TestResolveStateRoot_ExplicitBeatsEnv(t *testing.T) {
	t.Setenv("ADWD_STATE_ROOT", "/env/agents")
	require.Equal(t, "/explicit/agents", ResolveStateRoot("/explicit/agents"))
}

func TestResolveStateRoot_Default(t *testing.T) {
	t.Setenv("ADWD_STATE_ROOT", "")
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, "agents"), ResolveStateRoot(""))
}

func TestResolveDBPath(t *testing.T) {
	t.Setenv("ADWD_DB_PATH", "")
	require.Equal(t, "/data/agents/adwd.db", ResolveDBPath("", "/data/agents"))
	require.Equal(t, "/custom/db.sqlite", ResolveDBPath("/custom/db.sqlite", "/data/agents"))

	t.Setenv("ADWD_DB_PATH", "/env/adwd.db")
	require.Equal(t, "/env/adwd.db", ResolveDBPath("", "/data/agents"))
}

func TestWorkflowPaths(t *testing.T) {
	root := "/data/agents"
	id := "a1b2c3d4"

	require.Equal(t, "/data/agents/a1b2c3d4", WorkflowDir(root, id))
	require.Equal(t, "/data/agents/a1b2c3d4/adw_state.json", StateFilePath(root, id))
	require.Equal(t, "/data/agents/a1b2c3d4/logs", LogsDir(root, id))
	require.Equal(t, "/data/agents/a1b2c3d4/logs/execution.log", ExecutionLogPath(root, id))
	require.Equal(t, "/data/agents/a1b2c3d4/logs/raw_output.jsonl", RawOutputPath(root, id))
	require.Equal(t, "/data/trees/a1b2c3d4", WorktreePath("/data/trees", id))
}
