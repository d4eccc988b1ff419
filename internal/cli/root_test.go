package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tandem/internal/entity"
)

// execute runs the root command with env as its whole environment.
func execute(t *testing.T, env map[string]string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand(&RootOptions{Getenv: func(key string) string { return env[key] }})
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)

	err := cmd.Execute()
	t.Logf("stderr:\n%s", errOut.String())
	return out.String(), err
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func decodeView(t *testing.T, out string) ReplicaView {
	t.Helper()
	var resp struct {
		Status string      `json:"status"`
		Data   ReplicaView `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status)
	return resp.Data
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "tandem", cmd.Use)
	assert.Contains(t, cmd.Long, "replica")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"kinds", "config", "watch", "create", "update", "delete", "stats", "scenario"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	require.NotNil(t, cmd.PersistentFlags().Lookup("config"))
}

func TestMutationCommandFlags(t *testing.T) {
	tests := []struct {
		name    string
		hasKey  bool
		hasData bool
	}{
		{"create", false, true},
		{"update", true, true},
		{"delete", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub, _, err := NewRootCommand().Find([]string{tt.name})
			require.NoError(t, err)

			assert.NotNil(t, sub.Flags().Lookup("kind"))
			assert.NotNil(t, sub.Flags().Lookup("scope"))
			assert.Equal(t, tt.hasKey, sub.Flags().Lookup("key") != nil)
			assert.Equal(t, tt.hasData, sub.Flags().Lookup("data") != nil)

			settle := sub.Flags().Lookup("settle")
			require.NotNil(t, settle)
			assert.Equal(t, "2s", settle.DefValue)
		})
	}
}

func TestWatchCommandFlags(t *testing.T) {
	sub, _, err := NewRootCommand().Find([]string{"watch"})
	require.NoError(t, err)

	assert.NotNil(t, sub.Flags().Lookup("kind"))
	assert.NotNil(t, sub.Flags().Lookup("scope"))
	once := sub.Flags().Lookup("once")
	require.NotNil(t, once)
	assert.Equal(t, "false", once.DefValue)
}

func TestFormatValidation(t *testing.T) {
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))

	assert.False(t, isValidFormat("xml"))
	assert.False(t, isValidFormat(""))
	assert.False(t, isValidFormat("TEXT"))
}

func TestFormatValidationIntegration(t *testing.T) {
	_, err := execute(t, nil, "--format", "invalid", "kinds")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestKindsCommand_Text(t *testing.T) {
	out, err := execute(t, nil, "kinds")
	require.NoError(t, err)

	assert.Contains(t, out, "KIND")
	assert.Contains(t, out, "habits")
	assert.Contains(t, out, "travel_milestones")
}

func TestKindsCommand_JSON(t *testing.T) {
	out, err := execute(t, nil, "--format", "json", "kinds")
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   []KindInfo `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Len(t, resp.Data, 7)
	for _, k := range resp.Data {
		assert.NotEmpty(t, k.Ordering, k.Name)
	}
}

func TestConfigCommand_ReflectsEnvironment(t *testing.T) {
	env := map[string]string{
		"TANDEM_BACKEND":     "sqlite",
		"TANDEM_SQLITE_PATH": "/tmp/pair.db",
	}
	out, err := execute(t, env, "config")
	require.NoError(t, err)

	assert.Contains(t, out, "backend:   sqlite")
	assert.Contains(t, out, "/tmp/pair.db")
}

func TestConfigCommand_InvalidEnvironment(t *testing.T) {
	_, err := execute(t, map[string]string{"TANDEM_BACKEND": "mongo"}, "config")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestMutationCommands_SQLiteEndToEnd(t *testing.T) {
	env := map[string]string{
		"TANDEM_BACKEND":     "sqlite",
		"TANDEM_SQLITE_PATH": filepath.Join(t.TempDir(), "tandem.db"),
	}
	base := []string{"--format", "json"}
	target := []string{"--kind", "habits", "--scope", "pair-1"}

	out, err := execute(t, env, append(append(append(base, "create"), target...),
		"--data", `{"title":"Stretch","target_per_day":2}`)...)
	require.NoError(t, err)
	created := decodeView(t, out)
	require.Len(t, created.Records, 1)
	assert.Equal(t, 0, created.Pending)
	assert.NotContains(t, created.Key, "tmp-", "create should settle to the remote key")
	assert.Equal(t, created.Key, created.Records[0]["id"])
	assert.Equal(t, "pair-1", created.Records[0]["couple_id"])

	out, err = execute(t, env, append(append(append(base, "update"), target...),
		"--key", created.Key, "--data", `{"title":"Stretch more"}`)...)
	require.NoError(t, err)
	updated := decodeView(t, out)
	require.Len(t, updated.Records, 1)
	assert.Equal(t, "Stretch more", updated.Records[0]["title"])
	assert.EqualValues(t, 2, updated.Records[0]["target_per_day"])

	// Another pairing sees nothing.
	out, err = execute(t, env, append(base, "watch", "--once", "--kind", "habits", "--scope", "pair-2")...)
	require.NoError(t, err)
	assert.Empty(t, decodeView(t, out).Records)

	out, err = execute(t, env, append(append(append(base, "delete"), target...), "--key", created.Key)...)
	require.NoError(t, err)
	assert.Empty(t, decodeView(t, out).Records)

	out, err = execute(t, env, append(base, "watch", "--once", "--kind", "habits", "--scope", "pair-1")...)
	require.NoError(t, err)
	assert.Empty(t, decodeView(t, out).Records)
}

func TestStatsCommand_SQLite(t *testing.T) {
	env := map[string]string{
		"TANDEM_BACKEND":     "sqlite",
		"TANDEM_SQLITE_PATH": filepath.Join(t.TempDir(), "tandem.db"),
	}

	_, err := execute(t, env, "create", "--kind", "journal_entries", "--scope", "pair-1",
		"--data", `{"user_id":"u1","content":"good day","mood_score":4}`)
	require.NoError(t, err)
	_, err = execute(t, env, "create", "--kind", "goals", "--scope", "pair-1",
		"--data", `{"title":"Trip","status":"completed","target_amount":100,"current_amount":100}`)
	require.NoError(t, err)

	out, err := execute(t, env, "--format", "json", "stats", "--scope", "pair-1", "--days", "3")
	require.NoError(t, err)

	var resp struct {
		Status string      `json:"status"`
		Data   StatsReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data.Daily, 3)
	assert.Equal(t, int64(80), resp.Data.Daily[2].MoodScore)
	assert.Equal(t, int64(100), resp.Data.Daily[2].GoalsProgress)
	assert.Equal(t, entity.OverallStats{
		JournalEntries: 1,
		AvgMoodScore:   80,
		GoalsCompleted: 1,
		DaysTogether:   1,
	}, resp.Data.Overall)

	out, err = execute(t, env, "stats", "--scope", "pair-2")
	require.NoError(t, err)
	assert.Contains(t, out, "journal entries: 0")
}

func TestStatsCommand_InvalidFlags(t *testing.T) {
	_, err := execute(t, nil, "stats", "--scope", "pair-1", "--days", "0")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, nil, "stats", "--scope", "pair-1", "--since", "yesterday")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestMutationCommands_Errors(t *testing.T) {
	env := map[string]string{"TANDEM_BACKEND": "memory"}

	t.Run("unknown kind", func(t *testing.T) {
		_, err := execute(t, env, "create", "--kind", "chores", "--scope", "pair-1", "--data", "{}")
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
		assert.Contains(t, err.Error(), "unknown kind")
	})

	t.Run("update of missing record", func(t *testing.T) {
		out, err := execute(t, env, "--format", "json", "update",
			"--kind", "goals", "--scope", "pair-1", "--key", "srv-9", "--data", `{"title":"x"}`)
		require.Error(t, err)
		assert.Equal(t, ExitFailure, GetExitCode(err))
		assert.Contains(t, out, `"NOT_FOUND"`)
	})

	t.Run("delete of pending key", func(t *testing.T) {
		_, err := execute(t, env, "delete", "--kind", "goals", "--scope", "pair-1", "--key", "tmp-1")
		require.Error(t, err)
		assert.Equal(t, ExitFailure, GetExitCode(err))
	})

	t.Run("data is not an object", func(t *testing.T) {
		_, err := execute(t, env, "create", "--kind", "messages", "--scope", "pair-1", "--data", "[1]")
		require.Error(t, err)
	})

	t.Run("missing required flag", func(t *testing.T) {
		_, err := execute(t, env, "delete", "--kind", "messages", "--scope", "pair-1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "key")
	})
}

func TestScenarioCommand_RunsHarnessScenarios(t *testing.T) {
	if testing.Short() {
		t.Skip("runs every harness scenario")
	}
	out, err := execute(t, nil, "scenario", filepath.Join("..", "harness", "testdata", "scenarios"))
	require.NoError(t, err)

	assert.Contains(t, out, "PASS  create_superseded_by_push")
	assert.Contains(t, out, "4 passed, 0 failed")
}

func TestScenarioCommand_FailingScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	writeFile(t, path, `
name: bad
description: expects a record that is never created
kind: notes
steps:
  - bind: pair-1
  - create: {title: a}
    expect:
      count: 2
`)

	out, err := execute(t, nil, "--format", "json", "scenario", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Data ScenarioSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, 1, resp.Data.Failed)
	require.Len(t, resp.Data.Scenarios, 1)
	assert.NotEmpty(t, resp.Data.Scenarios[0].Errors)
}

func TestScenarioCommand_LoadError(t *testing.T) {
	_, err := execute(t, nil, "scenario", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
