package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/KidneyMatch/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KidneyMatch/internal/testutil"
)

func TestNewRootCommand_Structure(t *testing.T) {
	cmd := NewRootCommand()
	assert.Equal(t, "kmatch", cmd.Use)
	assert.NotEmpty(t, cmd.Short)
	assert.NotEmpty(t, cmd.Long)
	assert.Contains(t, cmd.Version, Version)

	names := make(map[string]bool)
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, want := range []string{"models", "predict", "similar", "compare", "embed", "reference"} {
		assert.True(t, names[want], "missing subcommand %q", want)
	}
}

func TestNewRootCommand_GlobalFlags(t *testing.T) {
	cmd := NewRootCommand()
	for name, def := range map[string]string{
		"config":    "",
		"log-level": "warn",
		"output":    "text",
		"verbose":   "false",
		"timeout":   "2m0s",
		"server":    "",
	} {
		f := cmd.PersistentFlags().Lookup(name)
		require.NotNil(t, f, name)
		assert.Equal(t, def, f.DefValue, name)
	}
	assert.Equal(t, "o", cmd.PersistentFlags().Lookup("output").Shorthand)
}

func TestRoot_RejectsUnknownOutputFormat(t *testing.T) {
	_, _, err := runCLI(t, "http://127.0.0.1:1", "", "-o", "yaml", "models")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown output format")
}

func TestResolveServer(t *testing.T) {
	log := logging.NewNopLogger()

	t.Run("flag wins", func(t *testing.T) {
		t.Setenv(serverEnv, "http://env:1")
		addr, err := resolveServer(&RootOptions{ServerAddr: "http://flag:1"}, log)
		require.NoError(t, err)
		assert.Equal(t, "http://flag:1", addr)
	})

	t.Run("environment", func(t *testing.T) {
		t.Setenv(serverEnv, "http://env:1")
		addr, err := resolveServer(&RootOptions{}, log)
		require.NoError(t, err)
		assert.Equal(t, "http://env:1", addr)
	})

	t.Run("config file", func(t *testing.T) {
		t.Setenv(serverEnv, "")
		path := filepath.Join(t.TempDir(), "kmatch.yaml")
		require.NoError(t, os.WriteFile(path, []byte("server:\n  host: 0.0.0.0\n  port: 9191\n"), 0o644))
		addr, err := resolveServer(&RootOptions{ConfigPath: path}, log)
		require.NoError(t, err)
		assert.Equal(t, "http://localhost:9191", addr)
	})

	t.Run("bad config file", func(t *testing.T) {
		t.Setenv(serverEnv, "")
		_, err := resolveServer(&RootOptions{ConfigPath: filepath.Join(t.TempDir(), "missing.yaml")}, log)
		assert.Error(t, err)
	})

	t.Run("default", func(t *testing.T) {
		t.Setenv(serverEnv, "")
		addr, err := resolveServer(&RootOptions{}, log)
		require.NoError(t, err)
		assert.Equal(t, "http://localhost:8080", addr)
	})
}

func TestGetCLIContext_Missing(t *testing.T) {
	_, err := GetCLIContext(&cobra.Command{})
	assert.Error(t, err)
}

func TestFormatTable(t *testing.T) {
	out := FormatTable([]string{"ID", "NAME"}, [][]string{{"bos-base", "Boston"}, {"la", ""}})
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "ID"+strings.Repeat(" ", 8)+"NAME", lines[0])
	assert.Equal(t, "--------  ------", lines[1])
	assert.Equal(t, "bos-base  Boston", lines[2])
	assert.Equal(t, "la"+strings.Repeat(" ", 8), lines[3])

	assert.Empty(t, FormatTable(nil, nil))
}

func TestReadRecords(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
		return p
	}
	cmd := &cobra.Command{}

	recs, err := readRecords(cmd, write("a.json", `[{"KDPI":0.4},{"KDPI":0.8}]`))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, 0.8, recs[1]["KDPI"])

	recs, err = readRecords(cmd, write("o.json", ` {"KDPI":0.4,"AGE_DON":45}`))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, float64(45), recs[0]["AGE_DON"])

	recs, err = readRecords(cmd, write("d.csv", "PTR_SEQUENCE_NUM,KDPI,CREAT_DON\n17,0.4,NA\n"))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, float64(0.4), recs[0]["KDPI"])
	assert.Nil(t, recs[0]["CREAT_DON"])

	cmd.SetIn(strings.NewReader(`{"KDPI":0.1}`))
	recs, err = readRecords(cmd, "-")
	require.NoError(t, err)
	assert.Equal(t, 0.1, recs[0]["KDPI"])

	_, err = readRecords(cmd, "")
	assert.Error(t, err)
	_, err = readRecords(cmd, write("empty.json", "  \n"))
	assert.Error(t, err)
	_, err = readRecords(cmd, write("bad.json", `[{"KDPI":]`))
	assert.Error(t, err)
	_, err = readRecords(cmd, filepath.Join(dir, "missing.csv"))
	assert.Error(t, err)
}

func TestReadTarget_RequiresOneRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "two.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"a":1},{"a":2}]`), 0o644))
	_, err := readTarget(&cobra.Command{}, path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected one target record, got 2")
}

func TestPrintError(t *testing.T) {
	cmd := &cobra.Command{}
	var buf bytes.Buffer
	cmd.SetErr(&buf)

	PrintError(cmd, nil)
	assert.Empty(t, buf.String())

	PrintError(cmd, assert.AnError)
	assert.Equal(t, "Error: "+assert.AnError.Error()+"\n", buf.String())
}

func TestSDKLogger(t *testing.T) {
	logger := testutil.NewMockLogger()
	l := sdkLogger{logger}
	l.Debugf("retrying %s in %d ms", "GET /api/v1/models", 500)
	l.Infof("ok")
	l.Errorf("gave up after %d attempts", 3)

	assert.True(t, logger.HasMessage("debug", "retrying GET /api/v1/models in 500 ms"))
	assert.True(t, logger.HasMessage("info", "ok"))
	assert.True(t, logger.HasMessage("error", "gave up after 3 attempts"))
}
