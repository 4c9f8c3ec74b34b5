package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// runCLI executes the root command with args and returns its stdout.
func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	setTempRuntimeDir(t)
	oldDebug := debugEnabled
	t.Cleanup(func() { debugEnabled = oldDebug })

	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "mud-agent "+version+"\n", out)
}

func TestHashPasswordCommand(t *testing.T) {
	out, err := runCLI(t, "", "hash-password", "hunter2")
	require.NoError(t, err)
	hash := strings.TrimSpace(out)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("hunter2")))
}

func TestHashPasswordFromStdin(t *testing.T) {
	out, err := runCLI(t, "hunter2\n", "hash-password")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(strings.TrimSpace(out)), []byte("hunter2")))

	_, err = runCLI(t, "\n", "hash-password")
	assert.Error(t, err)
}

func TestRunRequiresCredentials(t *testing.T) {
	clearMUDEnv(t)
	dir := t.TempDir()

	_, err := runCLI(t, "", "--env-file", filepath.Join(dir, "absent.env"), "--dir", dir)
	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Contains(t, cerr.Missing, "MUD_USERNAME")
}

func TestRunRejectsArgs(t *testing.T) {
	_, err := runCLI(t, "", "look")
	assert.Error(t, err)
}

func TestDaemonChildArgs(t *testing.T) {
	got := daemonChildArgs([]string{"--daemon", "--dir", "/srv/mud", "--daemon=true", "--debug"})
	assert.Equal(t, []string{"--dir", "/srv/mud", "--debug"}, got)
	assert.Empty(t, daemonChildArgs([]string{"--daemon"}))
}

func TestLoadViperFlagsOverrideEnv(t *testing.T) {
	clearMUDEnv(t)
	t.Setenv("MUD_DIR", "/from/env")
	oldDebug := debugEnabled
	t.Cleanup(func() { debugEnabled = oldDebug })

	opts := &rootOptions{envFile: ""}
	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--dir", "/from/flag", "--debug", "--web", "127.0.0.1:9000"}))

	v, err := loadViper(cmd, opts)
	require.NoError(t, err)
	assert.Equal(t, "/from/flag", v.GetString(keyDir))
	assert.Equal(t, "127.0.0.1:9000", v.GetString(keyWebAddr))
	assert.True(t, debugEnabled)
}
