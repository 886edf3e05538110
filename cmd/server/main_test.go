package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "roomchat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigPrecedence(t *testing.T) {
	path := writeConfig(t, `
host: 127.0.0.1
port: 9000
password: from-file
max_message_length: 500
log_level: warn
`)
	t.Setenv("ROOMCHAT_PORT", "9100")
	t.Setenv("ROOMCHAT_PASSWORD", "from-env")

	opts := &options{}
	cmd := newRootCmd(opts)
	require.NoError(t, cmd.ParseFlags([]string{
		"--config", path,
		"--password", "from-flag",
		"--auth-timeout", "3s",
	}))

	cfg, err := loadConfig(cmd, opts)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, "from-flag", cfg.Password)
	assert.Equal(t, 500, cfg.MaxMessageLength)
	assert.Equal(t, 3*time.Second, cfg.AuthTimeout)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoadConfigUnchangedFlagsKeepDefaults(t *testing.T) {
	opts := &options{}
	cmd := newRootCmd(opts)
	require.NoError(t, cmd.ParseFlags(nil))

	cfg, err := loadConfig(cmd, opts)
	require.NoError(t, err)

	assert.Equal(t, 8765, cfg.Port)
	assert.Equal(t, 10_000, cfg.MaxMessageLength)
	assert.False(t, cfg.RefreshUsersAfterCommand)
}

func TestLoadConfigMissingFile(t *testing.T) {
	opts := &options{}
	cmd := newRootCmd(opts)
	require.NoError(t, cmd.ParseFlags([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")}))

	_, err := loadConfig(cmd, opts)
	assert.Error(t, err)
}

func TestRootCommandRequiresPassword(t *testing.T) {
	t.Setenv("ROOMCHAT_PASSWORD", "")
	t.Setenv("ROOMCHAT_PASSWORD_HASH", "")

	cmd := newRootCmd(&options{})
	cmd.SetArgs([]string{"--port", "0"})
	cmd.SetOut(&bytes.Buffer{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "password")
}

func TestHashPasswordCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd(&options{})
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"hash-password", "--cost", "4", "s3cret"})

	require.NoError(t, cmd.Execute())

	hash := strings.TrimSpace(out.String())
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret")))
	cost, err := bcrypt.Cost([]byte(hash))
	require.NoError(t, err)
	assert.Equal(t, 4, cost)
}

func TestHashPasswordCommandNeedsArgument(t *testing.T) {
	cmd := newRootCmd(&options{})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"hash-password"})

	assert.Error(t, cmd.Execute())
}

func TestRefreshFlagDocumentsDefault(t *testing.T) {
	cmd := newRootCmd(&options{})

	flag := cmd.Flags().Lookup("refresh-users-after-command")
	require.NotNil(t, flag)
	assert.Equal(t, "false", flag.DefValue)
	assert.Contains(t, flag.Usage, "only sent on join and leave")
	assert.Contains(t, cmd.Long, "--refresh-users-after-command")
}
