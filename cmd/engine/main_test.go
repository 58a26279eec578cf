package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"homeassist/internal/web/middleware"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenCommand(t *testing.T) {
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("JWT_SECRET", "s3cret")

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--config-dir", t.TempDir(), "token", "--subject", "phone"})
	require.NoError(t, cmd.Execute())

	subject, err := middleware.ValidateToken([]byte("s3cret"), "Bearer "+strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "phone", subject)
}

func TestTokenCommandWithoutSecret(t *testing.T) {
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("JWT_SECRET", "")

	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config-dir", t.TempDir(), "token"})
	assert.Error(t, cmd.Execute())
}

func TestMigrateCommandSQLite(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", filepath.Join(dir, "homeassist.db"))

	cmd := newRootCmd()
	cmd.SetArgs([]string{"--config-dir", dir, "migrate"})
	require.NoError(t, cmd.Execute())
	// migrations are idempotent
	cmd = newRootCmd()
	cmd.SetArgs([]string{"--config-dir", dir, "migrate"})
	require.NoError(t, cmd.Execute())

	assert.FileExists(t, filepath.Join(dir, "homeassist.db"))
}
