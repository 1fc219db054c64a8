package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupFile_NoConfigReturnsEmpty(t *testing.T) {
	backupPath, err := BackupFile(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)
	assert.Empty(t, backupPath)
}

func TestBackupFile_CopiesContent(t *testing.T) {
	// Given: an existing config file
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "version: 1\nembeddings:\n  provider: ollama\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	// When: backing it up
	backupPath, err := BackupFile(path)
	require.NoError(t, err)

	// Then: the backup sits next to it with identical content
	assert.True(t, strings.HasPrefix(filepath.Base(backupPath), "config.yaml.bak."))
	data, err := os.ReadFile(backupPath)
	require.NoError(t, err)
	assert.Equal(t, content, string(data))
}

func TestBackupFile_KeepsOnlyNewest(t *testing.T) {
	// Given: a config backed up more times than MaxBackups
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: 1\n"), 0o644))

	var made []string
	for i := 0; i < MaxBackups+2; i++ {
		p, err := BackupFile(path)
		require.NoError(t, err)
		made = append(made, p)
		time.Sleep(2 * time.Millisecond)
	}

	// Then: only the newest MaxBackups remain, newest first
	backups, err := ListBackups(path)
	require.NoError(t, err)
	require.Len(t, backups, MaxBackups)
	assert.Equal(t, made[len(made)-1], backups[0])
	_, err = os.Stat(made[0])
	assert.True(t, os.IsNotExist(err))
}
