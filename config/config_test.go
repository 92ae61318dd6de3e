package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/davidaparicio/maestro/limits"
)

func TestLoadOverridesNamedFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "limits.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sysprocs: 42\nvnodes: 7\n"), 0o644))

	got, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 42, got.Sysprocs)
	require.Equal(t, 7, got.Vnodes)
	require.Equal(t, limits.MkSysLimit().Routes, got.Routes)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestWatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "limits.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sysprocs: 10\n"), 0o644))

	w, err := Watch(path)
	require.NoError(t, err)
	defer w.Close()
	require.Equal(t, 10, limits.Syslimit.Sysprocs)

	require.NoError(t, os.WriteFile(path, []byte("sysprocs: 99\n"), 0o644))

	select {
	case n := <-w.Reloaded():
		require.Equal(t, 99, n.Sysprocs)
		require.Equal(t, 99, limits.Syslimit.Sysprocs)
	case err := <-w.Errors():
		t.Fatalf("unexpected watch error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}
