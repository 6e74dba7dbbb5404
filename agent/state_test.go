package main

import (
	"os"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStateRoundTrip(t *testing.T) {
	dir := t.TempDir()
	state := &State{
		Host:              "192.168.1.20",
		Port:              8443,
		ServerFingerprint: "sha256:serverfp",
		DeviceID:          "d-123",
		Token:             "secret-token",
		TokenExpiresAt:    time.Now().Add(time.Hour).UTC(),
	}

	require.NoError(t, saveState(dir, state))

	loaded, err := loadState(dir)
	require.NoError(t, err)
	require.Equal(t, state.Host, loaded.Host)
	require.Equal(t, state.Token, loaded.Token)
	require.Equal(t, state.ServerFingerprint, loaded.ServerFingerprint)

	if runtime.GOOS != "windows" {
		info, err := os.Stat(statePath(dir))
		require.NoError(t, err)
		require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}
}

func TestLoadState_Missing(t *testing.T) {
	_, err := loadState(t.TempDir())
	require.Error(t, err)
	require.True(t, os.IsNotExist(err))
}
