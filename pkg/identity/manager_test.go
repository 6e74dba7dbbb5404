package identity

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	store, err := NewFileStore(t.TempDir(), []byte("passphrase"))
	require.NoError(t, err)
	return NewManager(store)
}

func TestManager_BootstrapFirstRun(t *testing.T) {
	m := newTestManager(t)

	server, caCert, err := m.Bootstrap()
	require.NoError(t, err)
	require.Equal(t, RoleServer, server.Role)
	require.True(t, caCert.IsCA)
	require.NoError(t, server.Cert.CheckSignatureFrom(caCert))
}

func TestManager_BootstrapStableAcrossRestarts(t *testing.T) {
	m := newTestManager(t)

	first, _, err := m.Bootstrap()
	require.NoError(t, err)

	// A second bootstrap from the same store reloads the same identity; a
	// changed fingerprint would break every pinned client.
	second, _, err := m.Bootstrap()
	require.NoError(t, err)
	require.Equal(t, Fingerprint(first.Cert), Fingerprint(second.Cert))
	require.Equal(t, first.Cert.Raw, second.Cert.Raw)
}

func TestManager_ClientAndServerShareCA(t *testing.T) {
	m := newTestManager(t)

	_, serverCA, err := m.Bootstrap()
	require.NoError(t, err)
	client, clientCA, err := m.BootstrapClient()
	require.NoError(t, err)

	require.Equal(t, RoleClient, client.Role)
	require.Equal(t, serverCA.Raw, clientCA.Raw)
	require.NoError(t, client.Cert.CheckSignatureFrom(clientCA))
}

func TestManager_ResetForcesNewIdentity(t *testing.T) {
	m := newTestManager(t)

	before, _, err := m.Bootstrap()
	require.NoError(t, err)

	require.NoError(t, m.Reset())

	after, _, err := m.Bootstrap()
	require.NoError(t, err)
	require.NotEqual(t, Fingerprint(before.Cert), Fingerprint(after.Cert))
}
