package identity

import (
	"crypto/x509"
	"errors"
	"fmt"
	"time"
)

// Manager owns the device's identities. Private keys never leave it except
// as part of a TLS certificate the transport layer needs to hold; the CA key
// in particular only exists in memory inside scoped operations.
type Manager struct {
	store SecretStore
}

func NewManager(store SecretStore) *Manager {
	return &Manager{store: store}
}

// Bootstrap ensures the CA and server identities exist, generating them on
// first run, and returns the server identity plus the CA certificate. A
// leaf outside its validity window is re-issued under the stored CA;
// re-issuing changes the pinned fingerprint, which forces re-pairing.
func (m *Manager) Bootstrap() (*Identity, *x509.Certificate, error) {
	return m.bootstrapLeaf(RoleServer)
}

// BootstrapClient is Bootstrap for the pairing counterpart: it ensures the
// device's own CA plus a long-term client leaf.
func (m *Manager) BootstrapClient() (*Identity, *x509.Certificate, error) {
	return m.bootstrapLeaf(RoleClient)
}

func (m *Manager) bootstrapLeaf(role Role) (*Identity, *x509.Certificate, error) {
	caCert, err := m.ensureCA()
	if err != nil {
		return nil, nil, err
	}

	leaf, err := m.loadLeaf(role, caCert)
	if err != nil {
		return nil, nil, err
	}
	return leaf, caCert, nil
}

func (m *Manager) ensureCA() (*x509.Certificate, error) {
	var caCert *x509.Certificate
	err := UseIdentity(m.store, RoleCA, func(ca *Identity) error {
		caCert = ca.Cert
		return nil
	})
	if err == nil {
		return caCert, nil
	}
	if !errors.Is(err, ErrNotStored) {
		return nil, fmt.Errorf("load CA: %w", err)
	}

	ca, err := GenerateIdentity(RoleCA, nil)
	if err != nil {
		return nil, err
	}
	if err := m.storeIdentity(ca); err != nil {
		return nil, err
	}
	return ca.Cert, nil
}

func (m *Manager) loadLeaf(role Role, caCert *x509.Certificate) (*Identity, error) {
	plain, err := m.store.Retrieve(role)
	if err != nil && !errors.Is(err, ErrNotStored) {
		return nil, fmt.Errorf("load %s identity: %w", role, err)
	}

	if err == nil {
		defer Wipe(plain)
		leaf, decodeErr := DecodePEM(role, plain)
		if decodeErr != nil {
			return nil, decodeErr
		}
		result, validErr := Validate(leaf.Cert, caCert, time.Now())
		if validErr != nil {
			return nil, validErr
		}
		if result == Valid {
			return leaf, nil
		}
		// Outside the validity window: fall through and re-issue.
	}

	return m.issueLeaf(role)
}

// issueLeaf signs a fresh leaf certificate inside a scoped CA acquisition so
// the CA key is wiped once signing completes.
func (m *Manager) issueLeaf(role Role) (*Identity, error) {
	var leaf *Identity
	err := UseIdentity(m.store, RoleCA, func(ca *Identity) error {
		id, genErr := GenerateIdentity(role, ca)
		if genErr != nil {
			return genErr
		}
		leaf = id
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := m.storeIdentity(leaf); err != nil {
		return nil, err
	}
	return leaf, nil
}

func (m *Manager) storeIdentity(id *Identity) error {
	pem, err := id.EncodePEM()
	if err != nil {
		return err
	}
	defer Wipe(pem)
	if err := m.store.Store(id.Role, pem); err != nil {
		return fmt.Errorf("store %s identity: %w", id.Role, err)
	}
	return nil
}

// Reset destroys all stored identities. Every paired device must re-pair.
func (m *Manager) Reset() error {
	for _, role := range []Role{RoleCA, RoleServer, RoleClient} {
		if err := m.store.Delete(role); err != nil {
			return fmt.Errorf("delete %s identity: %w", role, err)
		}
	}
	return nil
}
