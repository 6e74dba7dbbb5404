// Package identity manages the long-lived cryptographic identities used to
// secure the pairing channel: a per-device CA plus server/client leaf
// certificates, all ECDSA P-256 with a one-year validity window.
package identity

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"math/big"
	"time"
)

// Role identifies which identity a key/cert pair belongs to.
type Role string

const (
	RoleCA     Role = "ca"
	RoleServer Role = "server"
	RoleClient Role = "client"
)

// ErrKeyGeneration indicates the platform's secure random source failed.
// Not retried automatically.
var ErrKeyGeneration = errors.New("key generation failed")

// DefaultValidity is the lifetime of freshly generated certificates.
const DefaultValidity = 365 * 24 * time.Hour

// Identity bundles a private key with its certificate. The private key never
// leaves the process that generated it.
type Identity struct {
	Role Role
	Key  *ecdsa.PrivateKey
	Cert *x509.Certificate
}

// GenerateIdentity creates a new P-256 key pair and certificate for the given
// role. RoleCA produces a self-signed CA certificate and ignores the ca
// argument; leaf roles require the CA identity that signs them.
func GenerateIdentity(role Role, ca *Identity) (*Identity, error) {
	if role != RoleCA && (ca == nil || ca.Key == nil || ca.Cert == nil) {
		return nil, fmt.Errorf("role %s requires a CA identity", role)
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}

	serial, err := randomSerial()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}

	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "pairlock-" + string(role)},
		NotBefore:    now.Add(-time.Minute),
		NotAfter:     now.Add(DefaultValidity),
	}

	parent := tmpl
	signer := key
	switch role {
	case RoleCA:
		tmpl.IsCA = true
		tmpl.BasicConstraintsValid = true
		tmpl.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature
	case RoleServer:
		tmpl.KeyUsage = x509.KeyUsageDigitalSignature
		tmpl.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}
		tmpl.DNSNames = []string{"localhost"}
		parent = ca.Cert
		signer = ca.Key
	case RoleClient:
		tmpl.KeyUsage = x509.KeyUsageDigitalSignature
		tmpl.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth}
		parent = ca.Cert
		signer = ca.Key
	default:
		return nil, fmt.Errorf("unknown role %q", role)
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, parent, &key.PublicKey, signer)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parse generated certificate: %w", err)
	}

	return &Identity{Role: role, Key: key, Cert: cert}, nil
}

func randomSerial() (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), 128)
	return rand.Int(rand.Reader, limit)
}
