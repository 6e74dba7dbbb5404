package identity

import (
	"crypto/subtle"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
)

// ErrServerNotPinned indicates the dialed server presented a certificate
// whose fingerprint differs from the one in the pairing payload.
var ErrServerNotPinned = errors.New("server certificate does not match pinned fingerprint")

// ServerTLSConfig builds the listener-side TLS configuration: TLS 1.3 only,
// and the peer must present some certificate for the handshake to complete.
// Recognition of the certificate happens at the authorization layer, not here,
// because first pairing contact uses an ephemeral client certificate.
func ServerTLSConfig(server *Identity) *tls.Config {
	cert := tls.Certificate{
		Certificate: [][]byte{server.Cert.Raw},
		PrivateKey:  server.Key,
		Leaf:        server.Cert,
	}
	return &tls.Config{
		MinVersion:   tls.VersionTLS13,
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.RequireAnyClientCert,
	}
}

// PinnedClientTLSConfig builds the dialer-side TLS configuration. Chain
// verification is replaced by fingerprint pinning: the handshake fails unless
// the server's leaf matches serverFingerprint exactly.
func PinnedClientTLSConfig(client *Identity, serverFingerprint string) *tls.Config {
	cert := tls.Certificate{
		Certificate: [][]byte{client.Cert.Raw},
		PrivateKey:  client.Key,
		Leaf:        client.Cert,
	}
	return &tls.Config{
		MinVersion:         tls.VersionTLS13,
		Certificates:       []tls.Certificate{cert},
		InsecureSkipVerify: true, // replaced by pinning below
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return errors.New("server presented no certificate")
			}
			leaf, err := x509.ParseCertificate(rawCerts[0])
			if err != nil {
				return fmt.Errorf("parse server certificate: %w", err)
			}
			got := Fingerprint(leaf)
			if subtle.ConstantTimeCompare([]byte(got), []byte(serverFingerprint)) != 1 {
				return ErrServerNotPinned
			}
			return nil
		},
	}
}

// PeerFingerprint extracts the fingerprint of the certificate the peer
// presented during the TLS handshake.
func PeerFingerprint(state *tls.ConnectionState) (string, bool) {
	if state == nil || len(state.PeerCertificates) == 0 {
		return "", false
	}
	return Fingerprint(state.PeerCertificates[0]), true
}
