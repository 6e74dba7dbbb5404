package identity

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
)

// Fingerprint returns the pinning anchor for a certificate: a SHA-256 digest
// of its SubjectPublicKeyInfo, formatted as "sha256:<lowercase hex>".
// Deterministic, no side effects.
func Fingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.RawSubjectPublicKeyInfo)
	return "sha256:" + hex.EncodeToString(sum[:])
}
