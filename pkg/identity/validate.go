package identity

import (
	"crypto/x509"
	"errors"
	"time"
)

// ValidationResult is the outcome of checking a leaf certificate against a CA
// at a point in time. Expected validation failures are results, not errors.
type ValidationResult string

const (
	Valid            ValidationResult = "valid"
	Expired          ValidationResult = "expired"
	NotYetValid      ValidationResult = "notYetValid"
	SignatureInvalid ValidationResult = "signatureInvalid"
	ChainBroken      ValidationResult = "chainBroken"
)

// Validate checks that cert was signed by ca and is within its validity
// window at the given time. Only malformed input produces an error.
func Validate(cert, ca *x509.Certificate, at time.Time) (ValidationResult, error) {
	if cert == nil || ca == nil {
		return "", errors.New("nil certificate")
	}
	if !ca.IsCA {
		return ChainBroken, nil
	}
	if cert.Issuer.String() != ca.Subject.String() {
		return ChainBroken, nil
	}
	if err := cert.CheckSignatureFrom(ca); err != nil {
		return SignatureInvalid, nil
	}
	if at.Before(cert.NotBefore) {
		return NotYetValid, nil
	}
	if at.After(cert.NotAfter) {
		return Expired, nil
	}
	return Valid, nil
}
