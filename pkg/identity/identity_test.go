package identity

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGenerateIdentity_CAAndLeaves(t *testing.T) {
	ca, err := GenerateIdentity(RoleCA, nil)
	require.NoError(t, err)
	require.True(t, ca.Cert.IsCA)

	server, err := GenerateIdentity(RoleServer, ca)
	require.NoError(t, err)
	require.False(t, server.Cert.IsCA)
	require.NoError(t, server.Cert.CheckSignatureFrom(ca.Cert))

	client, err := GenerateIdentity(RoleClient, ca)
	require.NoError(t, err)
	require.NoError(t, client.Cert.CheckSignatureFrom(ca.Cert))

	// One-year validity window.
	lifetime := server.Cert.NotAfter.Sub(server.Cert.NotBefore)
	require.InDelta(t, float64(DefaultValidity), float64(lifetime), float64(2*time.Minute))
}

func TestGenerateIdentity_LeafRequiresCA(t *testing.T) {
	_, err := GenerateIdentity(RoleServer, nil)
	require.Error(t, err)
}

func TestFingerprint_DeterministicAndFormatted(t *testing.T) {
	ca, err := GenerateIdentity(RoleCA, nil)
	require.NoError(t, err)
	leaf, err := GenerateIdentity(RoleServer, ca)
	require.NoError(t, err)

	fp := Fingerprint(leaf.Cert)
	require.True(t, strings.HasPrefix(fp, "sha256:"))
	require.Len(t, fp, len("sha256:")+64)
	require.Equal(t, strings.ToLower(fp), fp)
	require.Equal(t, fp, Fingerprint(leaf.Cert))

	other, err := GenerateIdentity(RoleServer, ca)
	require.NoError(t, err)
	require.NotEqual(t, fp, Fingerprint(other.Cert))
}

func TestValidate(t *testing.T) {
	ca, err := GenerateIdentity(RoleCA, nil)
	require.NoError(t, err)
	leaf, err := GenerateIdentity(RoleServer, ca)
	require.NoError(t, err)

	otherCA, err := GenerateIdentity(RoleCA, nil)
	require.NoError(t, err)
	otherLeaf, err := GenerateIdentity(RoleServer, otherCA)
	require.NoError(t, err)

	now := time.Now()
	tests := []struct {
		name string
		at   time.Time
		cert *Identity
		ca   *Identity
		want ValidationResult
	}{
		{"valid", now, leaf, ca, Valid},
		{"expired", leaf.Cert.NotAfter.Add(time.Hour), leaf, ca, Expired},
		{"not yet valid", leaf.Cert.NotBefore.Add(-time.Hour), leaf, ca, NotYetValid},
		{"leaf as ca", now, leaf, otherLeaf, ChainBroken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Validate(tt.cert.Cert, tt.ca.Cert, tt.at)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}

	_, err = Validate(nil, ca.Cert, now)
	require.Error(t, err)
}

func TestValidate_SignatureInvalid(t *testing.T) {
	ca, err := GenerateIdentity(RoleCA, nil)
	require.NoError(t, err)
	leaf, err := GenerateIdentity(RoleServer, ca)
	require.NoError(t, err)

	// A CA with the same subject name but a different key: the issuer chain
	// looks right, the signature does not check out.
	impostor, err := GenerateIdentity(RoleCA, nil)
	require.NoError(t, err)
	require.Equal(t, ca.Cert.Subject.String(), impostor.Cert.Subject.String())

	got, err := Validate(leaf.Cert, impostor.Cert, time.Now())
	require.NoError(t, err)
	require.Equal(t, SignatureInvalid, got)
}
