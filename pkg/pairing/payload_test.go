package pairing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validPayload() *Payload {
	return &Payload{
		Version:     PayloadVersion,
		Host:        "192.168.1.20",
		Port:        8443,
		Code:        "c29tZS1jb2Rl",
		ExpiresAt:   time.Now().Add(5 * time.Minute),
		Fingerprint: "sha256:deadbeef",
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	p := validPayload()
	data, err := p.Encode()
	require.NoError(t, err)

	decoded, err := DecodePayload(data)
	require.NoError(t, err)
	require.Equal(t, p.Host, decoded.Host)
	require.Equal(t, p.Port, decoded.Port)
	require.Equal(t, p.Code, decoded.Code)
	require.Equal(t, p.Fingerprint, decoded.Fingerprint)
}

func TestDecodePayload_RejectsUnknownVersion(t *testing.T) {
	p := validPayload()
	p.Version = "99"
	data, err := p.Encode()
	require.NoError(t, err)

	_, err = DecodePayload(data)
	require.Error(t, err)
	require.Contains(t, err.Error(), "version")
}

func TestDecodePayload_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Payload)
	}{
		{"missing host", func(p *Payload) { p.Host = "" }},
		{"port zero", func(p *Payload) { p.Port = 0 }},
		{"port too large", func(p *Payload) { p.Port = 70000 }},
		{"missing code", func(p *Payload) { p.Code = "" }},
		{"missing fingerprint", func(p *Payload) { p.Fingerprint = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPayload()
			data, err := p.Encode()
			require.NoError(t, err)

			tt.mutate(p)
			_, err = p.Encode()
			require.Error(t, err)

			// Sanity: the unmutated encoding still decodes.
			_, err = DecodePayload(data)
			require.NoError(t, err)
		})
	}

	_, err := DecodePayload([]byte("not json"))
	require.Error(t, err)
}
