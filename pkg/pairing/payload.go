package pairing

import (
	"encoding/json"
	"fmt"
	"time"
)

// PayloadVersion is the pairing payload protocol version this build speaks.
// Consumers reject unknown versions rather than guess compatibility.
const PayloadVersion = "1"

// Payload is the out-of-band pairing offer: everything a counterpart needs
// to find the server, redeem a code, and pin the server certificate. The
// transport (QR image, clipboard) is up to the caller.
type Payload struct {
	Version     string    `json:"version"`
	Host        string    `json:"host"`
	Port        int       `json:"port"`
	Code        string    `json:"code"`
	ExpiresAt   time.Time `json:"expires_at"`
	Fingerprint string    `json:"fingerprint"`
}

// Encode serialises the payload as compact JSON.
func (p *Payload) Encode() ([]byte, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	return json.Marshal(p)
}

// DecodePayload parses and validates an encoded payload.
func DecodePayload(data []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode pairing payload: %w", err)
	}
	if p.Version != PayloadVersion {
		return nil, fmt.Errorf("unsupported payload version %q", p.Version)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Payload) validate() error {
	if p.Host == "" {
		return fmt.Errorf("payload missing host")
	}
	if p.Port < 1 || p.Port > 65535 {
		return fmt.Errorf("payload port %d out of range", p.Port)
	}
	if p.Code == "" {
		return fmt.Errorf("payload missing code")
	}
	if p.Fingerprint == "" {
		return fmt.Errorf("payload missing certificate fingerprint")
	}
	return nil
}
