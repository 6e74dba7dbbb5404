package pairing

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/rs/xid"
)

const (
	// DefaultCodeTTL bounds how long a pairing offer stays redeemable.
	DefaultCodeTTL = 5 * time.Minute

	// DefaultTokenTTL is the session token lifetime before re-pairing.
	DefaultTokenTTL = 365 * 24 * time.Hour

	codeBytes  = 12 // 96 bits of entropy
	tokenBytes = 32
)

// IssuedCode is a freshly minted pairing offer. Code is the plaintext secret;
// only its hash is persisted.
type IssuedCode struct {
	Code      string
	ExpiresAt time.Time
}

// Registry issues and consumes one-time pairing codes and validates session
// tokens. A single mutex linearises every operation so that at most one
// concurrent caller can consume a given code.
type Registry struct {
	mu       sync.Mutex
	store    Store
	hasher   TokenHasher
	codeTTL  time.Duration
	tokenTTL time.Duration
	now      func() time.Time
}

// NewRegistry builds a registry over store. Non-positive TTLs fall back to
// the defaults.
func NewRegistry(store Store, hasher TokenHasher, codeTTL, tokenTTL time.Duration) *Registry {
	if codeTTL <= 0 {
		codeTTL = DefaultCodeTTL
	}
	if tokenTTL <= 0 {
		tokenTTL = DefaultTokenTTL
	}
	return &Registry{
		store:    store,
		hasher:   hasher,
		codeTTL:  codeTTL,
		tokenTTL: tokenTTL,
		now:      time.Now,
	}
}

// IssueCode mints a new random pairing code valid for ttl (the registry
// default when ttl <= 0).
func (r *Registry) IssueCode(ttl time.Duration) (*IssuedCode, error) {
	if ttl <= 0 {
		ttl = r.codeTTL
	}
	raw, err := randomSecret(codeBytes)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	record := PairingCode{
		CodeHash:  r.hasher.HashString(raw),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := r.store.CreateCode(&record); err != nil {
		return nil, fmt.Errorf("persist pairing code: %w", err)
	}
	return &IssuedCode{Code: raw, ExpiresAt: record.ExpiresAt}, nil
}

// ConsumeCode redeems a pairing code exactly once. On success it mints a
// session token, pins presentedFingerprint to the new device record, and
// returns the record together with the plaintext token. The token is returned
// here and never again; only its hash is stored.
//
// A consumed code can only have been redeemed while still valid, so a code
// that is both consumed and past expiry reports ErrCodeConsumed; expiry wins
// only when no redemption ever succeeded.
func (r *Registry) ConsumeCode(code, clientName, presentedFingerprint string) (*Device, string, error) {
	if !wellFormedCode(code) {
		return nil, "", ErrMalformedCode
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, err := r.store.FindCode(r.hasher.HashString(code))
	if err != nil {
		if err == ErrNotFound {
			// Never issued, or pruned long after expiry.
			return nil, "", ErrMalformedCode
		}
		return nil, "", err
	}

	now := r.now()
	if record.Consumed {
		return nil, "", ErrCodeConsumed
	}
	if now.After(record.ExpiresAt) {
		return nil, "", ErrCodeExpired
	}

	if err := r.store.MarkCodeConsumed(record.ID, now); err != nil {
		return nil, "", fmt.Errorf("consume pairing code: %w", err)
	}

	token, err := randomSecret(tokenBytes)
	if err != nil {
		return nil, "", err
	}

	device := Device{
		DeviceID:       xid.New().String(),
		DisplayName:    truncateName(clientName),
		TokenHash:      r.hasher.HashString(token),
		Fingerprint:    presentedFingerprint,
		CreatedAt:      now,
		TokenExpiresAt: now.Add(r.tokenTTL),
		LastSeenAt:     now,
		Active:         true,
	}
	if err := r.store.CreateDevice(&device); err != nil {
		return nil, "", fmt.Errorf("persist device: %w", err)
	}
	return &device, token, nil
}

// ValidateToken authorises a request. The token hash is compared against
// every stored device hash in constant time, without early exit, so lookup
// duration does not leak how many leading bytes matched. On success the
// device's last-seen timestamp advances.
func (r *Registry) ValidateToken(token, presentedFingerprint string) (*Device, error) {
	presented := []byte(r.hasher.HashString(token))

	r.mu.Lock()
	defer r.mu.Unlock()

	devices, err := r.store.Devices()
	if err != nil {
		return nil, err
	}

	match := -1
	for i := range devices {
		if subtle.ConstantTimeCompare(presented, []byte(devices[i].TokenHash)) == 1 {
			match = i
		}
	}
	if match < 0 {
		return nil, ErrUnknownToken
	}

	device := devices[match]
	now := r.now()
	if now.After(device.TokenExpiresAt) {
		return nil, ErrTokenExpired
	}
	if !device.Active {
		return nil, ErrDeviceRevoked
	}
	if subtle.ConstantTimeCompare([]byte(presentedFingerprint), []byte(device.Fingerprint)) != 1 {
		return nil, ErrFingerprintMismatch
	}

	if err := r.store.TouchDevice(device.DeviceID, now); err != nil {
		return nil, err
	}
	device.LastSeenAt = now
	return &device, nil
}

// Revoke deactivates a device. Idempotent: revoking an already-revoked
// device succeeds.
func (r *Registry) Revoke(deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	found, err := r.store.SetDeviceActive(deviceID, false)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	return nil
}

// Devices lists every paired device, revoked ones included.
func (r *Registry) Devices() ([]Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.Devices()
}

// PruneExpiredCodes drops codes whose expiry is older than the retention
// window. Consumed and expired codes are logically dead either way; pruning
// only reclaims storage.
func (r *Registry) PruneExpiredCodes(retention time.Duration) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.PruneExpiredCodes(r.now().Add(-retention))
}

func randomSecret(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("secure random unavailable: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func wellFormedCode(code string) bool {
	if code == "" || len(code) > 64 {
		return false
	}
	_, err := base64.RawURLEncoding.DecodeString(code)
	return err == nil
}

// truncateName bounds free-form display names. Names are never used for
// authorization decisions.
func truncateName(name string) string {
	const max = 64
	if len(name) > max {
		return name[:max]
	}
	return name
}
