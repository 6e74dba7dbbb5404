package identity

import (
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// SecretStore persists identity material confidentially, keyed by role.
// Implementations must not retain plaintext after Store/Retrieve return.
type SecretStore interface {
	Store(role Role, data []byte) error
	Retrieve(role Role) ([]byte, error)
	Delete(role Role) error
}

// ErrNotStored indicates no material exists for the requested role.
var ErrNotStored = errors.New("identity not stored")

const (
	saltFile = "store.salt"
	saltLen  = 16

	argonTime    uint32 = 3
	argonMemory  uint32 = 64 * 1024
	argonThreads uint8  = 1
	kekLen              = 32
)

// FileStore keeps identities on disk encrypted with XChaCha20-Poly1305 under
// a key derived from the passphrase with Argon2id. A fallback for platforms
// without a hardware-backed keystore.
type FileStore struct {
	dir string
	kek []byte
}

// NewFileStore opens (or initialises) an encrypted store rooted at dir.
func NewFileStore(dir string, passphrase []byte) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create keystore dir: %w", err)
	}
	salt, err := loadOrCreateSalt(filepath.Join(dir, saltFile))
	if err != nil {
		return nil, err
	}
	kek := argon2.IDKey(passphrase, salt, argonTime, argonMemory, argonThreads, kekLen)
	return &FileStore{dir: dir, kek: kek}, nil
}

func loadOrCreateSalt(path string) ([]byte, error) {
	salt, err := os.ReadFile(path)
	if err == nil && len(salt) == saltLen {
		return salt, nil
	}
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read salt: %w", err)
	}
	salt = make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}
	if err := os.WriteFile(path, salt, 0o600); err != nil {
		return nil, fmt.Errorf("write salt: %w", err)
	}
	return salt, nil
}

func (s *FileStore) path(role Role) string {
	return filepath.Join(s.dir, string(role)+".sealed")
}

func (s *FileStore) Store(role Role, data []byte) error {
	aead, err := chacha20poly1305.NewX(s.kek)
	if err != nil {
		return err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}
	out := make([]byte, 0, len(nonce)+len(data)+aead.Overhead())
	out = append(out, nonce...)
	out = append(out, aead.Seal(nil, nonce, data, []byte(role))...)
	return os.WriteFile(s.path(role), out, 0o600)
}

func (s *FileStore) Retrieve(role Role) ([]byte, error) {
	blob, err := os.ReadFile(s.path(role))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotStored
		}
		return nil, err
	}
	if len(blob) < chacha20poly1305.NonceSizeX {
		return nil, errors.New("sealed identity too short")
	}
	aead, err := chacha20poly1305.NewX(s.kek)
	if err != nil {
		return nil, err
	}
	nonce, ct := blob[:chacha20poly1305.NonceSizeX], blob[chacha20poly1305.NonceSizeX:]
	return aead.Open(nil, nonce, ct, []byte(role))
}

func (s *FileStore) Delete(role Role) error {
	err := os.Remove(s.path(role))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// EncodePEM serialises an identity as a key + certificate PEM bundle.
// The caller owns the returned buffer and should wipe it when done.
func (id *Identity) EncodePEM() ([]byte, error) {
	keyDER, err := x509.MarshalECPrivateKey(id.Key)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}
	out := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	Wipe(keyDER)
	out = append(out, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: id.Cert.Raw})...)
	return out, nil
}

// DecodePEM parses a bundle produced by EncodePEM.
func DecodePEM(role Role, bundle []byte) (*Identity, error) {
	id := &Identity{Role: role}
	rest := bundle
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		switch block.Type {
		case "EC PRIVATE KEY":
			key, err := x509.ParseECPrivateKey(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("parse private key: %w", err)
			}
			id.Key = key
		case "CERTIFICATE":
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("parse certificate: %w", err)
			}
			id.Cert = cert
		}
	}
	if id.Key == nil || id.Cert == nil {
		return nil, errors.New("incomplete identity bundle")
	}
	return id, nil
}

// UseIdentity retrieves an identity for the duration of fn and wipes the
// plaintext key material when fn returns. Callers must not let the identity
// escape the closure.
func UseIdentity(store SecretStore, role Role, fn func(*Identity) error) error {
	plain, err := store.Retrieve(role)
	if err != nil {
		return err
	}
	defer Wipe(plain)

	id, err := DecodePEM(role, plain)
	if err != nil {
		return err
	}
	defer func() {
		if id.Key != nil {
			id.Key.D.SetInt64(0)
		}
	}()

	return fn(id)
}

// Wipe zeroes a buffer holding secret material.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
