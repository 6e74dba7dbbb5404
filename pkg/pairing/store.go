package pairing

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// PairingCode stores a hashed, single-use pairing code.
type PairingCode struct {
	ID         uint   `gorm:"primaryKey"`
	CodeHash   string `gorm:"uniqueIndex"`
	CreatedAt  time.Time
	ExpiresAt  time.Time `gorm:"index"`
	Consumed   bool
	ConsumedAt *time.Time
}

// Device is a paired-device record. TokenHash is the only stored token
// representation; Fingerprint is the certificate pinned at pairing time.
// Active=false marks revocation without deletion so the audit trail survives.
type Device struct {
	ID             uint   `gorm:"primaryKey"`
	DeviceID       string `gorm:"uniqueIndex"`
	DisplayName    string
	TokenHash      string `gorm:"uniqueIndex"`
	Fingerprint    string
	CreatedAt      time.Time
	TokenExpiresAt time.Time
	LastSeenAt     time.Time
	Active         bool
}

// Store persists codes and device records. Implementations are not required
// to be safe for concurrent use; the Registry serialises access.
type Store interface {
	CreateCode(code *PairingCode) error
	FindCode(codeHash string) (*PairingCode, error)
	MarkCodeConsumed(id uint, at time.Time) error
	PruneExpiredCodes(cutoff time.Time) (int64, error)

	CreateDevice(device *Device) error
	Devices() ([]Device, error)
	FindDevice(deviceID string) (*Device, error)
	SetDeviceActive(deviceID string, active bool) (bool, error)
	TouchDevice(deviceID string, at time.Time) error
}

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// GormStore backs the registry with a gorm database (sqlite in production).
type GormStore struct {
	db *gorm.DB
}

// NewGormStore migrates the schema and returns a store bound to db.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&PairingCode{}, &Device{}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) CreateCode(code *PairingCode) error {
	return s.db.Create(code).Error
}

func (s *GormStore) FindCode(codeHash string) (*PairingCode, error) {
	var code PairingCode
	if err := s.db.Where("code_hash = ?", codeHash).First(&code).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &code, nil
}

func (s *GormStore) MarkCodeConsumed(id uint, at time.Time) error {
	return s.db.Model(&PairingCode{}).Where("id = ?", id).
		Updates(map[string]interface{}{"consumed": true, "consumed_at": at}).Error
}

func (s *GormStore) PruneExpiredCodes(cutoff time.Time) (int64, error) {
	res := s.db.Where("expires_at < ?", cutoff).Delete(&PairingCode{})
	return res.RowsAffected, res.Error
}

func (s *GormStore) CreateDevice(device *Device) error {
	return s.db.Create(device).Error
}

func (s *GormStore) Devices() ([]Device, error) {
	var devices []Device
	if err := s.db.Order("created_at desc").Find(&devices).Error; err != nil {
		return nil, err
	}
	return devices, nil
}

func (s *GormStore) FindDevice(deviceID string) (*Device, error) {
	var device Device
	if err := s.db.Where("device_id = ?", deviceID).First(&device).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &device, nil
}

func (s *GormStore) SetDeviceActive(deviceID string, active bool) (bool, error) {
	res := s.db.Model(&Device{}).Where("device_id = ?", deviceID).Update("active", active)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) TouchDevice(deviceID string, at time.Time) error {
	return s.db.Model(&Device{}).Where("device_id = ?", deviceID).
		Update("last_seen_at", at).Error
}
