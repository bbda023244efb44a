package hipaa

import (
	"errors"
	"fmt"

	"github.com/ehr/surgery-scheduler/internal/platform/telemetry"
	"github.com/rs/zerolog"
)

// EncryptionConfig is the key material for the field encryption service.
type EncryptionConfig struct {
	Passphrase string
	Salt       []byte
	KeyVersion int
	// AllowDisabled permits an empty passphrase, which turns encryption into
	// a pass-through. Only development sets it.
	AllowDisabled bool
}

// EncryptionService provides field-level PHI encryption for the application.
type EncryptionService struct {
	rotating *RotatingEncryptor
	enabled  bool
	logger   zerolog.Logger
}

// NewEncryptionService derives the current key from cfg. With no passphrase
// and AllowDisabled set, encryption is disabled and a warning is logged.
func NewEncryptionService(cfg EncryptionConfig, logger zerolog.Logger) (*EncryptionService, error) {
	logger = logger.With().Str("component", "phi-encryption").Logger()
	if cfg.Passphrase == "" {
		if !cfg.AllowDisabled {
			return nil, fmt.Errorf("PHI_ENCRYPTION_PASSPHRASE is required")
		}
		logger.Warn().Msg("PHI encryption disabled: PHI_ENCRYPTION_PASSPHRASE is not set")
		return &EncryptionService{enabled: false, logger: logger}, nil
	}

	version := cfg.KeyVersion
	if version == 0 {
		version = 1
	}
	key, err := DeriveKey(cfg.Passphrase, cfg.Salt)
	if err != nil {
		return nil, fmt.Errorf("derive PHI key: %w", err)
	}
	rotating, err := NewRotatingEncryptor(key, version)
	if err != nil {
		return nil, err
	}

	logger.Info().Int("key_version", version).Msg("PHI field-level encryption enabled")
	return &EncryptionService{rotating: rotating, enabled: true, logger: logger}, nil
}

// AddPreviousKey makes a retired passphrase available for decryption.
func (s *EncryptionService) AddPreviousKey(passphrase string, salt []byte, version int) error {
	if !s.enabled {
		return fmt.Errorf("PHI encryption is disabled")
	}
	key, err := DeriveKey(passphrase, salt)
	if err != nil {
		return fmt.Errorf("derive PHI key v%d: %w", version, err)
	}
	return s.rotating.AddPreviousKey(key, version)
}

// Encryptor returns the underlying FieldEncryptor, or nil when disabled.
func (s *EncryptionService) Encryptor() FieldEncryptor {
	if !s.enabled {
		return nil
	}
	return s.rotating
}

// EncryptField returns value unchanged when encryption is disabled.
func (s *EncryptionService) EncryptField(value string) (string, error) {
	if !s.enabled {
		return value, nil
	}
	return s.rotating.Encrypt(value)
}

// DecryptField returns value unchanged when encryption is disabled.
// Failures are counted and logged without the ciphertext.
func (s *EncryptionService) DecryptField(value string) (string, error) {
	if !s.enabled {
		return value, nil
	}
	plaintext, err := s.rotating.Decrypt(value)
	if err != nil {
		reason := "other"
		switch {
		case errors.Is(err, ErrDecryptionIntegrity):
			reason = "integrity"
		case errors.Is(err, ErrMalformedBlob):
			reason = "malformed"
		}
		telemetry.DecryptFailed(reason)
		s.logger.Error().Str("reason", reason).Msg("PHI field decryption failed")
		return "", err
	}
	return plaintext, nil
}

// NeedsReEncryption is false when encryption is disabled.
func (s *EncryptionService) NeedsReEncryption(value string) bool {
	return s.enabled && s.rotating.NeedsReEncryption(value)
}

func (s *EncryptionService) ReEncrypt(value string) (string, error) {
	if !s.enabled {
		return value, nil
	}
	return s.rotating.ReEncrypt(value)
}

// EncryptRecord encrypts the PHI fields of a flat record of resource and
// copies the rest through.
func (s *EncryptionService) EncryptRecord(resource string, record map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(record))
	for field, value := range record {
		if value == "" || !IsPHIField(resource, field) {
			out[field] = value
			continue
		}
		sealed, err := s.EncryptField(value)
		if err != nil {
			return nil, fmt.Errorf("encrypt %s.%s: %w", resource, field, err)
		}
		out[field] = sealed
	}
	return out, nil
}

// DecryptRecord reverses EncryptRecord.
func (s *EncryptionService) DecryptRecord(resource string, record map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(record))
	for field, value := range record {
		if value == "" || !IsPHIField(resource, field) {
			out[field] = value
			continue
		}
		opened, err := s.DecryptField(value)
		if err != nil {
			return nil, fmt.Errorf("decrypt %s.%s: %w", resource, field, err)
		}
		out[field] = opened
	}
	return out, nil
}

func (s *EncryptionService) IsEnabled() bool {
	return s.enabled
}

// CurrentVersion is 0 when encryption is disabled.
func (s *EncryptionService) CurrentVersion() int {
	if !s.enabled {
		return 0
	}
	return s.rotating.CurrentVersion()
}
