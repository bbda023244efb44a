package hipaa

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// Sealed values are written as "v<version>:<blob>".
const (
	versionMarker = "v"
	versionDelim  = ":"
)

var errUnversioned = errors.New("ciphertext carries no key version")

// FieldEncryptor seals and opens single string fields.
type FieldEncryptor interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// RotatingEncryptor holds a keyring indexed by version. New values are
// sealed under the active version; any version in the ring can be opened.
type RotatingEncryptor struct {
	mu     sync.RWMutex
	active int
	ring   map[int]*PHIEncryptor
}

func NewRotatingEncryptor(current Key, version int) (*RotatingEncryptor, error) {
	if version < 1 {
		return nil, fmt.Errorf("key version must be positive, got %d", version)
	}
	return &RotatingEncryptor{
		active: version,
		ring:   map[int]*PHIEncryptor{version: NewPHIEncryptor(current)},
	}, nil
}

// AddPreviousKey puts a retired key in the ring. The active version cannot
// be replaced this way.
func (r *RotatingEncryptor) AddPreviousKey(key Key, version int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if version == r.active {
		return fmt.Errorf("key v%d is active and cannot be registered as retired", version)
	}
	r.ring[version] = NewPHIEncryptor(key)
	return nil
}

func (r *RotatingEncryptor) Encrypt(plaintext string) (string, error) {
	r.mu.RLock()
	enc, version := r.ring[r.active], r.active
	r.mu.RUnlock()

	blob, err := enc.Encrypt(plaintext)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.Grow(len(blob) + 4)
	b.WriteString(versionMarker)
	b.WriteString(strconv.Itoa(version))
	b.WriteString(versionDelim)
	b.WriteString(blob)
	return b.String(), nil
}

// Decrypt opens a versioned value with the matching key from the ring.
// Values without a version marker are legacy and go to the active key.
func (r *RotatingEncryptor) Decrypt(ciphertext string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	version, blob, err := parseVersionedCiphertext(ciphertext)
	if err != nil {
		return r.ring[r.active].Decrypt(ciphertext)
	}
	enc, ok := r.ring[version]
	if !ok {
		return "", fmt.Errorf("phi decrypt: no key for version %d", version)
	}
	return enc.Decrypt(blob)
}

// NeedsReEncryption is true for anything not sealed under the active
// version, legacy values included.
func (r *RotatingEncryptor) NeedsReEncryption(ciphertext string) bool {
	version, _, err := parseVersionedCiphertext(ciphertext)
	return err != nil || version != r.CurrentVersion()
}

func (r *RotatingEncryptor) ReEncrypt(ciphertext string) (string, error) {
	plaintext, err := r.Decrypt(ciphertext)
	if err != nil {
		return "", fmt.Errorf("re-encrypt: %w", err)
	}
	return r.Encrypt(plaintext)
}

func (r *RotatingEncryptor) CurrentVersion() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

func parseVersionedCiphertext(s string) (int, string, error) {
	rest, ok := strings.CutPrefix(s, versionMarker)
	if !ok {
		return 0, "", errUnversioned
	}
	head, blob, ok := strings.Cut(rest, versionDelim)
	if !ok {
		return 0, "", errUnversioned
	}
	version, err := strconv.Atoi(head)
	if err != nil {
		return 0, "", fmt.Errorf("key version %q: %w", head, err)
	}
	return version, blob, nil
}
