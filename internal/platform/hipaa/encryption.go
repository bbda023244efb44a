package hipaa

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	// KeySize is the AES-256 key length.
	KeySize = 32
	// NonceSize is the GCM standard nonce length.
	NonceSize = 12
	// TagSize is the GCM authentication tag length.
	TagSize = 16
	// MinSaltSize is the shortest salt DeriveKey accepts.
	MinSaltSize = 16
)

// phiAAD binds every ciphertext to PHI field storage. A blob sealed under a
// different context string will not open here.
var phiAAD = []byte("surgery-scheduler/phi/v1")

var (
	// ErrDecryptionIntegrity means the tag did not verify: the blob was
	// altered or the key is wrong.
	ErrDecryptionIntegrity = errors.New("phi decrypt: integrity check failed")
	// ErrMalformedBlob means the blob is not shaped like our output.
	ErrMalformedBlob = errors.New("phi decrypt: malformed blob")
	// ErrInvalidKey is returned for unusable key material.
	ErrInvalidKey = errors.New("phi crypto: invalid key")
)

// Argon2Params tunes the passphrase KDF.
type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
}

// DefaultArgon2Params are the Argon2id settings used for PHI keys.
var DefaultArgon2Params = Argon2Params{
	Memory:      64 * 1024,
	Iterations:  3,
	Parallelism: 2,
}

// Key is a derived AES-256 key.
type Key [KeySize]byte

// DeriveKey stretches passphrase with Argon2id.
func DeriveKey(passphrase string, salt []byte) (Key, error) {
	return DeriveKeyWithParams(passphrase, salt, DefaultArgon2Params)
}

func DeriveKeyWithParams(passphrase string, salt []byte, p Argon2Params) (Key, error) {
	var key Key
	if passphrase == "" {
		return key, fmt.Errorf("%w: empty passphrase", ErrInvalidKey)
	}
	if len(salt) < MinSaltSize {
		return key, fmt.Errorf("%w: salt must be at least %d bytes, got %d", ErrInvalidKey, MinSaltSize, len(salt))
	}
	if p.Memory == 0 || p.Iterations == 0 || p.Parallelism == 0 {
		return key, fmt.Errorf("%w: argon2 parameters must be non-zero", ErrInvalidKey)
	}
	copy(key[:], argon2.IDKey([]byte(passphrase), salt, p.Iterations, p.Memory, p.Parallelism, KeySize))
	return key, nil
}

// KeyFromBytes wraps raw key material, for keys held in a secret store.
func KeyFromBytes(b []byte) (Key, error) {
	var key Key
	if len(b) != KeySize {
		return key, fmt.Errorf("%w: key must be %d bytes, got %d", ErrInvalidKey, KeySize, len(b))
	}
	copy(key[:], b)
	return key, nil
}

// EncryptedBlob is one sealed value. IV and Tag are kept apart from the
// ciphertext so each part can be stored or inspected on its own.
type EncryptedBlob struct {
	Ciphertext []byte
	IV         []byte
	AuthTag    []byte
}

// String renders the blob as "iv.tag.ciphertext" in unpadded base64url.
func (b *EncryptedBlob) String() string {
	enc := base64.RawURLEncoding
	return enc.EncodeToString(b.IV) + "." + enc.EncodeToString(b.AuthTag) + "." + enc.EncodeToString(b.Ciphertext)
}

// ParseBlob reverses EncryptedBlob.String.
func ParseBlob(s string) (*EncryptedBlob, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return nil, ErrMalformedBlob
	}
	enc := base64.RawURLEncoding
	iv, err := enc.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: iv: %v", ErrMalformedBlob, err)
	}
	tag, err := enc.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: tag: %v", ErrMalformedBlob, err)
	}
	ct, err := enc.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%w: ciphertext: %v", ErrMalformedBlob, err)
	}
	return &EncryptedBlob{Ciphertext: ct, IV: iv, AuthTag: tag}, nil
}

func newGCM(key Key) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("phi crypto: create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("phi crypto: create GCM: %w", err)
	}
	return aead, nil
}

// Encrypt seals plaintext under key with AES-256-GCM. Every call draws a
// fresh random IV.
func Encrypt(plaintext []byte, key Key) (*EncryptedBlob, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	iv := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("phi encrypt: generate iv: %w", err)
	}

	sealed := aead.Seal(nil, iv, plaintext, phiAAD)
	split := len(sealed) - TagSize
	return &EncryptedBlob{
		Ciphertext: sealed[:split:split],
		IV:         iv,
		AuthTag:    sealed[split:],
	}, nil
}

// Decrypt opens blob with key. Any tampering with the IV, tag or ciphertext,
// or a wrong key, yields ErrDecryptionIntegrity and no plaintext.
func Decrypt(blob *EncryptedBlob, key Key) ([]byte, error) {
	if blob == nil || len(blob.IV) != NonceSize || len(blob.AuthTag) != TagSize {
		return nil, ErrMalformedBlob
	}
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	sealed := make([]byte, 0, len(blob.Ciphertext)+TagSize)
	sealed = append(sealed, blob.Ciphertext...)
	sealed = append(sealed, blob.AuthTag...)

	plaintext, err := aead.Open(nil, blob.IV, sealed, phiAAD)
	if err != nil {
		return nil, ErrDecryptionIntegrity
	}
	return plaintext, nil
}

// PHIEncryptor seals string fields under one key.
type PHIEncryptor struct {
	key Key
}

func NewPHIEncryptor(key Key) *PHIEncryptor {
	return &PHIEncryptor{key: key}
}

// Encrypt returns the blob's string form.
func (e *PHIEncryptor) Encrypt(plaintext string) (string, error) {
	blob, err := Encrypt([]byte(plaintext), e.key)
	if err != nil {
		return "", err
	}
	return blob.String(), nil
}

func (e *PHIEncryptor) Decrypt(ciphertext string) (string, error) {
	blob, err := ParseBlob(ciphertext)
	if err != nil {
		return "", err
	}
	plaintext, err := Decrypt(blob, e.key)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
