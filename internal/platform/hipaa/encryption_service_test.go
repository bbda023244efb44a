package hipaa

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/ehr/surgery-scheduler/internal/platform/telemetry"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func newTestService(t *testing.T) *EncryptionService {
	t.Helper()
	svc, err := NewEncryptionService(EncryptionConfig{
		Passphrase: "correct horse battery staple",
		Salt:       testSalt,
		KeyVersion: 1,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEncryptionService: %v", err)
	}
	return svc
}

func TestNewEncryptionService(t *testing.T) {
	t.Run("enabled", func(t *testing.T) {
		svc := newTestService(t)
		if !svc.IsEnabled() {
			t.Error("expected encryption enabled")
		}
		if svc.CurrentVersion() != 1 {
			t.Errorf("expected version 1, got %d", svc.CurrentVersion())
		}
		if svc.Encryptor() == nil {
			t.Error("expected non-nil encryptor")
		}
	})

	t.Run("empty passphrase rejected", func(t *testing.T) {
		if _, err := NewEncryptionService(EncryptionConfig{Salt: testSalt}, zerolog.Nop()); err == nil {
			t.Fatal("expected error for empty passphrase")
		}
	})

	t.Run("short salt rejected", func(t *testing.T) {
		_, err := NewEncryptionService(EncryptionConfig{Passphrase: "pw", Salt: []byte("short")}, zerolog.Nop())
		if !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("expected ErrInvalidKey, got %v", err)
		}
	})

	t.Run("disabled when allowed", func(t *testing.T) {
		var buf bytes.Buffer
		svc, err := NewEncryptionService(EncryptionConfig{AllowDisabled: true}, zerolog.New(&buf))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if svc.IsEnabled() || svc.CurrentVersion() != 0 || svc.Encryptor() != nil {
			t.Error("expected disabled service")
		}
		if !strings.Contains(buf.String(), "PHI encryption disabled") {
			t.Errorf("expected warning log, got %q", buf.String())
		}
	})
}

func TestEncryptDecryptField_RoundTrip(t *testing.T) {
	svc := newTestService(t)

	for _, v := range []string{"", "123-45-6789", "1 Main St, Springfield"} {
		ct, err := svc.EncryptField(v)
		if err != nil {
			t.Fatalf("encrypt %q: %v", v, err)
		}
		if v != "" && strings.Contains(ct, v) {
			t.Errorf("plaintext visible in %q", ct)
		}
		pt, err := svc.DecryptField(ct)
		if err != nil {
			t.Fatalf("decrypt: %v", err)
		}
		if pt != v {
			t.Errorf("expected %q, got %q", v, pt)
		}
	}
}

func TestDecryptField_FailureCountedAndLoggedWithoutCiphertext(t *testing.T) {
	var buf bytes.Buffer
	svc, err := NewEncryptionService(EncryptionConfig{
		Passphrase: "correct horse battery staple",
		Salt:       testSalt,
	}, zerolog.New(&buf))
	if err != nil {
		t.Fatalf("NewEncryptionService: %v", err)
	}

	ct, _ := svc.EncryptField("123-45-6789")
	blob, err := ParseBlob(strings.TrimPrefix(ct, "v1:"))
	if err != nil {
		t.Fatalf("ParseBlob: %v", err)
	}
	blob.Ciphertext[0] ^= 0xff
	tampered := "v1:" + blob.String()

	before := testutil.ToFloat64(telemetry.DecryptFailures("integrity"))
	if _, err := svc.DecryptField(tampered); !errors.Is(err, ErrDecryptionIntegrity) {
		t.Fatalf("expected ErrDecryptionIntegrity, got %v", err)
	}
	if got := testutil.ToFloat64(telemetry.DecryptFailures("integrity")); got != before+1 {
		t.Errorf("expected integrity failure counter to increase, got %v", got)
	}
	if strings.Contains(buf.String(), tampered) {
		t.Error("ciphertext written to log")
	}
	if !strings.Contains(buf.String(), `"reason":"integrity"`) {
		t.Errorf("expected reason in log, got %q", buf.String())
	}
}

func TestDisabledMode_ReturnsValuesUnchanged(t *testing.T) {
	svc, err := NewEncryptionService(EncryptionConfig{AllowDisabled: true}, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ct, _ := svc.EncryptField("123-45-6789")
	if ct != "123-45-6789" {
		t.Errorf("expected pass-through, got %q", ct)
	}
	pt, _ := svc.DecryptField("anything")
	if pt != "anything" {
		t.Errorf("expected pass-through, got %q", pt)
	}
	if svc.NeedsReEncryption("anything") {
		t.Error("disabled service should never need re-encryption")
	}
	if err := svc.AddPreviousKey("old", testSalt, 1); err == nil {
		t.Error("expected error adding key to disabled service")
	}
}

func TestEncryptionService_Rotation(t *testing.T) {
	old, err := NewEncryptionService(EncryptionConfig{Passphrase: "old passphrase", Salt: testSalt, KeyVersion: 1}, zerolog.Nop())
	if err != nil {
		t.Fatalf("old service: %v", err)
	}
	oldCT, _ := old.EncryptField("Jane Doe")

	svc, err := NewEncryptionService(EncryptionConfig{Passphrase: "new passphrase", Salt: testSalt, KeyVersion: 2}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if err := svc.AddPreviousKey("old passphrase", testSalt, 1); err != nil {
		t.Fatalf("AddPreviousKey: %v", err)
	}

	if !svc.NeedsReEncryption(oldCT) {
		t.Error("expected v1 value to need re-encryption")
	}
	newCT, err := svc.ReEncrypt(oldCT)
	if err != nil {
		t.Fatalf("re-encrypt: %v", err)
	}
	if !strings.HasPrefix(newCT, "v2:") {
		t.Errorf("expected v2 prefix, got %q", newCT)
	}
	pt, _ := svc.DecryptField(newCT)
	if pt != "Jane Doe" {
		t.Errorf("expected Jane Doe, got %q", pt)
	}
}

func TestEncryptRecord(t *testing.T) {
	svc := newTestService(t)

	record := map[string]string{
		"first_name": "Jane",
		"ssn":        "123-45-6789",
		"phone":      "555-867-5309",
		"notes":      "",
	}
	sealed, err := svc.EncryptRecord("patients", record)
	if err != nil {
		t.Fatalf("EncryptRecord: %v", err)
	}
	if sealed["first_name"] != "Jane" {
		t.Errorf("non-PHI field changed: %q", sealed["first_name"])
	}
	if sealed["ssn"] == record["ssn"] || sealed["phone"] == record["phone"] {
		t.Error("expected PHI fields to be encrypted")
	}
	if sealed["notes"] != "" {
		t.Error("empty PHI field should stay empty")
	}

	opened, err := svc.DecryptRecord("patients", sealed)
	if err != nil {
		t.Fatalf("DecryptRecord: %v", err)
	}
	for k, v := range record {
		if opened[k] != v {
			t.Errorf("%s: expected %q, got %q", k, v, opened[k])
		}
	}
}
