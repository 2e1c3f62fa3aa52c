package crypto

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEncryptDecryptSecret(t *testing.T) {
	blob, err := EncryptSecret("s3cr3t-api-key", "hunter2")
	if err != nil {
		t.Fatalf("EncryptSecret: %v", err)
	}
	if strings.Contains(string(blob), "s3cr3t") {
		t.Fatal("plaintext leaked into the blob")
	}

	got, err := DecryptSecret(blob, "hunter2")
	if err != nil {
		t.Fatalf("DecryptSecret: %v", err)
	}
	if got != "s3cr3t-api-key" {
		t.Fatalf("got %q", got)
	}

	if _, err := DecryptSecret(blob, "wrong"); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("wrong password: err = %v, want ErrDecrypt", err)
	}
}

func TestDecryptSecretDetectsTampering(t *testing.T) {
	blob, err := EncryptSecret("key", "pw")
	if err != nil {
		t.Fatal(err)
	}
	var f secretFile
	if err := json.Unmarshal(blob, &f); err != nil {
		t.Fatal(err)
	}

	lowered := f
	lowered.Iterations = minIterations
	if _, err := DecryptSecret(mustJSON(t, lowered), "pw"); !errors.Is(err, ErrDecrypt) {
		t.Errorf("edited iterations: err = %v, want ErrDecrypt", err)
	}

	weak := f
	weak.Iterations = 1000
	if _, err := DecryptSecret(mustJSON(t, weak), "pw"); err == nil || !strings.Contains(err.Error(), "below the minimum") {
		t.Errorf("weak iterations: err = %v", err)
	}

	otherKDF := f
	otherKDF.KDF = "scrypt"
	if _, err := DecryptSecret(mustJSON(t, otherKDF), "pw"); err == nil || !strings.Contains(err.Error(), "kdf") {
		t.Errorf("unknown kdf: err = %v", err)
	}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestEncryptSecretRejectsEmptyInput(t *testing.T) {
	if _, err := EncryptSecret("x", ""); err == nil {
		t.Error("empty password accepted")
	}
	if _, err := EncryptSecret("", "pw"); err == nil {
		t.Error("empty secret accepted")
	}
}

func TestDecryptSecretBadVersion(t *testing.T) {
	if _, err := DecryptSecret([]byte(`{"version":7}`), "pw"); err == nil || !strings.Contains(err.Error(), "version 7") {
		t.Fatalf("err = %v", err)
	}
}

func TestLoadSecret(t *testing.T) {
	blob, err := EncryptSecret("from-file", "pw")
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "api_key.json")
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		cfg     SecretConfig
		want    string
		wantErr error
	}{
		{"raw wins", SecretConfig{Raw: " raw ", EncryptedPath: path, Password: "pw"}, "raw", nil},
		{"file", SecretConfig{EncryptedPath: path, Password: "pw"}, "from-file", nil},
		{"nothing", SecretConfig{}, "", ErrNoSecret},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LoadSecret(tt.cfg)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := LoadSecret(SecretConfig{EncryptedPath: filepath.Join(t.TempDir(), "missing")}); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}
