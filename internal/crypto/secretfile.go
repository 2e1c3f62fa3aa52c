// Package crypto encrypts small secrets, such as the API key, for storage
// on disk.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	formatVersion = 1
	kdfName       = "pbkdf2-sha256"

	// DefaultIterations is the PBKDF2 cost EncryptSecret uses.
	DefaultIterations = 600_000
	// minIterations is the lowest cost DecryptSecret accepts.
	minIterations = 100_000

	saltLen = 16
	keyLen  = 32
)

var (
	// ErrNoSecret is returned by LoadSecret when no source is configured.
	ErrNoSecret = errors.New("crypto: no secret configured")
	// ErrDecrypt means the password is wrong or the file was altered.
	ErrDecrypt = errors.New("crypto: wrong password or corrupted secret")
)

var b64 = base64.RawStdEncoding

// secretFile is the on-disk form. Salt, nonce and ciphertext are unpadded
// base64. The header fields are bound to the ciphertext as associated data,
// so editing the cost or salt makes decryption fail.
type secretFile struct {
	Version    int    `json:"version"`
	KDF        string `json:"kdf"`
	Iterations int    `json:"iterations"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

func (f secretFile) associatedData() []byte {
	return []byte(strings.Join([]string{
		"lastvalue-secret", strconv.Itoa(f.Version), f.KDF, strconv.Itoa(f.Iterations), f.Salt,
	}, "|"))
}

// SecretConfig says where LoadSecret finds a secret.
type SecretConfig struct {
	// Raw is used as-is when non-empty.
	Raw string
	// EncryptedPath is a file produced by EncryptSecret, opened with Password.
	EncryptedPath string
	Password      string
}

func newAEAD(password string, salt []byte, iterations int) (cipher.AEAD, error) {
	block, err := aes.NewCipher(pbkdf2.Key([]byte(password), salt, iterations, keyLen, sha256.New))
	if err != nil {
		return nil, fmt.Errorf("crypto: cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: gcm: %w", err)
	}
	return aead, nil
}

// EncryptSecret seals secret under a key derived from password and returns
// the JSON file contents.
func EncryptSecret(secret, password string) ([]byte, error) {
	switch {
	case password == "":
		return nil, errors.New("crypto: password must not be empty")
	case secret == "":
		return nil, errors.New("crypto: secret must not be empty")
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: salt: %w", err)
	}
	aead, err := newAEAD(password, salt, DefaultIterations)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: nonce: %w", err)
	}

	f := secretFile{
		Version:    formatVersion,
		KDF:        kdfName,
		Iterations: DefaultIterations,
		Salt:       b64.EncodeToString(salt),
		Nonce:      b64.EncodeToString(nonce),
	}
	f.Ciphertext = b64.EncodeToString(aead.Seal(nil, nonce, []byte(secret), f.associatedData()))
	return json.MarshalIndent(f, "", "  ")
}

// DecryptSecret opens file contents written by EncryptSecret. A wrong
// password or a tampered file yields ErrDecrypt.
func DecryptSecret(data []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto: password must not be empty")
	}
	var f secretFile
	if err := json.Unmarshal(data, &f); err != nil {
		return "", fmt.Errorf("crypto: parse secret file: %w", err)
	}
	switch {
	case f.Version != formatVersion:
		return "", fmt.Errorf("crypto: unsupported version %d", f.Version)
	case f.KDF != kdfName:
		return "", fmt.Errorf("crypto: unsupported kdf %q", f.KDF)
	case f.Iterations < minIterations:
		return "", fmt.Errorf("crypto: %d iterations is below the minimum of %d", f.Iterations, minIterations)
	}

	var salt, nonce, sealed []byte
	for _, field := range []struct {
		name string
		in   string
		out  *[]byte
	}{{"salt", f.Salt, &salt}, {"nonce", f.Nonce, &nonce}, {"ciphertext", f.Ciphertext, &sealed}} {
		b, err := b64.DecodeString(field.in)
		if err != nil {
			return "", fmt.Errorf("crypto: decode %s: %w", field.name, err)
		}
		*field.out = b
	}

	aead, err := newAEAD(password, salt, f.Iterations)
	if err != nil {
		return "", err
	}
	if len(nonce) != aead.NonceSize() {
		return "", fmt.Errorf("crypto: nonce is %d bytes, want %d", len(nonce), aead.NonceSize())
	}
	plain, err := aead.Open(nil, nonce, sealed, f.associatedData())
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plain), nil
}

// LoadSecret resolves a secret: Raw wins, then the encrypted file. It
// returns ErrNoSecret when neither is set.
func LoadSecret(cfg SecretConfig) (string, error) {
	if s := strings.TrimSpace(cfg.Raw); s != "" {
		return s, nil
	}
	if cfg.EncryptedPath == "" {
		return "", ErrNoSecret
	}
	data, err := os.ReadFile(cfg.EncryptedPath)
	if err != nil {
		return "", fmt.Errorf("crypto: read secret file: %w", err)
	}
	return DecryptSecret(data, cfg.Password)
}
