// Package crypto stores the marketplace secret key encrypted at rest and
// signs marketplace API requests with it.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	sealVersion      = 1
)

// sealedKey is the on-disk format of an encrypted secret key.
type sealedKey struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeySource describes where the marketplace secret key comes from. A raw
// key wins over an encrypted file.
type KeySource struct {
	RawSecretKey     string
	EncryptedKeyPath string
	KeyPassword      string
}

// ParseSecretKey decodes a hex ed25519 key. Both the 32-byte seed and the
// 64-byte seed+public form are accepted.
func ParseSecretKey(secretHex string) (ed25519.PrivateKey, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(secretHex))
	if err != nil {
		return nil, fmt.Errorf("crypto: secret key is not valid hex: %w", err)
	}
	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	default:
		return nil, fmt.Errorf("crypto: expected %d or %d byte secret key, got %d",
			ed25519.SeedSize, ed25519.PrivateKeySize, len(raw))
	}
}

// SealKey encrypts a hex secret key with a password (PBKDF2-SHA256 derived
// AES-256-GCM) and returns the JSON document to write to disk.
func SealKey(secretHex, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	key, err := ParseSecretKey(secretHex)
	if err != nil {
		return nil, err
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generating salt: %w", err)
	}
	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}

	return json.MarshalIndent(sealedKey{
		Version:    sealVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, key.Seed(), nil)),
	}, "", "  ")
}

// OpenKey decrypts a document produced by SealKey.
func OpenKey(sealed []byte, password string) (ed25519.PrivateKey, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	var doc sealedKey
	if err := json.Unmarshal(sealed, &doc); err != nil {
		return nil, fmt.Errorf("crypto: parsing sealed key: %w", err)
	}
	if doc.Version != sealVersion {
		return nil, fmt.Errorf("crypto: unsupported sealed key version %d", doc.Version)
	}

	var salt, nonce, ciphertext []byte
	for _, f := range []struct {
		name string
		in   string
		out  *[]byte
	}{
		{"salt", doc.Salt, &salt},
		{"nonce", doc.Nonce, &nonce},
		{"ciphertext", doc.Ciphertext, &ciphertext},
	} {
		b, err := base64.StdEncoding.DecodeString(f.in)
		if err != nil {
			return nil, fmt.Errorf("crypto: decoding %s: %w", f.name, err)
		}
		*f.out = b
	}

	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("crypto: nonce has %d bytes, want %d", len(nonce), gcm.NonceSize())
	}
	seed, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: decryption failed (wrong password?): %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("crypto: sealed key has %d bytes, want %d", len(seed), ed25519.SeedSize)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	derived := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}
	return gcm, nil
}

// LoadKey resolves the secret key from src.
func LoadKey(src KeySource) (ed25519.PrivateKey, error) {
	if src.RawSecretKey != "" {
		return ParseSecretKey(src.RawSecretKey)
	}
	if src.EncryptedKeyPath != "" {
		data, err := os.ReadFile(src.EncryptedKeyPath)
		if err != nil {
			return nil, fmt.Errorf("crypto: reading sealed key file: %w", err)
		}
		return OpenKey(data, src.KeyPassword)
	}
	return nil, errors.New("crypto: no secret key source configured (set secret_key or encrypted_key_path)")
}
