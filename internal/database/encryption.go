package database

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"os"

	"supportchat/internal/constants"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// EnvEnableEncryption turns on field encryption when set to "true"
	EnvEnableEncryption = "SUPPORTCHAT_ENABLE_ENCRYPTION"
	// EnvEncryptionSecret is the passphrase the AES key is derived from
	EnvEncryptionSecret = "SUPPORTCHAT_ENCRYPTION_SECRET"
)

// AES-256-GCM over a PBKDF2-derived key
const (
	keySize          = 32
	nonceSize        = 12
	pbkdf2Iterations = 100000
)

type encryptor struct {
	gcm cipher.AEAD
}

// NewEncryptor builds the field encryptor. It is a pass-through when
// encryption is disabled.
func NewEncryptor() (*encryptor, error) {
	if !isEncryptionEnabled() {
		return &encryptor{gcm: nil}, nil
	}

	key, err := deriveKey()
	if err != nil {
		return nil, fmt.Errorf("failed to derive encryption key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &encryptor{gcm: gcm}, nil
}

// Enabled reports whether values are actually encrypted
func (e *encryptor) Enabled() bool {
	return e.gcm != nil
}

func (e *encryptor) Encrypt(plaintext string) (string, error) {
	if plaintext == "" || e.gcm == nil {
		return plaintext, nil
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := e.gcm.Seal(nil, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(append(nonce, ciphertext...)), nil
}

func (e *encryptor) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" || e.gcm == nil {
		return ciphertext, nil
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}

	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, sealed := data[:nonceSize], data[nonceSize:]
	plaintext, err := e.gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}

	return string(plaintext), nil
}

// LookupKey returns a deterministic value for indexed columns. With
// encryption disabled it is a salted SHA-256 so raw identifiers never
// become index keys.
func (e *encryptor) LookupKey(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	if e.gcm == nil {
		sum := sha256.Sum256([]byte(plaintext + constants.EncryptionLookupSalt))
		return base64.RawURLEncoding.EncodeToString(sum[:]), nil
	}
	return e.EncryptForLookup(plaintext)
}

// EncryptForLookup creates deterministic encryption for database lookups
// #nosec G407 - deterministic nonce derived from the plaintext
func (e *encryptor) EncryptForLookup(plaintext string) (string, error) {
	if plaintext == "" || e.gcm == nil {
		return plaintext, nil
	}

	hash := sha256.Sum256([]byte(plaintext + constants.EncryptionLookupSalt))
	nonce := hash[:nonceSize]

	ciphertext := e.gcm.Seal(nil, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(append(nonce, ciphertext...)), nil
}

func deriveKey() ([]byte, error) {
	secret := os.Getenv(EnvEncryptionSecret)
	if secret == "" {
		return nil, fmt.Errorf("%s environment variable is required when encryption is enabled", EnvEncryptionSecret)
	}

	if len(secret) < 32 {
		return nil, fmt.Errorf("encryption secret must be at least 32 characters long")
	}

	return pbkdf2.Key([]byte(secret), []byte(constants.EncryptionSalt), pbkdf2Iterations, keySize, sha256.New), nil
}

func isEncryptionEnabled() bool {
	return os.Getenv(EnvEnableEncryption) == "true"
}
