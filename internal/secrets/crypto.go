// Package secrets seals the daemon login credentials at rest. The blob lives
// under the state directory and is encrypted with a password-derived key, so
// a stolen state dir does not leak the account.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/scrypt"
)

// payloadVersion allows us to evolve the encryption format while remaining backward compatible.
const payloadVersion = 1

var (
	// ErrInvalidPassword is returned when the provided password cannot decrypt the payload.
	ErrInvalidPassword = errors.New("invalid password")
	// ErrInvalidPayload indicates the payload structure is malformed.
	ErrInvalidPayload = errors.New("invalid encrypted payload")
	// ErrNoCredentials is returned when no sealed credential file exists.
	ErrNoCredentials = errors.New("no sealed credentials")
)

// Credentials is the login material consumed by the authorization gate.
type Credentials struct {
	Phone    string `json:"phone"`
	Password string `json:"password,omitempty"`
}

// Payload represents encrypted data persisted to disk.
type Payload struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// Seal encrypts the given data using AES-256-GCM with a password-derived key.
func Seal(data []byte, password string) (*Payload, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}

	key, err := deriveKey(password, salt)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, data, nil)

	return &Payload{
		Version:    payloadVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}, nil
}

// Open decrypts the payload with the provided password.
func Open(payload *Payload, password string) ([]byte, error) {
	if payload == nil {
		return nil, ErrInvalidPayload
	}
	if payload.Version != payloadVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidPayload, payload.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(payload.Salt)
	if err != nil {
		return nil, fmt.Errorf("%w: decode salt: %v", ErrInvalidPayload, err)
	}
	nonce, err := base64.StdEncoding.DecodeString(payload.Nonce)
	if err != nil {
		return nil, fmt.Errorf("%w: decode nonce: %v", ErrInvalidPayload, err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(payload.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: decode ciphertext: %v", ErrInvalidPayload, err)
	}

	key, err := deriveKey(password, salt)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("%w: invalid nonce size", ErrInvalidPayload)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPassword, err)
	}
	return plaintext, nil
}

// SealCredentials writes the credential set encrypted to the given path (0600).
func SealCredentials(creds *Credentials, password, path string) error {
	if creds == nil {
		return fmt.Errorf("no credentials to seal")
	}

	plain, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}

	payload, err := Seal(plain, password)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create secrets directory: %w", err)
	}
	if err := os.WriteFile(path, raw, 0600); err != nil {
		return fmt.Errorf("write sealed credentials: %w", err)
	}
	return nil
}

// OpenCredentials reads and decrypts the credential set from the given path.
func OpenCredentials(path, password string) (*Credentials, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCredentials
		}
		return nil, fmt.Errorf("read sealed credentials: %w", err)
	}

	var payload Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: parse payload: %v", ErrInvalidPayload, err)
	}
	if payload.Version == 0 || payload.Salt == "" || payload.Nonce == "" || payload.Ciphertext == "" {
		return nil, ErrInvalidPayload
	}

	plain, err := Open(&payload, password)
	if err != nil {
		return nil, err
	}

	var creds Credentials
	if err := json.Unmarshal(plain, &creds); err != nil {
		return nil, fmt.Errorf("%w: parse credentials: %v", ErrInvalidPayload, err)
	}
	return &creds, nil
}

func deriveKey(password string, salt []byte) ([]byte, error) {
	key, err := scrypt.Key([]byte(password), salt, 1<<15, 8, 1, 32) // N=32768
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}
