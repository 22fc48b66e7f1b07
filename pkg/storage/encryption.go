package storage

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// saltFileName holds the random salt next to the badger files.
	saltFileName = "encryption.salt"
	saltSize     = 16

	// KeyDerivationIterations is the PBKDF2 work factor.
	KeyDerivationIterations = 600000
)

// DeriveEncryptionKey turns a passphrase into a 32-byte AES-256 key for
// BadgerOptions.EncryptionKey.
func DeriveEncryptionKey(passphrase string, salt []byte) ([]byte, error) {
	if passphrase == "" {
		return nil, errors.New("encryption passphrase is empty")
	}
	if len(salt) == 0 {
		return nil, errors.New("encryption salt is empty")
	}
	return pbkdf2.Key([]byte(passphrase), salt, KeyDerivationIterations, 32, sha256.New), nil
}

// LoadOrCreateSalt returns the salt stored in dataDir, creating a random one on
// first use. The same salt must be used for every open of an encrypted store.
func LoadOrCreateSalt(dataDir string) ([]byte, error) {
	path := filepath.Join(dataDir, saltFileName)

	salt, err := os.ReadFile(path)
	if err == nil {
		if len(salt) != saltSize {
			return nil, fmt.Errorf("salt file %s is corrupt: %d bytes", path, len(salt))
		}
		return salt, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading salt: %w", err)
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	salt = make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}
	if err := os.WriteFile(path, salt, 0600); err != nil {
		return nil, fmt.Errorf("writing salt: %w", err)
	}
	return salt, nil
}
