package credstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/scrypt"
	"golang.org/x/text/unicode/norm"

	apperrors "github.com/alexjbarnes/authgate/internal/errors"
)

const (
	// scryptN is the CPU/memory cost parameter for scrypt key derivation.
	scryptN = 32768

	// scryptR is the block size parameter for scrypt key derivation.
	scryptR = 8

	// scryptP is the parallelization parameter for scrypt key derivation.
	scryptP = 1

	// scryptKeyLen is the derived key length in bytes.
	scryptKeyLen = 32
)

// DeriveKey derives a 32-byte encryption key from passphrase and salt
// using scrypt. Both inputs are normalized to NFKC before hashing so the
// same passphrase typed on different platforms derives the same key.
func DeriveKey(passphrase, salt string) ([]byte, error) {
	passphrase = norm.NFKC.String(passphrase)
	salt = norm.NFKC.String(salt)

	key, err := scrypt.Key([]byte(passphrase), []byte(salt), scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}

	return key, nil
}

// Sealed wraps another Store and encrypts values at rest with AES-GCM.
// Stored values are hex([12-byte nonce][ciphertext+GCM tag]); keys stay
// in the clear so the wrapped store remains inspectable.
type Sealed struct {
	inner Store
	gcm   cipher.AEAD
}

// NewSealed creates a sealing wrapper around inner using a 32-byte key,
// typically produced by DeriveKey.
func NewSealed(inner Store, key []byte) (*Sealed, error) {
	if len(key) != scryptKeyLen {
		return nil, apperrors.ErrBadKeyLength
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	return &Sealed{inner: inner, gcm: gcm}, nil
}

// Get reads and decrypts the value for key. A value that cannot be
// decoded or authenticated reports ErrSealedValue: the wrapped store was
// written with a different key or tampered with.
func (s *Sealed) Get(key string) (string, error) {
	sealed, err := s.inner.Get(key)
	if err != nil {
		return "", err
	}

	raw, err := hex.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperrors.ErrSealedValue, err)
	}

	nonceSize := s.gcm.NonceSize()
	if len(raw) < nonceSize {
		return "", apperrors.ErrSealedValue
	}

	plain, err := s.gcm.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperrors.ErrSealedValue, err)
	}

	return string(plain), nil
}

// Set encrypts the value with a random nonce and writes it to the
// wrapped store.
func (s *Sealed) Set(key, value string) error {
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generating nonce: %w", err)
	}

	sealed := s.gcm.Seal(nonce, nonce, []byte(value), nil)

	return s.inner.Set(key, hex.EncodeToString(sealed))
}

// Remove deletes the value from the wrapped store.
func (s *Sealed) Remove(key string) error {
	return s.inner.Remove(key)
}
