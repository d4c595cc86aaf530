package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

const (
	sealSaltSize  = 16
	sealNonceSize = 12
)

// argon2id parameters for the at-rest sealing key. The identity document is
// small and rarely rewritten, so a memory-hard derivation is affordable.
const (
	sealTime    = 1
	sealMemory  = 64 * 1024
	sealThreads = 4
	sealKeyLen  = 32
)

// seal encrypts a document with a passphrase-derived key.
// Format: [16-byte salt][12-byte nonce][AES-GCM ciphertext].
func seal(passphrase string, plaintext []byte) ([]byte, error) {
	salt := make([]byte, sealSaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	aesGCM, err := sealCipher(passphrase, salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, sealNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := aesGCM.Seal(nil, nonce, plaintext, nil)

	result := make([]byte, 0, sealSaltSize+sealNonceSize+len(ciphertext))
	result = append(result, salt...)
	result = append(result, nonce...)
	result = append(result, ciphertext...)
	return result, nil
}

// open decrypts a document produced by seal. A wrong passphrase fails
// authentication and returns an error rather than garbage.
func open(passphrase string, sealed []byte) ([]byte, error) {
	if len(sealed) < sealSaltSize+sealNonceSize {
		return nil, errors.New("sealed document too short")
	}

	salt := sealed[:sealSaltSize]
	nonce := sealed[sealSaltSize : sealSaltSize+sealNonceSize]
	ciphertext := sealed[sealSaltSize+sealNonceSize:]

	aesGCM, err := sealCipher(passphrase, salt)
	if err != nil {
		return nil, err
	}

	plaintext, err := aesGCM.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to unseal document (wrong passphrase?): %w", err)
	}
	return plaintext, nil
}

func sealCipher(passphrase string, salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey([]byte(passphrase), salt, sealTime, sealMemory, sealThreads, sealKeyLen)

	aesBlock, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aesGCM, err := cipher.NewGCM(aesBlock)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aesGCM, nil
}
