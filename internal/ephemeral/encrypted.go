package ephemeral

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"

	"veriface/pkg/platform/sentinel"
)

// File layout: magic | nonce | ciphertext. The magic is bound as additional
// data so a truncated or foreign file fails authentication.
var encryptedMagic = []byte("VFE1")

var (
	ErrEncryptionUnavailable = fmt.Errorf("ephemeral: artifact encryption unavailable: %w", sentinel.ErrUnavailable)
	ErrDecrypt               = errors.New("ephemeral: artifact decryption failed")
	ErrSealed                = errors.New("ephemeral: encrypted file already sealed")
)

// EncryptedFileManager creates scoped files whose contents only reach disk
// encrypted with XChaCha20-Poly1305.
type EncryptedFileManager struct {
	store *Store
	key   []byte
}

// NewEncryptedFileManager checks the key up front so a misconfigured
// deployment fails at startup rather than on the first retained artifact.
func NewEncryptedFileManager(store *Store, key []byte) (*EncryptedFileManager, error) {
	if store == nil {
		return nil, errors.New("ephemeral store is required")
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes, got %d", ErrEncryptionUnavailable, chacha20poly1305.KeySize, len(key))
	}
	return &EncryptedFileManager{store: store, key: bytes.Clone(key)}, nil
}

// Create acquires a scoped file in dir. Nothing is written to it until Seal.
func (m *EncryptedFileManager) Create(dir, prefix, suffix string) (*EncryptedScopedFile, error) {
	f, err := m.store.AcquireScopedFile(dir, prefix, suffix)
	if err != nil {
		return nil, err
	}
	return &EncryptedScopedFile{file: f, key: m.key}, nil
}

// ReadFile decrypts an artifact written by an EncryptedScopedFile.
func (m *EncryptedFileManager) ReadFile(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return open(m.key, raw)
}

// EncryptedScopedFile buffers plaintext in memory and writes it encrypted on
// Seal. Release wipes both the buffer and the file.
type EncryptedScopedFile struct {
	mu     sync.Mutex
	file   *ScopedFile
	key    []byte
	plain  []byte
	sealed bool
}

// Path returns the file's location on disk.
func (f *EncryptedScopedFile) Path() string { return f.file.Path() }

// Grow reserves room for n more plaintext bytes so later writes do not move
// the buffer.
func (f *EncryptedScopedFile) Grow(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sealed || n <= 0 || len(f.plain)+n <= cap(f.plain) {
		return
	}
	grown := make([]byte, len(f.plain), len(f.plain)+n)
	copy(grown, f.plain)
	clear(f.plain[:cap(f.plain)])
	f.plain = grown
}

// Write appends p to the plaintext buffer. Growing zeroes the old array.
func (f *EncryptedScopedFile) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sealed {
		return 0, ErrSealed
	}
	f.plain = appendWiped(f.plain, p)
	return len(p), nil
}

// Seal encrypts the buffered plaintext under a fresh nonce, writes it and
// zeroes the buffer. Further writes fail with ErrSealed.
func (f *EncryptedScopedFile) Seal() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sealed {
		return ErrSealed
	}
	f.sealed = true
	defer f.zero()

	aead, err := chacha20poly1305.NewX(f.key)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncryptionUnavailable, err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	out := make([]byte, 0, len(encryptedMagic)+len(nonce)+len(f.plain)+aead.Overhead())
	out = append(out, encryptedMagic...)
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, f.plain, encryptedMagic)
	return f.file.WriteAll(out)
}

// Detach seals if needed and hands the file to the caller without wiping it.
func (f *EncryptedScopedFile) Detach() (string, error) {
	f.mu.Lock()
	sealed := f.sealed
	f.mu.Unlock()
	if !sealed {
		if err := f.Seal(); err != nil {
			return "", err
		}
	}
	return f.file.Detach()
}

// Release zeroes the buffer and wipes the file.
func (f *EncryptedScopedFile) Release() error {
	f.mu.Lock()
	f.zero()
	f.sealed = true
	f.mu.Unlock()
	return f.file.Release()
}

func (f *EncryptedScopedFile) zero() {
	clear(f.plain[:cap(f.plain)])
	f.plain = nil
}

func open(key, raw []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionUnavailable, err)
	}
	head := len(encryptedMagic) + aead.NonceSize()
	if len(raw) < head+aead.Overhead() || !bytes.Equal(raw[:len(encryptedMagic)], encryptedMagic) {
		return nil, ErrDecrypt
	}
	nonce := raw[len(encryptedMagic):head]
	plain, err := aead.Open(nil, nonce, raw[head:], encryptedMagic)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plain, nil
}
