// Package credstore persists small secrets such as the enrollment API key.
package credstore

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keyFile     = "store.key"
	secretsFile = "secrets.box"

	keySize   = 32
	nonceSize = 24
)

// ErrCorrupt is returned when the sealed document cannot be opened with the stored key.
var ErrCorrupt = errors.New("credential store is corrupt or was sealed with another key")

// Store is a key/value credential store. Absence is reported as ("", false, nil).
type Store interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
}

// MemoryStore keeps credentials in memory only.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

func (m *MemoryStore) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemoryStore) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *MemoryStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// FileStore keeps all credentials in one JSON document sealed with NaCl
// secretbox. The 32-byte key lives next to it and is created on first write.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore returns a store rooted at dir. Nothing is created until the first Set.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// DefaultDir is the per-user directory used when none is configured.
func DefaultDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate user config dir: %w", err)
	}
	return filepath.Join(base, "blinkup", "credentials"), nil
}

func (f *FileStore) Get(key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := f.load()
	if err != nil {
		return "", false, err
	}
	v, ok := data[key]
	return v, ok, nil
}

func (f *FileStore) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := f.load()
	if err != nil {
		return err
	}
	data[key] = value
	return f.save(data)
}

func (f *FileStore) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := f.load()
	if err != nil {
		return err
	}
	if _, ok := data[key]; !ok {
		return nil
	}
	delete(data, key)
	return f.save(data)
}

func (f *FileStore) load() (map[string]string, error) {
	sealed, err := os.ReadFile(filepath.Join(f.dir, secretsFile))
	if errors.Is(err, os.ErrNotExist) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	key, err := f.key(false)
	if err != nil {
		return nil, err
	}
	if len(sealed) < nonceSize+secretbox.Overhead {
		return nil, ErrCorrupt
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, key)
	if !ok {
		return nil, ErrCorrupt
	}

	data := make(map[string]string)
	if err := json.Unmarshal(plain, &data); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return data, nil
}

func (f *FileStore) save(data map[string]string) error {
	if err := os.MkdirAll(f.dir, 0o700); err != nil {
		return fmt.Errorf("create credential dir: %w", err)
	}
	key, err := f.key(true)
	if err != nil {
		return err
	}

	plain, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], plain, &nonce, key)

	tmp := filepath.Join(f.dir, secretsFile+".tmp")
	if err := os.WriteFile(tmp, sealed, 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(f.dir, secretsFile)); err != nil {
		return fmt.Errorf("replace credentials: %w", err)
	}
	return nil
}

// key loads the sealing key, generating it when create is set and none exists.
func (f *FileStore) key(create bool) (*[keySize]byte, error) {
	path := filepath.Join(f.dir, keyFile)
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if len(raw) != keySize {
			return nil, fmt.Errorf("%w: key file has %d bytes", ErrCorrupt, len(raw))
		}
		var key [keySize]byte
		copy(key[:], raw)
		return &key, nil
	case errors.Is(err, os.ErrNotExist) && create:
		var key [keySize]byte
		if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
			return nil, fmt.Errorf("generate key: %w", err)
		}
		if err := os.WriteFile(path, key[:], 0o600); err != nil {
			return nil, fmt.Errorf("write key: %w", err)
		}
		return &key, nil
	case errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("%w: key file missing", ErrCorrupt)
	default:
		return nil, fmt.Errorf("read key: %w", err)
	}
}
