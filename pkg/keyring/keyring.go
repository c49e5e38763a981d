// Package keyring resolves database credentials kept out of configuration
// files. A config value of the form "keyring:service/user" is looked up in
// the system keyring, or in an encrypted file on hosts without one.
package keyring

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/zalando/go-keyring"
)

// ReferencePrefix marks a config value that names a keyring entry.
const ReferencePrefix = "keyring:"

const (
	checkService = "quickdb-check"
	checkUser    = "check"
	checkTimeout = 5 * time.Second
)

var (
	ErrNotFound         = errors.New("secret not found")
	ErrInvalidReference = errors.New("invalid keyring reference")
)

// Store reads and writes secrets in the system keyring or, when that is
// unavailable, in an AES-GCM encrypted file.
type Store struct {
	file *fileStore
}

// NewStore checks the system keyring and falls back to the file at path.
func NewStore(path, masterPassword string) *Store {
	done := make(chan error, 1)
	go func() {
		err := keyring.Set(checkService, checkUser, "ok")
		if err == nil {
			_ = keyring.Delete(checkService, checkUser)
		}
		done <- err
	}()

	select {
	case err := <-done:
		if err == nil {
			return NewSystemStore()
		}
	case <-time.After(checkTimeout):
	}
	return NewFileStore(path, masterPassword)
}

// NewSystemStore uses the OS keyring only.
func NewSystemStore() *Store {
	return &Store{}
}

// NewFileStore uses an encrypted file only.
func NewFileStore(path, masterPassword string) *Store {
	key := sha256.Sum256([]byte(masterPassword))
	return &Store{file: &fileStore{path: path, key: key[:]}}
}

// UsesFile reports whether secrets are kept in the fallback file.
func (s *Store) UsesFile() bool {
	return s.file != nil
}

func (s *Store) Set(service, user, secret string) error {
	if s.file != nil {
		return s.file.set(service, user, secret)
	}
	return keyring.Set(service, user, secret)
}

func (s *Store) Get(service, user string) (string, error) {
	if s.file != nil {
		return s.file.get(service, user)
	}
	secret, err := keyring.Get(service, user)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", fmt.Errorf("%w: %s/%s", ErrNotFound, service, user)
	}
	return secret, err
}

func (s *Store) Delete(service, user string) error {
	if s.file != nil {
		return s.file.delete(service, user)
	}
	err := keyring.Delete(service, user)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}

// Resolve returns value unchanged unless it is a keyring reference, in
// which case the referenced secret is returned.
func (s *Store) Resolve(value string) (string, error) {
	if !IsReference(value) {
		return value, nil
	}
	service, user, err := ParseReference(value)
	if err != nil {
		return "", err
	}
	secret, err := s.Get(service, user)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", value, err)
	}
	return secret, nil
}

// IsReference reports whether value names a keyring entry.
func IsReference(value string) bool {
	return strings.HasPrefix(value, ReferencePrefix)
}

// ParseReference splits "keyring:service/user".
func ParseReference(value string) (service, user string, err error) {
	rest, ok := strings.CutPrefix(value, ReferencePrefix)
	if !ok {
		return "", "", fmt.Errorf("%w: missing %q prefix", ErrInvalidReference, ReferencePrefix)
	}
	service, user, ok = strings.Cut(rest, "/")
	if !ok || service == "" || user == "" {
		return "", "", fmt.Errorf("%w: expected %sservice/user, got %q", ErrInvalidReference, ReferencePrefix, value)
	}
	return service, user, nil
}

// DefaultPath returns the fallback file location, overridable with
// QUICKDB_KEYRING_PATH.
func DefaultPath() string {
	if path := os.Getenv("QUICKDB_KEYRING_PATH"); path != "" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "quickdb-keyring.json")
	}
	return filepath.Join(home, ".local", "share", "quickdb", "keyring.json")
}

// MasterPasswordFromEnv returns QUICKDB_KEYRING_PASSWORD.
func MasterPasswordFromEnv() string {
	return os.Getenv("QUICKDB_KEYRING_PASSWORD")
}

type fileEntry struct {
	Service string `json:"service"`
	User    string `json:"user"`
	Data    string `json:"data"`
}

type fileStore struct {
	mu   sync.Mutex
	path string
	key  []byte
}

func entryKey(service, user string) string {
	return service + "/" + user
}

func (f *fileStore) load() (map[string]fileEntry, error) {
	entries := make(map[string]fileEntry)
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return entries, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("corrupt keyring file %s: %w", f.path, err)
	}
	return entries, nil
}

func (f *fileStore) save(entries map[string]fileEntry) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return err
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, data, 0o600)
}

func (f *fileStore) set(service, user, secret string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := f.load()
	if err != nil {
		return err
	}
	sealed, err := f.seal(secret)
	if err != nil {
		return err
	}
	entries[entryKey(service, user)] = fileEntry{Service: service, User: user, Data: sealed}
	return f.save(entries)
}

func (f *fileStore) get(service, user string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := f.load()
	if err != nil {
		return "", err
	}
	entry, ok := entries[entryKey(service, user)]
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", ErrNotFound, service, user)
	}
	return f.open(entry.Data)
}

func (f *fileStore) delete(service, user string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := f.load()
	if err != nil {
		return err
	}
	k := entryKey(service, user)
	if _, ok := entries[k]; !ok {
		return nil
	}
	delete(entries, k)
	return f.save(entries)
}

func (f *fileStore) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(f.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func (f *fileStore) seal(plaintext string) (string, error) {
	gcm, err := f.gcm()
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(gcm.Seal(nonce, nonce, []byte(plaintext), nil)), nil
}

func (f *fileStore) open(sealed string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", err
	}
	gcm, err := f.gcm()
	if err != nil {
		return "", err
	}
	if len(data) < gcm.NonceSize() {
		return "", fmt.Errorf("keyring entry too short")
	}
	nonce, ciphertext := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt keyring entry: %w", err)
	}
	return string(plaintext), nil
}
