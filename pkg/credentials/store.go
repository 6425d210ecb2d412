// Package credentials resolves secrets the scorer needs at runtime:
// collaborator API keys and escalation tokens. Secrets come from
// environment variables, an encrypted key file, or both layered.
package credentials

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"
)

// ===== Well-Known Keys =====

// Keys under which the scorer looks up its secrets. Callers may store
// arbitrary additional keys, these are just the ones cmd/caserisk asks for.
const (
	KeyCaseStoreAPIKey = "casestore.api_key"
	KeyAnalyzerAPIKey  = "analyzer.api_key"
	KeyGitHubToken     = "escalation.github_token"
	KeyGitLabToken     = "escalation.gitlab_token"
)

// EnvKeySecret is the environment variable holding the base64-encoded
// AES key that protects an encrypted key file.
const EnvKeySecret = "CASERISK_KEY_FILE_SECRET"

// ===== Store Interface =====

// Store retrieves and persists named secrets.
type Store interface {
	// Get returns the secret stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) (*Secret, error)

	// Set stores a secret under key. Read-only stores return ErrReadOnly.
	Set(ctx context.Context, key string, sec *Secret) error

	// Delete removes the secret under key.
	Delete(ctx context.Context, key string) error

	// List returns all stored keys matching a prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Exists reports whether a secret is stored under key.
	Exists(ctx context.Context, key string) (bool, error)
}

// Secret is a stored secret value.
type Secret struct {
	Key       string            `json:"key"`
	Value     string            `json:"value"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// ===== Errors =====

var (
	ErrNotFound         = fmt.Errorf("secret not found")
	ErrReadOnly         = fmt.Errorf("store is read-only")
	ErrInvalidKey       = fmt.Errorf("invalid secret key")
	ErrEncryptionFailed = fmt.Errorf("encryption failed")
	ErrDecryptionFailed = fmt.Errorf("decryption failed")
)

// ===== Key Validation =====

// Keys are dotted identifiers; no path separators or traversal.
var keyPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// ValidateKey checks that a secret key is well-formed and safe to use
// as a lookup name.
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	if len(key) > 256 {
		return fmt.Errorf("%w: key too long (max 256 characters)", ErrInvalidKey)
	}
	if strings.Contains(key, "..") || strings.ContainsAny(key, `/\`) {
		return fmt.Errorf("%w: path traversal not allowed", ErrInvalidKey)
	}
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("%w: invalid characters in key", ErrInvalidKey)
	}
	return nil
}

// ===== Environment Store =====

// EnvStore reads secrets from environment variables. The lookup key is
// uppercased with dots and dashes mapped to underscores and the prefix
// prepended: "casestore.api_key" becomes CASERISK_CASESTORE_API_KEY.
type EnvStore struct {
	// Prefix is prepended to every derived variable name.
	Prefix string

	// Mapping overrides the derived name for specific keys.
	Mapping map[string]string
}

// DefaultEnvPrefix is the prefix EnvStore uses when none is given.
const DefaultEnvPrefix = "CASERISK_"

// NewEnvStore creates an environment-backed store. An empty prefix
// falls back to DefaultEnvPrefix.
func NewEnvStore(prefix string) *EnvStore {
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	return &EnvStore{Prefix: prefix, Mapping: make(map[string]string)}
}

func (s *EnvStore) envVar(key string) string {
	if mapped, ok := s.Mapping[key]; ok {
		return mapped
	}
	name := strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
	return s.Prefix + name
}

func (s *EnvStore) Get(ctx context.Context, key string) (*Secret, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	value := os.Getenv(s.envVar(key))
	if value == "" {
		return nil, ErrNotFound
	}
	now := time.Now()
	return &Secret{Key: key, Value: value, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *EnvStore) Set(ctx context.Context, key string, sec *Secret) error {
	return ErrReadOnly
}

func (s *EnvStore) Delete(ctx context.Context, key string) error {
	return ErrReadOnly
}

func (s *EnvStore) List(ctx context.Context, prefix string) ([]string, error) {
	searchPrefix := s.envVar(prefix)
	var keys []string
	for _, env := range os.Environ() {
		name, _, ok := strings.Cut(env, "=")
		if ok && strings.HasPrefix(name, searchPrefix) {
			keys = append(keys, name)
		}
	}
	return keys, nil
}

func (s *EnvStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}
	_, ok := os.LookupEnv(s.envVar(key))
	return ok, nil
}

// ===== Memory Store =====

// MemoryStore keeps secrets in process memory. Used in tests and as the
// write layer when no key file is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	secrets map[string]*Secret
}

// NewMemoryStore creates an empty in-memory secret store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{secrets: make(map[string]*Secret)}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (*Secret, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	sec, ok := s.secrets[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sec
	return &cp, nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, sec *Secret) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	sec.Key = key
	sec.UpdatedAt = now
	if sec.CreatedAt.IsZero() {
		sec.CreatedAt = now
	}
	cp := *sec
	s.secrets[key] = &cp
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sec, ok := s.secrets[key]
	if !ok {
		return ErrNotFound
	}
	Scrub(sec)
	delete(s.secrets, key)
	return nil
}

func (s *MemoryStore) List(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for key := range s.secrets {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (s *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.secrets[key]
	return ok, nil
}

// ===== Encryption =====

// Encryptor seals and opens the key file contents.
type Encryptor interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// AESEncryptor implements Encryptor using AES-GCM with a random nonce
// prepended to the ciphertext.
type AESEncryptor struct {
	key []byte
}

// NewAESEncryptor creates an AES-GCM encryptor. The key must be 16, 24,
// or 32 bytes.
func NewAESEncryptor(key []byte) (*AESEncryptor, error) {
	switch len(key) {
	case 16, 24, 32:
		return &AESEncryptor{key: key}, nil
	default:
		return nil, fmt.Errorf("invalid key size %d: must be 16, 24, or 32 bytes", len(key))
	}
}

// NewAESEncryptorFromEnv reads a base64-encoded AES key from the named
// environment variable.
func NewAESEncryptorFromEnv(envVar string) (*AESEncryptor, error) {
	keyStr := os.Getenv(envVar)
	if keyStr == "" {
		return nil, fmt.Errorf("encryption key not set in %s", envVar)
	}
	key, err := base64.StdEncoding.DecodeString(keyStr)
	if err != nil {
		return nil, fmt.Errorf("decode encryption key from %s: %w", envVar, err)
	}
	return NewAESEncryptor(key)
}

func (e *AESEncryptor) Encrypt(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (e *AESEncryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}
	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return plaintext, nil
}

// ===== Encrypted Key File =====

// KeyFileStore persists secrets as an AES-GCM encrypted JSON file.
// This backs the key_file setting in the collaborator configuration.
type KeyFileStore struct {
	mu        sync.RWMutex
	path      string
	encryptor Encryptor
	data      map[string]*Secret
}

// NewKeyFileStore opens (or will create on first Set) an encrypted key
// file at path.
func NewKeyFileStore(path string, encryptor Encryptor) (*KeyFileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("key file path is required")
	}
	if encryptor == nil {
		return nil, fmt.Errorf("encryptor is required")
	}
	store := &KeyFileStore{
		path:      path,
		encryptor: encryptor,
		data:      make(map[string]*Secret),
	}
	if _, err := os.Stat(path); err == nil {
		if err := store.load(); err != nil {
			return nil, fmt.Errorf("load key file %s: %w", path, err)
		}
	}
	return store, nil
}

func (s *KeyFileStore) load() error {
	ciphertext, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	plaintext, err := s.encryptor.Decrypt(ciphertext)
	if err != nil {
		return err
	}
	return json.Unmarshal(plaintext, &s.data)
}

func (s *KeyFileStore) save() error {
	plaintext, err := json.Marshal(s.data)
	if err != nil {
		return err
	}
	ciphertext, err := s.encryptor.Encrypt(plaintext)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, ciphertext, 0600)
}

func (s *KeyFileStore) Get(ctx context.Context, key string) (*Secret, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	sec, ok := s.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sec
	return &cp, nil
}

func (s *KeyFileStore) Set(ctx context.Context, key string, sec *Secret) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	sec.Key = key
	sec.UpdatedAt = now
	if sec.CreatedAt.IsZero() {
		sec.CreatedAt = now
	}
	cp := *sec
	s.data[key] = &cp
	return s.save()
}

func (s *KeyFileStore) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; !ok {
		return ErrNotFound
	}
	delete(s.data, key)
	return s.save()
}

func (s *KeyFileStore) List(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for key := range s.data {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (s *KeyFileStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[key]
	return ok, nil
}

// ===== Chained Store =====

// ChainedStore checks multiple stores in order on reads; the first hit
// wins. Writes go to the first store that accepts them.
type ChainedStore struct {
	stores []Store
}

// NewChainedStore layers stores, highest precedence first.
func NewChainedStore(stores ...Store) *ChainedStore {
	return &ChainedStore{stores: stores}
}

func (s *ChainedStore) Get(ctx context.Context, key string) (*Secret, error) {
	for _, store := range s.stores {
		sec, err := store.Get(ctx, key)
		if err == nil {
			return sec, nil
		}
		if err != ErrNotFound {
			return nil, err
		}
	}
	return nil, ErrNotFound
}

func (s *ChainedStore) Set(ctx context.Context, key string, sec *Secret) error {
	for _, store := range s.stores {
		err := store.Set(ctx, key, sec)
		if err == nil {
			return nil
		}
		if err != ErrReadOnly {
			return err
		}
	}
	return ErrReadOnly
}

func (s *ChainedStore) Delete(ctx context.Context, key string) error {
	for _, store := range s.stores {
		exists, err := store.Exists(ctx, key)
		if err != nil || !exists {
			continue
		}
		err = store.Delete(ctx, key)
		if err == nil {
			return nil
		}
		if err != ErrReadOnly {
			return err
		}
	}
	return ErrNotFound
}

func (s *ChainedStore) List(ctx context.Context, prefix string) ([]string, error) {
	seen := make(map[string]bool)
	var keys []string
	for _, store := range s.stores {
		storeKeys, err := store.List(ctx, prefix)
		if err != nil {
			continue
		}
		for _, key := range storeKeys {
			if !seen[key] {
				seen[key] = true
				keys = append(keys, key)
			}
		}
	}
	return keys, nil
}

func (s *ChainedStore) Exists(ctx context.Context, key string) (bool, error) {
	for _, store := range s.stores {
		exists, err := store.Exists(ctx, key)
		if err == nil && exists {
			return true, nil
		}
	}
	return false, nil
}

// ===== Resolution Helpers =====

// Open builds the secret resolution chain for the scorer: environment
// variables first, then the encrypted key file at keyFile if one is
// configured. The key file is decrypted with the AES key from
// CASERISK_KEY_FILE_SECRET.
func Open(keyFile string) (Store, error) {
	env := NewEnvStore(DefaultEnvPrefix)
	if keyFile == "" {
		return env, nil
	}
	enc, err := NewAESEncryptorFromEnv(EnvKeySecret)
	if err != nil {
		return nil, err
	}
	file, err := NewKeyFileStore(keyFile, enc)
	if err != nil {
		return nil, err
	}
	return NewChainedStore(env, file), nil
}

// Resolve returns inline when non-empty, otherwise looks key up in the
// store. A missing secret resolves to the empty string without error so
// unauthenticated collaborators keep working.
func Resolve(ctx context.Context, store Store, inline, key string) (string, error) {
	if inline != "" {
		return inline, nil
	}
	if store == nil {
		return "", nil
	}
	sec, err := store.Get(ctx, key)
	if err == ErrNotFound {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return sec.Value, nil
}

// ===== Secure Memory Operations =====

// Scrub overwrites a secret's sensitive fields. Best-effort only:
// string immutability means copies may survive elsewhere.
func Scrub(sec *Secret) {
	if sec == nil {
		return
	}
	sec.Value = ""
	sec.Key = ""
	sec.Metadata = nil
}

// SecureCompare compares two secret values in constant time.
func SecureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// ===== Interface Compliance =====

var (
	_ Store     = (*EnvStore)(nil)
	_ Store     = (*MemoryStore)(nil)
	_ Store     = (*KeyFileStore)(nil)
	_ Store     = (*ChainedStore)(nil)
	_ Encryptor = (*AESEncryptor)(nil)
)
