// Package secrets keeps model API keys encrypted at rest, one per endpoint
// host, so they need not live in the environment or a .env file.
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
	"sort"
	"strings"
	"sync"

	"glossa/internal/fsutil"
)

const (
	schemaVersion = 1
	keyBytes      = 32
	secretsFile   = "secrets.enc"
	masterKeyFile = "master.key"
)

var ErrInvalidMasterKey = errors.New("invalid master key length")

// Keyring is safe for concurrent use within one process.
type Keyring struct {
	secretsPath string
	keyPath     string
	mu          sync.Mutex
}

type contents struct {
	SchemaVersion int `json:"schema_version"`
	// Keys maps a lower-cased endpoint host to its API key.
	Keys map[string]string `json:"keys"`
}

type encryptedPayload struct {
	SchemaVersion int    `json:"schema_version"`
	Nonce         string `json:"nonce"`
	Ciphertext    string `json:"ciphertext"`
}

func New(secretsPath, keyPath string) *Keyring {
	return &Keyring{secretsPath: secretsPath, keyPath: keyPath}
}

// InDir places the encrypted file and its master key inside dir.
func InDir(dir string) *Keyring {
	return New(filepath.Join(dir, secretsFile), filepath.Join(dir, masterKeyFile))
}

func normalizeHost(host string) string {
	return strings.ToLower(strings.TrimSpace(host))
}

// Get returns the key stored for host, or "".
func (k *Keyring) Get(host string) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	c, err := k.load()
	if err != nil {
		return "", err
	}
	return c.Keys[normalizeHost(host)], nil
}

func (k *Keyring) Set(host, apiKey string) error {
	host = normalizeHost(host)
	if host == "" {
		return errors.New("secrets: host is required")
	}
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return errors.New("secrets: api key is empty")
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	c, err := k.load()
	if err != nil {
		return err
	}
	c.Keys[host] = apiKey
	return k.save(c)
}

// Clear removes the key for host and reports whether one was stored.
func (k *Keyring) Clear(host string) (bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	c, err := k.load()
	if err != nil {
		return false, err
	}
	host = normalizeHost(host)
	if _, ok := c.Keys[host]; !ok {
		return false, nil
	}
	delete(c.Keys, host)
	return true, k.save(c)
}

// Hosts lists hosts with a stored key, sorted.
func (k *Keyring) Hosts() ([]string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	c, err := k.load()
	if err != nil {
		return nil, err
	}
	hosts := make([]string, 0, len(c.Keys))
	for host := range c.Keys {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)
	return hosts, nil
}

func (k *Keyring) load() (*contents, error) {
	data, err := os.ReadFile(k.secretsPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &contents{SchemaVersion: schemaVersion, Keys: map[string]string{}}, nil
		}
		return nil, err
	}
	var payload encryptedPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("secrets: decode %s: %w", k.secretsPath, err)
	}
	gcm, err := k.cipher()
	if err != nil {
		return nil, err
	}
	nonce, err := base64.StdEncoding.DecodeString(payload.Nonce)
	if err != nil {
		return nil, err
	}
	ciphertext, err := base64.StdEncoding.DecodeString(payload.Ciphertext)
	if err != nil {
		return nil, err
	}
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("secrets: decrypt %s: %w", k.secretsPath, err)
	}
	var c contents
	if err := json.Unmarshal(plain, &c); err != nil {
		return nil, err
	}
	if c.SchemaVersion == 0 {
		c.SchemaVersion = schemaVersion
	}
	if c.Keys == nil {
		c.Keys = map[string]string{}
	}
	return &c, nil
}

func (k *Keyring) save(c *contents) error {
	gcm, err := k.cipher()
	if err != nil {
		return err
	}
	plain, err := json.Marshal(c)
	if err != nil {
		return err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return err
	}
	encoded, err := json.MarshalIndent(encryptedPayload{
		SchemaVersion: schemaVersion,
		Nonce:         base64.StdEncoding.EncodeToString(nonce),
		Ciphertext:    base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, plain, nil)),
	}, "", "  ")
	if err != nil {
		return err
	}
	return fsutil.AtomicWrite(k.secretsPath, encoded)
}

func (k *Keyring) cipher() (cipher.AEAD, error) {
	key, err := k.loadOrCreateKey()
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func (k *Keyring) loadOrCreateKey() ([]byte, error) {
	key, err := os.ReadFile(k.keyPath)
	if err == nil {
		if len(key) != keyBytes {
			return nil, ErrInvalidMasterKey
		}
		return key, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	key = make([]byte, keyBytes)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	if err := fsutil.AtomicWrite(k.keyPath, key); err != nil {
		return nil, err
	}
	return key, nil
}
