// Package keys stores API tokens for generation services, keyed by the
// service's host, in a keys.json file readable only by its owner.
package keys

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/adrg/xdg"
	"github.com/google/renameio/v2"
)

var ErrNotFound = errors.New("no key stored")

// Store handles API key storage and retrieval
type Store struct {
	dir string
}

type KeyEntry struct {
	Key string `json:"key"`
}

// Keys is the keys.json document, indexed by service host.
type Keys map[string]KeyEntry

// NewStore opens the store under the user's XDG config directory.
// BUILDFY_CONFIG_DIR overrides the location.
func NewStore() *Store {
	if dir := os.Getenv("BUILDFY_CONFIG_DIR"); dir != "" {
		return NewStoreAt(dir)
	}
	return NewStoreAt(filepath.Join(xdg.ConfigHome, "buildfy"))
}

func NewStoreAt(dir string) *Store {
	return &Store{dir: dir}
}

// Path returns the path to the keys.json file
func (s *Store) Path() string {
	return filepath.Join(s.dir, "keys.json")
}

// ServiceKey reduces a base URL to the host[:port] it is stored under, so
// "https://api.example.com/v1" and "https://api.example.com" share a key.
func ServiceKey(baseURL string) (string, error) {
	raw := strings.TrimSpace(baseURL)
	if raw == "" {
		return "", fmt.Errorf("empty service URL")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid service URL %q: %w", baseURL, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid service URL %q: no host", baseURL)
	}
	return strings.ToLower(u.Host), nil
}

func (s *Store) load() (Keys, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return make(Keys), nil
		}
		return nil, err
	}

	var keys Keys
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("failed to parse keys.json: %w", err)
	}
	if keys == nil {
		keys = make(Keys)
	}
	return keys, nil
}

func (s *Store) save(keys Keys) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(keys, "", "  ")
	if err != nil {
		return err
	}
	if err := renameio.WriteFile(s.Path(), data, 0o600); err != nil {
		return fmt.Errorf("failed to write keys.json: %w", err)
	}
	return nil
}

// Set stores key for the service at baseURL.
func (s *Store) Set(baseURL, key string) error {
	service, err := ServiceKey(baseURL)
	if err != nil {
		return err
	}
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("key must not be empty")
	}

	keys, err := s.load()
	if err != nil {
		return err
	}
	keys[service] = KeyEntry{Key: strings.TrimSpace(key)}
	return s.save(keys)
}

// Get returns the key stored for the service at baseURL, or "" when there
// is none.
func (s *Store) Get(baseURL string) (string, error) {
	service, err := ServiceKey(baseURL)
	if err != nil {
		return "", err
	}
	keys, err := s.load()
	if err != nil {
		return "", err
	}
	return keys[service].Key, nil
}

func (s *Store) Delete(baseURL string) error {
	service, err := ServiceKey(baseURL)
	if err != nil {
		return err
	}
	keys, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := keys[service]; !ok {
		return fmt.Errorf("%w for %s", ErrNotFound, service)
	}
	delete(keys, service)
	return s.save(keys)
}

// List returns the stored service hosts, sorted.
func (s *Store) List() ([]string, error) {
	keys, err := s.load()
	if err != nil {
		return nil, err
	}
	services := make([]string, 0, len(keys))
	for service := range keys {
		services = append(services, service)
	}
	sort.Strings(services)
	return services, nil
}

// MaskKey returns a masked version of the key for display
func MaskKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}

// Resolve picks the API key for baseURL: an explicit key (flag, environment
// or config file) wins over a stored one. The second return value names the
// source for display.
func Resolve(explicit, baseURL string, store *Store) (string, string, error) {
	if explicit != "" {
		return explicit, "configuration", nil
	}
	if store == nil {
		return "", "", nil
	}
	key, err := store.Get(baseURL)
	if err != nil {
		return "", "", err
	}
	if key == "" {
		return "", "", nil
	}
	return key, store.Path(), nil
}
