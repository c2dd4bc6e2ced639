package joinkit

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrPortalEmptyDescription rejects a portal update without a description.
var ErrPortalEmptyDescription = errors.New("portal_store.empty_description")

// PortalConfig is the operator-editable content of the verification portal
// message rendered by the external chat UI.
type PortalConfig struct {
	Description string `json:"description"`
	ImageURL    string `json:"image_url"`
}

// DefaultPortalConfig returns the stock verification message.
func DefaultPortalConfig() PortalConfig {
	return PortalConfig{
		Description: "To protect everyone against fake accounts and raids, and to unlock " +
			"your access to channels, giveaways, and events, you need to verify your " +
			"account. Use the button below to authenticate securely.",
		ImageURL: "https://i.imgur.com/8Q6QgXq.gif",
	}
}

// PortalStore keeps the portal config, persisted as a JSON snapshot on every
// update. An empty path keeps it in memory only.
type PortalStore struct {
	mutex   sync.Mutex
	path    string
	current PortalConfig
}

// NewPortalStore loads the snapshot at path, falling back to the defaults
// when the file is absent.
func NewPortalStore(path string) (*PortalStore, error) {
	store := &PortalStore{
		path:    path,
		current: DefaultPortalConfig(),
	}
	if strings.TrimSpace(path) == "" {
		store.path = ""
		return store, nil
	}
	if parent := filepath.Dir(path); parent != "." {
		if mkdirErr := os.MkdirAll(parent, 0o700); mkdirErr != nil {
			return nil, fmt.Errorf("portal_store.mkdir: %w", mkdirErr)
		}
	}
	data, readErr := os.ReadFile(path)
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return store, nil
		}
		return nil, fmt.Errorf("portal_store.read: %w", readErr)
	}
	if len(data) > 0 {
		if unmarshalErr := json.Unmarshal(data, &store.current); unmarshalErr != nil {
			return nil, fmt.Errorf("portal_store.decode: %w", unmarshalErr)
		}
	}
	return store, nil
}

// Get returns the current portal config.
func (store *PortalStore) Get() PortalConfig {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.current
}

// Update replaces the portal config and flushes the snapshot before returning.
func (store *PortalStore) Update(configuration PortalConfig) error {
	if strings.TrimSpace(configuration.Description) == "" {
		return ErrPortalEmptyDescription
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()

	previous := store.current
	store.current = configuration
	if store.path == "" {
		return nil
	}
	encoded, marshalErr := json.MarshalIndent(configuration, "", "  ")
	if marshalErr != nil {
		store.current = previous
		return fmt.Errorf("portal_store.encode: %w", marshalErr)
	}
	if writeErr := os.WriteFile(store.path, encoded, 0o600); writeErr != nil {
		store.current = previous
		return fmt.Errorf("portal_store.write: %w", writeErr)
	}
	return nil
}
