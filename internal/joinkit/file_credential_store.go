package joinkit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

var (
	errFileStoreEmptyPath = errors.New("credential_store.file.empty_path")
)

// FileCredentialStore keeps records in memory and rewrites a complete JSON
// snapshot of the store on every mutation, so a crash immediately after a
// Put never loses that record.
type FileCredentialStore struct {
	mutex   sync.Mutex
	path    string
	records map[string]CredentialRecord
}

// NewFileCredentialStore loads the snapshot at path, creating the parent
// directory when missing. A missing snapshot file starts an empty store.
func NewFileCredentialStore(path string) (*FileCredentialStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("credential_store.file.open: %w", errFileStoreEmptyPath)
	}
	if parent := filepath.Dir(path); parent != "." {
		if mkdirErr := os.MkdirAll(parent, 0o700); mkdirErr != nil {
			return nil, fmt.Errorf("credential_store.file.mkdir: %w", mkdirErr)
		}
	}

	store := &FileCredentialStore{
		path:    path,
		records: make(map[string]CredentialRecord),
	}

	data, readErr := os.ReadFile(path)
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return store, nil
		}
		return nil, fmt.Errorf("credential_store.file.read: %w", readErr)
	}
	if len(data) == 0 {
		return store, nil
	}
	if unmarshalErr := json.Unmarshal(data, &store.records); unmarshalErr != nil {
		return nil, fmt.Errorf("credential_store.file.decode: %w", unmarshalErr)
	}
	for userID, record := range store.records {
		if record.UserID == "" {
			record.UserID = userID
			store.records[userID] = record
		}
	}
	return store, nil
}

// Get returns the record for the user, or ErrCredentialNotFound.
func (store *FileCredentialStore) Get(ctx context.Context, userID string) (CredentialRecord, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	record, ok := store.records[userID]
	if !ok {
		return CredentialRecord{}, ErrCredentialNotFound
	}
	return record, nil
}

// Put upserts by UserID and flushes the snapshot before returning.
func (store *FileCredentialStore) Put(ctx context.Context, record CredentialRecord) error {
	if strings.TrimSpace(record.UserID) == "" {
		return ErrCredentialEmptyUserID
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()

	if existing, ok := store.records[record.UserID]; ok && existing.VerifiedAtUnixMilli != 0 {
		record.VerifiedAtUnixMilli = existing.VerifiedAtUnixMilli
	}
	previous, hadPrevious := store.records[record.UserID]
	store.records[record.UserID] = record
	if flushErr := store.flushLocked(); flushErr != nil {
		if hadPrevious {
			store.records[record.UserID] = previous
		} else {
			delete(store.records, record.UserID)
		}
		return flushErr
	}
	return nil
}

// List returns every stored record ordered by UserID.
func (store *FileCredentialStore) List(ctx context.Context) ([]CredentialRecord, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	listed := make([]CredentialRecord, 0, len(store.records))
	for _, record := range store.records {
		listed = append(listed, record)
	}
	sort.Slice(listed, func(left int, right int) bool {
		return listed[left].UserID < listed[right].UserID
	})
	return listed, nil
}

// Clear empties the store and flushes the empty snapshot.
func (store *FileCredentialStore) Clear(ctx context.Context) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	store.records = make(map[string]CredentialRecord)
	return store.flushLocked()
}

func (store *FileCredentialStore) flushLocked() error {
	encoded, marshalErr := json.MarshalIndent(store.records, "", "  ")
	if marshalErr != nil {
		return fmt.Errorf("credential_store.file.encode: %w", marshalErr)
	}
	if writeErr := os.WriteFile(store.path, encoded, 0o600); writeErr != nil {
		return fmt.Errorf("credential_store.file.write: %w", writeErr)
	}
	return nil
}
