package joinkit

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryCredentialStore is an in-memory store intended for tests and dev.
type MemoryCredentialStore struct {
	mutex   sync.Mutex
	records map[string]CredentialRecord
}

// NewMemoryCredentialStore creates an empty in-memory credential store.
func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{records: make(map[string]CredentialRecord)}
}

// Get returns the record for the user, or ErrCredentialNotFound.
func (store *MemoryCredentialStore) Get(ctx context.Context, userID string) (CredentialRecord, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	record, ok := store.records[userID]
	if !ok {
		return CredentialRecord{}, ErrCredentialNotFound
	}
	return record, nil
}

// Put upserts by UserID, keeping an already-set verification timestamp.
func (store *MemoryCredentialStore) Put(ctx context.Context, record CredentialRecord) error {
	if strings.TrimSpace(record.UserID) == "" {
		return ErrCredentialEmptyUserID
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()

	if existing, ok := store.records[record.UserID]; ok && existing.VerifiedAtUnixMilli != 0 {
		record.VerifiedAtUnixMilli = existing.VerifiedAtUnixMilli
	}
	store.records[record.UserID] = record
	return nil
}

// List returns every stored record ordered by UserID.
func (store *MemoryCredentialStore) List(ctx context.Context) ([]CredentialRecord, error) {
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

// Clear empties the store.
func (store *MemoryCredentialStore) Clear(ctx context.Context) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	store.records = make(map[string]CredentialRecord)
	return nil
}
