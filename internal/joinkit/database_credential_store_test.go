package joinkit

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"testing"
)

func TestResolveDialectorSelection(t *testing.T) {
	testCases := []struct {
		name          string
		databaseURL   string
		expectedLabel string
		expectError   bool
	}{
		{name: "postgres", databaseURL: "postgres://localhost:5432/joinkit", expectedLabel: "postgres"},
		{name: "postgresql", databaseURL: "postgresql://localhost:5432/joinkit", expectedLabel: "postgres"},
		{name: "sqlite file", databaseURL: "sqlite:///tmp/joinkit.db", expectedLabel: "sqlite"},
		{name: "sqlite memory", databaseURL: "sqlite://file::memory:?cache=shared", expectedLabel: "sqlite"},
		{name: "unsupported scheme", databaseURL: "mysql://localhost/joinkit", expectError: true},
		{name: "missing scheme", databaseURL: "not-a-url", expectError: true},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, driverLabel, err := resolveDialector(testCase.databaseURL)
			if testCase.expectError {
				if err == nil {
					t.Fatalf("expected error for %q", testCase.databaseURL)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if driverLabel != testCase.expectedLabel {
				t.Fatalf("expected driver %q, got %q", testCase.expectedLabel, driverLabel)
			}
		})
	}
}

func TestBuildSQLiteDSN(t *testing.T) {
	testCases := []struct {
		name        string
		databaseURL string
		expectedDSN string
		expectError bool
	}{
		{name: "absolute path", databaseURL: "sqlite:///var/data/joinkit.db", expectedDSN: "/var/data/joinkit.db"},
		{name: "host relative path", databaseURL: "sqlite://data/joinkit.db", expectedDSN: "data/joinkit.db"},
		{name: "opaque memory", databaseURL: "sqlite:file::memory:?cache=shared", expectedDSN: "file::memory:?cache=shared"},
		{name: "empty path", databaseURL: "sqlite://", expectError: true},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			parsed, parseErr := url.Parse(testCase.databaseURL)
			if parseErr != nil {
				t.Fatalf("parse error: %v", parseErr)
			}
			dsn, err := buildSQLiteDSN(parsed)
			if testCase.expectError {
				if err == nil {
					t.Fatalf("expected error for %q", testCase.databaseURL)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if dsn != testCase.expectedDSN {
				t.Fatalf("expected DSN %q, got %q", testCase.expectedDSN, dsn)
			}
		})
	}
}

func TestNewDatabaseCredentialStoreRejectsEmptyURL(t *testing.T) {
	if _, err := NewDatabaseCredentialStore(context.Background(), "  "); err == nil {
		t.Fatal("expected error for empty database URL")
	}
}

func TestDatabaseCredentialStoreLifecycle(t *testing.T) {
	databaseURL := fmt.Sprintf("sqlite://%s", filepath.Join(t.TempDir(), "credentials.db"))

	store, openErr := NewDatabaseCredentialStore(context.Background(), databaseURL)
	if openErr != nil {
		t.Fatalf("open error: %v", openErr)
	}
	if store.Driver() != "sqlite" {
		t.Fatalf("expected sqlite driver, got %q", store.Driver())
	}

	if _, err := store.Get(context.Background(), "user-1"); !errors.Is(err, ErrCredentialNotFound) {
		t.Fatalf("expected ErrCredentialNotFound before insert, got %v", err)
	}
	if err := store.Put(context.Background(), CredentialRecord{}); !errors.Is(err, ErrCredentialEmptyUserID) {
		t.Fatalf("expected ErrCredentialEmptyUserID, got %v", err)
	}

	initial := CredentialRecord{UserID: "user-1", AccessToken: "A1", RefreshToken: "R1", ExpiresAtUnixMilli: 1000, VerifiedAtUnixMilli: 800}
	if err := store.Put(context.Background(), initial); err != nil {
		t.Fatalf("put error: %v", err)
	}

	replacement := CredentialRecord{UserID: "user-1", AccessToken: "A2", RefreshToken: "R2", ExpiresAtUnixMilli: 2000, VerifiedAtUnixMilli: 42}
	if err := store.Put(context.Background(), replacement); err != nil {
		t.Fatalf("upsert error: %v", err)
	}

	stored, getErr := store.Get(context.Background(), "user-1")
	if getErr != nil {
		t.Fatalf("get error: %v", getErr)
	}
	if stored.AccessToken != "A2" || stored.RefreshToken != "R2" || stored.ExpiresAtUnixMilli != 2000 {
		t.Fatalf("expected replaced token fields, got %+v", stored)
	}
	if stored.VerifiedAtUnixMilli != 800 {
		t.Fatalf("expected original verified_at preserved, got %d", stored.VerifiedAtUnixMilli)
	}

	other := CredentialRecord{UserID: "user-0", AccessToken: "B", RefreshToken: "S", ExpiresAtUnixMilli: 3000}
	if err := store.Put(context.Background(), other); err != nil {
		t.Fatalf("put error: %v", err)
	}
	listed, listErr := store.List(context.Background())
	if listErr != nil {
		t.Fatalf("list error: %v", listErr)
	}
	if len(listed) != 2 || listed[0].UserID != "user-0" || listed[1].UserID != "user-1" {
		t.Fatalf("expected records ordered by user id, got %+v", listed)
	}

	if err := store.Clear(context.Background()); err != nil {
		t.Fatalf("clear error: %v", err)
	}
	if _, err := store.Get(context.Background(), "user-1"); !errors.Is(err, ErrCredentialNotFound) {
		t.Fatalf("expected ErrCredentialNotFound after clear, got %v", err)
	}
}
