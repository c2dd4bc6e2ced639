package joinkit

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	sqliteDialector "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	// ErrUnsupportedDialect indicates that no GORM dialector is available for the scheme.
	ErrUnsupportedDialect = errors.New("credential_store.unsupported_dialect")

	errEmptyDatabaseURL    = errors.New("credential_store.empty_database_url")
	errSQLiteEmptyPath     = errors.New("credential_store.sqlite.empty_path")
	errSQLiteInvalidURL    = errors.New("credential_store.sqlite.invalid_url")
	errUnsupportedNoScheme = errors.New("credential_store.unsupported_no_scheme")
)

// DatabaseCredentialStore persists credential records using GORM. Every Put
// is a blocking upsert, so committed records survive a crash.
type DatabaseCredentialStore struct {
	db          *gorm.DB
	driverLabel string
}

// Driver exposes the selected database driver label.
func (store *DatabaseCredentialStore) Driver() string {
	return store.driverLabel
}

type credentialRow struct {
	UserID              string `gorm:"column:user_id;primaryKey"`
	AccessToken         string `gorm:"column:access_token;not null"`
	RefreshToken        string `gorm:"column:refresh_token;not null"`
	ExpiresAtUnixMilli  int64  `gorm:"column:expires_at_unix_milli;not null"`
	VerifiedAtUnixMilli int64  `gorm:"column:verified_at_unix_milli;not null;default:0"`
}

func (credentialRow) TableName() string {
	return "credentials"
}

// NewDatabaseCredentialStore constructs a GORM-backed store from a
// sqlite:// or postgres:// URL.
func NewDatabaseCredentialStore(ctx context.Context, databaseURL string) (*DatabaseCredentialStore, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("credential_store.open: %w", errEmptyDatabaseURL)
	}
	dialector, driverLabel, err := resolveDialector(databaseURL)
	if err != nil {
		return nil, err
	}
	gormDB, openErr := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if openErr != nil {
		return nil, fmt.Errorf("credential_store.open.%s: %w", driverLabel, openErr)
	}
	if migrateErr := gormDB.WithContext(ctx).AutoMigrate(&credentialRow{}); migrateErr != nil {
		return nil, fmt.Errorf("credential_store.migrate.%s: %w", driverLabel, migrateErr)
	}
	return &DatabaseCredentialStore{
		db:          gormDB,
		driverLabel: driverLabel,
	}, nil
}

// Get returns the record for the user, or ErrCredentialNotFound.
func (store *DatabaseCredentialStore) Get(ctx context.Context, userID string) (CredentialRecord, error) {
	var row credentialRow
	err := store.db.WithContext(ctx).Where("user_id = ?", userID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return CredentialRecord{}, fmt.Errorf("credential_store.get.%s: %w", store.driverLabel, ErrCredentialNotFound)
		}
		return CredentialRecord{}, fmt.Errorf("credential_store.get.%s: %w", store.driverLabel, err)
	}
	return recordFromRow(row), nil
}

// Put upserts by UserID, keeping an already-set verification timestamp.
func (store *DatabaseCredentialStore) Put(ctx context.Context, record CredentialRecord) error {
	if strings.TrimSpace(record.UserID) == "" {
		return ErrCredentialEmptyUserID
	}
	var existing credentialRow
	findErr := store.db.WithContext(ctx).Where("user_id = ?", record.UserID).Take(&existing).Error
	if findErr != nil && !errors.Is(findErr, gorm.ErrRecordNotFound) {
		return fmt.Errorf("credential_store.put.%s: %w", store.driverLabel, findErr)
	}
	if findErr == nil && existing.VerifiedAtUnixMilli != 0 {
		record.VerifiedAtUnixMilli = existing.VerifiedAtUnixMilli
	}
	row := credentialRow{
		UserID:              record.UserID,
		AccessToken:         record.AccessToken,
		RefreshToken:        record.RefreshToken,
		ExpiresAtUnixMilli:  record.ExpiresAtUnixMilli,
		VerifiedAtUnixMilli: record.VerifiedAtUnixMilli,
	}
	if findErr == nil {
		if saveErr := store.db.WithContext(ctx).Where("user_id = ?", row.UserID).Save(&row).Error; saveErr != nil {
			return fmt.Errorf("credential_store.put.%s: %w", store.driverLabel, saveErr)
		}
		return nil
	}
	if createErr := store.db.WithContext(ctx).Create(&row).Error; createErr != nil {
		return fmt.Errorf("credential_store.put.%s: %w", store.driverLabel, createErr)
	}
	return nil
}

// List returns every stored record ordered by UserID.
func (store *DatabaseCredentialStore) List(ctx context.Context) ([]CredentialRecord, error) {
	var rows []credentialRow
	if err := store.db.WithContext(ctx).Order("user_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("credential_store.list.%s: %w", store.driverLabel, err)
	}
	listed := make([]CredentialRecord, 0, len(rows))
	for _, row := range rows {
		listed = append(listed, recordFromRow(row))
	}
	return listed, nil
}

// Clear deletes every stored record.
func (store *DatabaseCredentialStore) Clear(ctx context.Context) error {
	session := store.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true})
	if err := session.Delete(&credentialRow{}).Error; err != nil {
		return fmt.Errorf("credential_store.clear.%s: %w", store.driverLabel, err)
	}
	return nil
}

func recordFromRow(row credentialRow) CredentialRecord {
	return CredentialRecord{
		UserID:              row.UserID,
		AccessToken:         row.AccessToken,
		RefreshToken:        row.RefreshToken,
		ExpiresAtUnixMilli:  row.ExpiresAtUnixMilli,
		VerifiedAtUnixMilli: row.VerifiedAtUnixMilli,
	}
}

func resolveDialector(databaseURL string) (gorm.Dialector, string, error) {
	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("credential_store.parse_url: %w", err)
	}
	if parsed.Scheme == "" {
		return nil, "", fmt.Errorf("credential_store.dialect: %w", errUnsupportedNoScheme)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "postgres", "postgresql":
		return postgres.Open(databaseURL), "postgres", nil
	case "sqlite", "sqlite3":
		dsn, dsnErr := buildSQLiteDSN(parsed)
		if dsnErr != nil {
			return nil, "", fmt.Errorf("credential_store.sqlite: %w", dsnErr)
		}
		return sqliteDialector.Open(dsn), "sqlite", nil
	default:
		return nil, "", fmt.Errorf("credential_store.dialect.%s: %w", strings.ToLower(parsed.Scheme), ErrUnsupportedDialect)
	}
}

func buildSQLiteDSN(parsed *url.URL) (string, error) {
	if parsed == nil {
		return "", errSQLiteInvalidURL
	}
	var builder strings.Builder
	switch {
	case parsed.Opaque != "":
		builder.WriteString(parsed.Opaque)
	case parsed.Host != "":
		builder.WriteString(parsed.Host)
		if parsed.Path != "" {
			if !strings.HasPrefix(parsed.Path, "/") {
				builder.WriteString("/")
			}
			builder.WriteString(parsed.Path)
		}
	default:
		builder.WriteString(parsed.Path)
	}
	if builder.Len() == 0 {
		return "", errSQLiteEmptyPath
	}
	if parsed.RawQuery != "" {
		builder.WriteString("?")
		builder.WriteString(parsed.RawQuery)
	}
	return builder.String(), nil
}
