package db

import (
	"database/sql"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/pai-supervisor/internal/model"
)

const (
	CredentialsNamespace = "wifi-config"
	ssidKey              = "ssid"
	passKey              = "pass"
)

var ErrStoreUnavailable = errors.New("credential store unavailable")

// CredentialStore keeps the single network credential pair. A store without a
// database still answers Load with the defaults.
type CredentialStore struct {
	db       *sql.DB
	defaults model.Credentials
}

func NewCredentialStore(db *sql.DB, defaults model.Credentials) *CredentialStore {
	return &CredentialStore{db: db, defaults: defaults}
}

func (s *CredentialStore) Available() bool {
	return s.db != nil
}

// Load returns the stored credentials, filling any missing or empty field from the defaults.
func (s *CredentialStore) Load() model.Credentials {
	creds := s.defaults
	if s.db == nil {
		log.Warn().Msg("Credential store unavailable, using default credentials")
		return creds
	}

	values, err := GetNamespace(s.db, CredentialsNamespace)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read stored credentials, using defaults")
		return creds
	}

	if v := values[ssidKey]; v != "" {
		creds.SSID = v
	}
	if v := values[passKey]; v != "" {
		creds.Password = v
	}
	return creds
}

// StoredSSID returns the persisted identifier only, without falling back to defaults.
func (s *CredentialStore) StoredSSID() string {
	if s.db == nil {
		return ""
	}
	v, _, err := GetPreference(s.db, CredentialsNamespace, ssidKey)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read stored ssid")
		return ""
	}
	return v
}

func (s *CredentialStore) Save(creds model.Credentials) error {
	if s.db == nil {
		return ErrStoreUnavailable
	}
	return SetPreferences(s.db, CredentialsNamespace, map[string]string{
		ssidKey: creds.SSID,
		passKey: creds.Password,
	})
}

func (s *CredentialStore) Clear() error {
	if s.db == nil {
		return ErrStoreUnavailable
	}
	return ClearNamespace(s.db, CredentialsNamespace)
}
