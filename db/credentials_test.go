package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/pai-supervisor/internal/model"
)

var defaults = model.Credentials{SSID: "Projects", Password: "default-pass"}

func TestCredentialRoundTripAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pai.db")

	conn, err := Open(path)
	require.NoError(t, err)
	store := NewCredentialStore(conn, defaults)
	require.NoError(t, store.Save(model.Credentials{SSID: "X", Password: "Y"}))
	require.NoError(t, conn.Close())

	// simulated power cycle
	conn, err = Open(path)
	require.NoError(t, err)
	defer conn.Close()

	store = NewCredentialStore(conn, defaults)
	assert.Equal(t, model.Credentials{SSID: "X", Password: "Y"}, store.Load())
	assert.Equal(t, "X", store.StoredSSID())
}

func TestLoad_EmptyStoreFallsBackToDefaults(t *testing.T) {
	conn, err := Open(":memory:")
	require.NoError(t, err)
	defer conn.Close()

	store := NewCredentialStore(conn, defaults)
	assert.Equal(t, defaults, store.Load())
	assert.Equal(t, "", store.StoredSSID())
}

func TestLoad_UnavailableStore(t *testing.T) {
	store := NewCredentialStore(nil, defaults)
	assert.False(t, store.Available())
	assert.Equal(t, defaults, store.Load())
	assert.ErrorIs(t, store.Save(model.Credentials{SSID: "X", Password: "Y"}), ErrStoreUnavailable)
	assert.ErrorIs(t, store.Clear(), ErrStoreUnavailable)
}

func TestSaveOverwritesAndClear(t *testing.T) {
	conn, err := Open(":memory:")
	require.NoError(t, err)
	defer conn.Close()

	store := NewCredentialStore(conn, defaults)
	require.NoError(t, store.Save(model.Credentials{SSID: "first", Password: "1"}))
	require.NoError(t, store.Save(model.Credentials{SSID: "second", Password: "2"}))
	assert.Equal(t, model.Credentials{SSID: "second", Password: "2"}, store.Load())

	values, err := GetNamespace(conn, CredentialsNamespace)
	require.NoError(t, err)
	assert.Len(t, values, 2)

	require.NoError(t, store.Clear())
	assert.Equal(t, defaults, store.Load())
}

func TestPreferenceNamespacesAreIsolated(t *testing.T) {
	conn, err := Open(":memory:")
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, SetPreferences(conn, "other", map[string]string{"ssid": "elsewhere"}))
	_, found, err := GetPreference(conn, CredentialsNamespace, "ssid")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, ClearNamespace(conn, CredentialsNamespace))
	v, found, err := GetPreference(conn, "other", "ssid")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "elsewhere", v)
}

func TestCLIHelpers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "pai.db")

	assert.Error(t, SetCredentialsCLI(path, "only-ssid", ""))
	require.NoError(t, SetCredentialsCLI(path, "Lab", "pw"))

	ssid, err := ShowCredentialsCLI(path)
	require.NoError(t, err)
	assert.Equal(t, "Lab", ssid)

	require.NoError(t, ResetCredentialsCLI(path))
	ssid, err = ShowCredentialsCLI(path)
	require.NoError(t, err)
	assert.Equal(t, "", ssid)
}
