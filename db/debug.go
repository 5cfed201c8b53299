package db

import (
	"fmt"

	"github.com/thatsimonsguy/pai-supervisor/internal/model"
)

func ResetCredentialsCLI(dbPath string) error {
	conn, err := Open(dbPath)
	if err != nil {
		return err
	}
	defer conn.Close()
	return NewCredentialStore(conn, model.Credentials{}).Clear()
}

func SetCredentialsCLI(dbPath, ssid, pass string) error {
	creds := model.Credentials{SSID: ssid, Password: pass}
	if !creds.Complete() {
		return fmt.Errorf("both ssid and password are required")
	}
	conn, err := Open(dbPath)
	if err != nil {
		return err
	}
	defer conn.Close()
	return NewCredentialStore(conn, model.Credentials{}).Save(creds)
}

// ShowCredentialsCLI returns the stored ssid; the password is never printed.
func ShowCredentialsCLI(dbPath string) (string, error) {
	conn, err := Open(dbPath)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return NewCredentialStore(conn, model.Credentials{}).StoredSSID(), nil
}
