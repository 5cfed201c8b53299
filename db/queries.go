package db

import (
	"database/sql"
	"errors"
	"fmt"
)

// GetPreference returns the stored value and whether the key exists.
func GetPreference(db *sql.DB, namespace, key string) (string, bool, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM preferences WHERE namespace = ? AND key = ?`, namespace, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get preference %s/%s: %w", namespace, key, err)
	}
	return value, true, nil
}

func GetNamespace(db *sql.DB, namespace string) (map[string]string, error) {
	rows, err := db.Query(`SELECT key, value FROM preferences WHERE namespace = ?`, namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to query namespace %s: %w", namespace, err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("failed to scan preference: %w", err)
		}
		values[k] = v
	}
	return values, rows.Err()
}
