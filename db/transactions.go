package db

import (
	"database/sql"
	"fmt"
	"time"
)

// StartTransaction starts a new database transaction.
func StartTransaction(db *sql.DB) (*sql.Tx, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	return tx, nil
}

// CommitTransaction commits the given transaction.
func CommitTransaction(tx *sql.Tx) error {
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RollbackTransaction rolls back the given transaction.
func RollbackTransaction(tx *sql.Tx) {
	tx.Rollback()
}

func SetPreferenceWithTx(tx *sql.Tx, namespace, key, value string) error {
	_, err := tx.Exec(`INSERT INTO preferences (namespace, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		namespace, key, value, time.Now().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("set preference %s/%s: %w", namespace, key, err)
	}
	return nil
}

// SetPreferences writes every key of values into namespace atomically.
func SetPreferences(db *sql.DB, namespace string, values map[string]string) error {
	tx, err := StartTransaction(db)
	if err != nil {
		return err
	}
	for k, v := range values {
		if err := SetPreferenceWithTx(tx, namespace, k, v); err != nil {
			RollbackTransaction(tx)
			return err
		}
	}
	return CommitTransaction(tx)
}

func ClearNamespace(db *sql.DB, namespace string) error {
	tx, err := StartTransaction(db)
	if err != nil {
		return err
	}
	_, err = tx.Exec(`DELETE FROM preferences WHERE namespace = ?`, namespace)
	if err != nil {
		RollbackTransaction(tx)
		return fmt.Errorf("clear namespace %s: %w", namespace, err)
	}
	return CommitTransaction(tx)
}
