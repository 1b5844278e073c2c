package db

import (
	"database/sql"
	"errors"
	"fmt"
	"kniffel/internal/kv"
)

var _ kv.Store = (*DB)(nil)

func (d *DB) Get(key string) ([]byte, error) {
	var value []byte
	err := d.conn.QueryRow(`SELECT value FROM kv_store WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}
	return value, nil
}

func (d *DB) Set(key string, value []byte) error {
	_, err := d.conn.Exec(`
		INSERT INTO kv_store (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = $2, updated_at = now()
	`, key, value)
	if err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}

func (d *DB) Delete(key string) error {
	if _, err := d.conn.Exec(`DELETE FROM kv_store WHERE key = $1`, key); err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}
