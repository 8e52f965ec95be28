package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// KVStore is the local stand-in for the browser's key/value storage: the
// bearer token, the remember-login pair, the notification history document
// and the dedup markers all live here as string values.
type KVStore struct {
	db *sql.DB
}

func NewKVStore(db *sql.DB) *KVStore {
	return &KVStore{db: db}
}

// Get returns the value for key. ok is false when the key is absent.
func (s *KVStore) Get(key string) (value string, ok bool, err error) {
	err = s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %q: %w", key, err)
	}
	return value, true, nil
}

func (s *KVStore) Set(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

func (s *KVStore) Delete(key string) error {
	if _, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

// Keys lists keys starting with prefix, sorted.
func (s *KVStore) Keys(prefix string) ([]string, error) {
	rows, err := s.db.Query(`SELECT key FROM kv WHERE substr(key, 1, ?) = ? ORDER BY key`, len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("list keys %q: %w", prefix, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// GetJSON decodes the document stored at key into v.
func (s *KVStore) GetJSON(key string, v any) (bool, error) {
	raw, ok, err := s.Get(key)
	if err != nil || !ok {
		return ok, err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("decode %q: %w", key, err)
	}
	return true, nil
}

// SetJSON stores v as a JSON document at key.
func (s *KVStore) SetJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	return s.Set(key, string(data))
}

// UpdateJSON reads the document at key, applies fn and writes the result back
// inside one transaction. fn receives the zero value when the key is absent.
// fn must not touch the store.
func UpdateJSON[T any](ctx context.Context, s *KVStore, key string, fn func(doc *T) error) (T, error) {
	var doc T

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return doc, fmt.Errorf("begin update %q: %w", key, err)
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&raw)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return doc, fmt.Errorf("read %q: %w", key, err)
	default:
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return doc, fmt.Errorf("decode %q: %w", key, err)
		}
	}

	if err := fn(&doc); err != nil {
		return doc, err
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return doc, fmt.Errorf("encode %q: %w", key, err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(data), time.Now().UTC(),
	)
	if err != nil {
		return doc, fmt.Errorf("write %q: %w", key, err)
	}

	if err := tx.Commit(); err != nil {
		return doc, fmt.Errorf("commit %q: %w", key, err)
	}
	return doc, nil
}
