// Copyright (C) 2022 myl7
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStorage is a reference NodeStorage backed by go-sqlite3, following
// myl7-pbft/test/handler_test.go's sql.Open("sqlite3", ...) + single-conn
// setup. It persists the replica's own bookkeeping (the stable checkpoint is
// the only record the replica writes) across restarts; it is not the application's
// storage back-end, which stays external per the core's non-goals.
type SQLiteStorage struct {
	db *sql.DB
}

// OpenSQLiteStorage opens (creating if needed) the kv table at path. Use
// ":memory:" for ephemeral/test use.
func OpenSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("adapter: open sqlite storage: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv (key TEXT PRIMARY KEY, val BLOB)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("adapter: init sqlite storage: %w", err)
	}
	return &SQLiteStorage{db: db}, nil
}

// Put upserts key/val.
func (s *SQLiteStorage) Put(key string, val []byte) error {
	_, err := s.db.Exec(`INSERT INTO kv (key, val) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET val = excluded.val`, key, val)
	return err
}

// Get returns nil, nil if key is absent.
func (s *SQLiteStorage) Get(key string) ([]byte, error) {
	var val []byte
	err := s.db.QueryRow(`SELECT val FROM kv WHERE key = ?`, key).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

// Close releases the underlying connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
