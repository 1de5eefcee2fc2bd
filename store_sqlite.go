// store_sqlite.go: SQLite-backed document store
//
// Records are stored as JSON documents with the fields the queries need
// (status, is_active) denormalized into indexed columns. plugin_id
// uniqueness is enforced by the schema, so a duplicate Create surfaces
// as a detectable constraint violation.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"context"
	"database/sql"
	stderrors "errors"
	"encoding/json"

	sqlite3 "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS plugins (
	plugin_id TEXT PRIMARY KEY,
	status    TEXT NOT NULL,
	is_active INTEGER NOT NULL DEFAULT 0,
	doc       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_plugins_status ON plugins(status);
CREATE INDEX IF NOT EXISTS idx_plugins_active ON plugins(is_active);

CREATE TABLE IF NOT EXISTS plugin_backups (
	backup_id  TEXT PRIMARY KEY,
	plugin_id  TEXT NOT NULL,
	created_at TEXT NOT NULL,
	doc        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_backups_plugin ON plugin_backups(plugin_id);
`

// SQLiteStore implements Store on an embedded SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path and
// ensures the schema exists. Pass ":memory:" for an ephemeral store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, NewStoreFailureError("open database", err)
	}
	// SQLite serializes writers; a single connection avoids
	// SQLITE_BUSY under concurrent lifecycle operations.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, NewStoreFailureError("create schema", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if stderrors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}

func scanPluginDoc(row interface{ Scan(...any) error }) (*InstalledPlugin, error) {
	var doc string
	if err := row.Scan(&doc); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	var plugin InstalledPlugin
	if err := json.Unmarshal([]byte(doc), &plugin); err != nil {
		return nil, err
	}
	return &plugin, nil
}

func (s *SQLiteStore) FindByPluginID(ctx context.Context, pluginID string) (*InstalledPlugin, error) {
	row := s.db.QueryRowContext(ctx, `SELECT doc FROM plugins WHERE plugin_id = ?`, pluginID)
	plugin, err := scanPluginDoc(row)
	if err != nil {
		return nil, NewStoreFailureError("find plugin", err)
	}
	return plugin, nil
}

func (s *SQLiteStore) queryPlugins(ctx context.Context, query string, args ...any) ([]*InstalledPlugin, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, NewStoreFailureError("query plugins", err)
	}
	defer rows.Close()

	var out []*InstalledPlugin
	for rows.Next() {
		plugin, err := scanPluginDoc(rows)
		if err != nil {
			return nil, NewStoreFailureError("decode plugin record", err)
		}
		out = append(out, plugin)
	}
	if err := rows.Err(); err != nil {
		return nil, NewStoreFailureError("iterate plugins", err)
	}
	return out, nil
}

func (s *SQLiteStore) FindActivePlugins(ctx context.Context) ([]*InstalledPlugin, error) {
	return s.queryPlugins(ctx, `SELECT doc FROM plugins WHERE is_active = 1 ORDER BY plugin_id`)
}

func (s *SQLiteStore) FindByStatus(ctx context.Context, status PluginStatus) ([]*InstalledPlugin, error) {
	return s.queryPlugins(ctx, `SELECT doc FROM plugins WHERE status = ? ORDER BY plugin_id`, string(status))
}

func (s *SQLiteStore) Create(ctx context.Context, plugin *InstalledPlugin) error {
	doc, err := json.Marshal(plugin)
	if err != nil {
		return NewStoreFailureError("encode plugin record", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO plugins (plugin_id, status, is_active, doc) VALUES (?, ?, ?, ?)`,
		plugin.PluginID, string(plugin.Status), boolToInt(plugin.IsActive), string(doc))
	if err != nil {
		if isUniqueViolation(err) {
			return NewPluginExistsError(plugin.PluginID)
		}
		return NewStoreFailureError("create plugin", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateByPluginID(ctx context.Context, pluginID string, mutate func(*InstalledPlugin) error) (*InstalledPlugin, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, NewStoreFailureError("begin update", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT doc FROM plugins WHERE plugin_id = ?`, pluginID)
	plugin, err := scanPluginDoc(row)
	if err != nil {
		return nil, NewStoreFailureError("find plugin for update", err)
	}
	if plugin == nil {
		return nil, nil
	}
	if err := mutate(plugin); err != nil {
		return nil, err
	}
	plugin.PluginID = pluginID // id is immutable

	doc, err := json.Marshal(plugin)
	if err != nil {
		return nil, NewStoreFailureError("encode plugin record", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE plugins SET status = ?, is_active = ?, doc = ? WHERE plugin_id = ?`,
		string(plugin.Status), boolToInt(plugin.IsActive), string(doc), pluginID); err != nil {
		return nil, NewStoreFailureError("update plugin", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, NewStoreFailureError("commit update", err)
	}
	return plugin, nil
}

func (s *SQLiteStore) DeleteByPluginID(ctx context.Context, pluginID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM plugins WHERE plugin_id = ?`, pluginID); err != nil {
		return NewStoreFailureError("delete plugin", err)
	}
	return nil
}

func (s *SQLiteStore) InsertMany(ctx context.Context, plugins []*InstalledPlugin) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return NewStoreFailureError("begin insert", err)
	}
	defer tx.Rollback()

	for _, plugin := range plugins {
		doc, err := json.Marshal(plugin)
		if err != nil {
			return NewStoreFailureError("encode plugin record", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO plugins (plugin_id, status, is_active, doc) VALUES (?, ?, ?, ?)`,
			plugin.PluginID, string(plugin.Status), boolToInt(plugin.IsActive), string(doc)); err != nil {
			if isUniqueViolation(err) {
				return NewPluginExistsError(plugin.PluginID)
			}
			return NewStoreFailureError("insert plugin", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return NewStoreFailureError("commit insert", err)
	}
	return nil
}

func (s *SQLiteStore) CreateBackup(ctx context.Context, backup *PluginBackup) error {
	doc, err := json.Marshal(backup)
	if err != nil {
		return NewStoreFailureError("encode backup record", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO plugin_backups (backup_id, plugin_id, created_at, doc) VALUES (?, ?, ?, ?)`,
		backup.BackupID, backup.PluginID, backup.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z"), string(doc))
	if err != nil {
		return NewStoreFailureError("create backup", err)
	}
	return nil
}

func (s *SQLiteStore) FindBackup(ctx context.Context, backupID string) (*PluginBackup, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM plugin_backups WHERE backup_id = ?`, backupID).Scan(&doc)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, NewStoreFailureError("find backup", err)
	}
	var backup PluginBackup
	if err := json.Unmarshal([]byte(doc), &backup); err != nil {
		return nil, NewStoreFailureError("decode backup record", err)
	}
	return &backup, nil
}

func (s *SQLiteStore) FindBackupsByPlugin(ctx context.Context, pluginID string) ([]*PluginBackup, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM plugin_backups WHERE plugin_id = ? ORDER BY created_at`, pluginID)
	if err != nil {
		return nil, NewStoreFailureError("query backups", err)
	}
	defer rows.Close()

	var out []*PluginBackup
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, NewStoreFailureError("scan backup record", err)
		}
		var backup PluginBackup
		if err := json.Unmarshal([]byte(doc), &backup); err != nil {
			return nil, NewStoreFailureError("decode backup record", err)
		}
		out = append(out, &backup)
	}
	if err := rows.Err(); err != nil {
		return nil, NewStoreFailureError("iterate backups", err)
	}
	return out, nil
}

func (s *SQLiteStore) DeleteBackupsByPlugin(ctx context.Context, pluginID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM plugin_backups WHERE plugin_id = ?`, pluginID); err != nil {
		return NewStoreFailureError("delete backups", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
