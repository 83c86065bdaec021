package schedcache

import (
	"context"
	"database/sql"
	"errors"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS kv (
	key   TEXT PRIMARY KEY,
	value BLOB NOT NULL
);
`

// SqliteBackend is the local store of the chain, always available,
// used on its own when the remote capability is missing or broken.
type SqliteBackend struct {
	db *sql.DB
}

func NewSqliteBackend(path string) (*SqliteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// see this stackoverflow post for information on why the following
	// lines exist: https://stackoverflow.com/questions/35804884/sqlite-concurrent-writing-performance
	db.SetMaxOpenConns(1)
	_, err = db.Exec("PRAGMA journal_mode=WAL")
	if err != nil {
		db.Close()
		return nil, err
	}
	_, err = db.Exec(sqliteSchema)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &SqliteBackend{db: db}, nil
}

func (b *SqliteBackend) Name() string {
	return "sqlite"
}

func (b *SqliteBackend) Read(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := b.db.QueryRowContext(
		ctx, "SELECT value FROM kv WHERE key = ?", key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (b *SqliteBackend) Write(ctx context.Context, key string, value []byte) error {
	_, err := b.db.ExecContext(
		ctx,
		"INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	return err
}

func (b *SqliteBackend) Delete(ctx context.Context, key string) error {
	_, err := b.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key)
	return err
}

func (b *SqliteBackend) List(ctx context.Context, prefix string) ([]string, error) {
	// LIKE treats "_" as a wildcard and our prefix ends with one, so
	// compare on an exact substring instead
	rows, err := b.db.QueryContext(
		ctx,
		"SELECT key FROM kv WHERE substr(key, 1, ?) = ? ORDER BY key",
		len(prefix), prefix,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (b *SqliteBackend) Close() error {
	return b.db.Close()
}
