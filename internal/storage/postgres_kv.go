package storage

import (
	"context"
	"database/sql"
	"errors"

	_ "github.com/lib/pq"
)

// PostgresKV persists engine snapshots in a single versioned key-value table.
type PostgresKV struct {
	db *sql.DB
}

func NewPostgresKV(dsn string) (*PostgresKV, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresKV{db: db}, nil
}

func (p *PostgresKV) Get(ctx context.Context, key string) (Versioned, bool, error) {
	var v Versioned
	err := p.db.QueryRowContext(ctx, `SELECT value, version FROM engine_kv WHERE key=$1`, key).
		Scan(&v.Value, &v.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return Versioned{}, false, nil
	}
	if err != nil {
		return Versioned{}, false, err
	}
	return v, true, nil
}

func (p *PostgresKV) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	var version uint64
	err := p.db.QueryRowContext(ctx,
		`INSERT INTO engine_kv(key, value, version) VALUES($1,$2,1)
		 ON CONFLICT (key) DO UPDATE SET value=$2, version=engine_kv.version+1
		 RETURNING version`, key, value).Scan(&version)
	return version, err
}

func (p *PostgresKV) CompareAndSwap(ctx context.Context, key string, value []byte, expect uint64) (uint64, error) {
	if expect == 0 {
		var version uint64
		err := p.db.QueryRowContext(ctx,
			`INSERT INTO engine_kv(key, value, version) VALUES($1,$2,1)
			 ON CONFLICT (key) DO NOTHING RETURNING version`, key, value).Scan(&version)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrVersionConflict
		}
		return version, err
	}
	var version uint64
	err := p.db.QueryRowContext(ctx,
		`UPDATE engine_kv SET value=$2, version=version+1 WHERE key=$1 AND version=$3
		 RETURNING version`, key, value, expect).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrVersionConflict
	}
	return version, err
}

func (p *PostgresKV) Close() error { return p.db.Close() }
