// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/texloom/texloom/lib/clock"
	"github.com/texloom/texloom/lib/codec"
	"github.com/texloom/texloom/lib/sqlitepool"
)

// schema creates every table the metadata store needs. Run once per
// connection via sqlitepool's PrepareConn hook (OnConnect).
const schema = `
CREATE TABLE IF NOT EXISTS tier_versions (
	tier    TEXT PRIMARY KEY,
	version INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS packages (
	name      TEXT PRIMARY KEY,
	record    BLOB NOT NULL,
	not_found INTEGER NOT NULL DEFAULT 0,
	timestamp INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS pdfs (
	document_hash TEXT NOT NULL,
	engine        TEXT NOT NULL,
	blob_key      TEXT NOT NULL,
	timestamp     INTEGER NOT NULL,
	PRIMARY KEY (document_hash, engine)
);
CREATE TABLE IF NOT EXISTS aux_files (
	preamble_hash TEXT NOT NULL,
	engine        TEXT NOT NULL,
	fmt_state     TEXT NOT NULL,
	record        BLOB NOT NULL,
	timestamp     INTEGER NOT NULL,
	PRIMARY KEY (preamble_hash, engine, fmt_state)
);
CREATE TABLE IF NOT EXISTS formats (
	preamble_hash TEXT NOT NULL,
	engine        TEXT NOT NULL,
	blob_key      TEXT NOT NULL,
	timestamp     INTEGER NOT NULL,
	PRIMARY KEY (preamble_hash, engine)
);
CREATE TABLE IF NOT EXISTS engine_image (
	key       TEXT PRIMARY KEY,
	blob_key  TEXT NOT NULL,
	timestamp INTEGER NOT NULL
);
`

// MetadataStore is the structured, durable tier of §4.1: package
// metadata, PDF/aux/format index rows, and the compiled engine image
// reference. Backed by a pooled, WAL-mode SQLite database (lib/sqlitepool).
type MetadataStore struct {
	pool  *sqlitepool.Pool
	clock clock.Clock
}

// OpenMetadataStore opens (creating if necessary) the SQLite-backed
// metadata store at path.
func OpenMetadataStore(path string, poolSize int, c clock.Clock) (*MetadataStore, error) {
	if c == nil {
		c = clock.Real()
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     path,
		PoolSize: poolSize,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("cache: opening metadata store: %w", err)
	}

	return &MetadataStore{pool: pool, clock: c}, nil
}

// Close releases the underlying connection pool.
func (m *MetadataStore) Close() error {
	return m.pool.Close()
}

// TierVersion returns the stored version for a tier, or ok=false if the
// tier has never been stamped.
func (m *MetadataStore) TierVersion(ctx context.Context, tier Tier) (version int, ok bool, err error) {
	conn, err := m.pool.Take(ctx)
	if err != nil {
		return 0, false, err
	}
	defer m.pool.Put(conn)

	err = sqlitex.Execute(conn, `SELECT version FROM tier_versions WHERE tier = ?`,
		&sqlitex.ExecOptions{
			Args: []any{string(tier)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				version = int(stmt.GetInt64("version"))
				ok = true
				return nil
			},
		})
	if err != nil {
		return 0, false, fmt.Errorf("cache: reading tier version: %w", err)
	}
	return version, ok, nil
}

// StampTierVersion records the current version for a tier.
func (m *MetadataStore) StampTierVersion(ctx context.Context, tier Tier, version int) error {
	conn, err := m.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer m.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO tier_versions (tier, version) VALUES (?, ?)
		 ON CONFLICT(tier) DO UPDATE SET version = excluded.version`,
		&sqlitex.ExecOptions{Args: []any{string(tier), version}})
	if err != nil {
		return fmt.Errorf("cache: stamping tier version: %w", err)
	}
	return nil
}

// ClearTable truncates one of the metadata tables, used when a version
// mismatch forces wholesale eviction of a tier (§4.1 Versioning).
func (m *MetadataStore) ClearTable(ctx context.Context, table string) error {
	conn, err := m.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer m.pool.Put(conn)

	if err := sqlitex.ExecuteTransient(conn, "DELETE FROM "+table, nil); err != nil {
		return fmt.Errorf("cache: clearing table %s: %w", table, err)
	}
	return nil
}

// PackageRecord is the structured metadata for one fetched package (§4.1:
// "file list, dependencies, not_found markers").
type PackageRecord struct {
	Files        map[string][]byte `cbor:"files"`
	Dependencies []string          `cbor:"dependencies"`
}

// GetPackage returns the stored record for name, or ok=false if absent.
// notFound reports whether the package was instead recorded as a negative
// cache hit (§4.1: "Missing-package negative caching").
func (m *MetadataStore) GetPackage(ctx context.Context, name string) (rec *PackageRecord, notFound bool, ok bool, err error) {
	conn, err := m.pool.Take(ctx)
	if err != nil {
		return nil, false, false, err
	}
	defer m.pool.Put(conn)

	var blob []byte
	var isNotFound int64
	found := false

	err = sqlitex.Execute(conn, `SELECT record, not_found FROM packages WHERE name = ?`,
		&sqlitex.ExecOptions{
			Args: []any{name},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				isNotFound = stmt.GetInt64("not_found")
				blob = make([]byte, stmt.GetLen("record"))
				stmt.GetBytes("record", blob)
				return nil
			},
		})
	if err != nil {
		return nil, false, false, fmt.Errorf("cache: reading package %s: %w", name, err)
	}
	if !found {
		return nil, false, false, nil
	}
	if isNotFound != 0 {
		return nil, true, true, nil
	}

	var record PackageRecord
	if err := codec.Unmarshal(blob, &record); err != nil {
		return nil, false, false, fmt.Errorf("cache: decoding package %s: %w", name, err)
	}
	return &record, false, true, nil
}

// PutPackage persists a fetched package's metadata.
func (m *MetadataStore) PutPackage(ctx context.Context, name string, rec *PackageRecord) error {
	data, err := codec.Marshal(rec)
	if err != nil {
		return fmt.Errorf("cache: encoding package %s: %w", name, err)
	}

	conn, err := m.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer m.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO packages (name, record, not_found, timestamp) VALUES (?, ?, 0, ?)
		 ON CONFLICT(name) DO UPDATE SET record = excluded.record, not_found = 0, timestamp = excluded.timestamp`,
		&sqlitex.ExecOptions{Args: []any{name, data, m.clock.Now().Unix()}})
	if err != nil {
		return fmt.Errorf("cache: writing package %s: %w", name, err)
	}
	return nil
}

// MarkNotFound persists a not_found marker for name (§4.1, §7
// PackageFetchFailed), so future compiles in the session skip a
// guaranteed-failing fetch (§8 invariant 7).
func (m *MetadataStore) MarkNotFound(ctx context.Context, name string) error {
	conn, err := m.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer m.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO packages (name, record, not_found, timestamp) VALUES (?, x'', 1, ?)
		 ON CONFLICT(name) DO UPDATE SET not_found = 1, timestamp = excluded.timestamp`,
		&sqlitex.ExecOptions{Args: []any{name, m.clock.Now().Unix()}})
	if err != nil {
		return fmt.Errorf("cache: marking %s not found: %w", name, err)
	}
	return nil
}

// GetPDF returns the blob-store key for a cached PDF keyed by
// (documentHash, engine), or ok=false if absent.
func (m *MetadataStore) GetPDF(ctx context.Context, documentHash, engine string) (blobKey string, ok bool, err error) {
	conn, err := m.pool.Take(ctx)
	if err != nil {
		return "", false, err
	}
	defer m.pool.Put(conn)

	err = sqlitex.Execute(conn, `SELECT blob_key FROM pdfs WHERE document_hash = ? AND engine = ?`,
		&sqlitex.ExecOptions{
			Args: []any{documentHash, engine},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				blobKey = stmt.GetText("blob_key")
				ok = true
				return nil
			},
		})
	if err != nil {
		return "", false, fmt.Errorf("cache: reading pdf cache: %w", err)
	}
	return blobKey, ok, nil
}

// PutPDF records a compiled PDF's blob-store key for (documentHash, engine).
func (m *MetadataStore) PutPDF(ctx context.Context, documentHash, engine, blobKey string) error {
	conn, err := m.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer m.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO pdfs (document_hash, engine, blob_key, timestamp) VALUES (?, ?, ?, ?)
		 ON CONFLICT(document_hash, engine) DO UPDATE SET blob_key = excluded.blob_key, timestamp = excluded.timestamp`,
		&sqlitex.ExecOptions{Args: []any{documentHash, engine, blobKey, m.clock.Now().Unix()}})
	if err != nil {
		return fmt.Errorf("cache: writing pdf cache: %w", err)
	}
	return nil
}

// GetFormat returns the blob-store key for a cached format file keyed by
// (preambleHash, engine).
func (m *MetadataStore) GetFormat(ctx context.Context, preambleHash, engine string) (blobKey string, ok bool, err error) {
	conn, err := m.pool.Take(ctx)
	if err != nil {
		return "", false, err
	}
	defer m.pool.Put(conn)

	err = sqlitex.Execute(conn, `SELECT blob_key FROM formats WHERE preamble_hash = ? AND engine = ?`,
		&sqlitex.ExecOptions{
			Args: []any{preambleHash, engine},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				blobKey = stmt.GetText("blob_key")
				ok = true
				return nil
			},
		})
	if err != nil {
		return "", false, fmt.Errorf("cache: reading format cache: %w", err)
	}
	return blobKey, ok, nil
}

// PutFormat records a generated format file's blob-store key for
// (preambleHash, engine).
func (m *MetadataStore) PutFormat(ctx context.Context, preambleHash, engine, blobKey string) error {
	conn, err := m.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer m.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO formats (preamble_hash, engine, blob_key, timestamp) VALUES (?, ?, ?, ?)
		 ON CONFLICT(preamble_hash, engine) DO UPDATE SET blob_key = excluded.blob_key, timestamp = excluded.timestamp`,
		&sqlitex.ExecOptions{Args: []any{preambleHash, engine, blobKey, m.clock.Now().Unix()}})
	if err != nil {
		return fmt.Errorf("cache: writing format cache: %w", err)
	}
	return nil
}

// AuxRecord is the set of auxiliary files (.aux, .toc, ...) produced by a
// successful compile, cached alongside the PDF (§3 Cache Entries).
type AuxRecord struct {
	Files map[string][]byte `cbor:"files"`
}

// GetAux returns the cached aux-file set keyed by (preambleHash, engine,
// fmtState), where fmtState distinguishes a format-cache compile from a
// from-scratch one (§4.5: "aux-cache key suffixed with _fmt").
func (m *MetadataStore) GetAux(ctx context.Context, preambleHash, engine, fmtState string) (*AuxRecord, bool, error) {
	conn, err := m.pool.Take(ctx)
	if err != nil {
		return nil, false, err
	}
	defer m.pool.Put(conn)

	var blob []byte
	found := false
	err = sqlitex.Execute(conn,
		`SELECT record FROM aux_files WHERE preamble_hash = ? AND engine = ? AND fmt_state = ?`,
		&sqlitex.ExecOptions{
			Args: []any{preambleHash, engine, fmtState},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				blob = make([]byte, stmt.GetLen("record"))
				stmt.GetBytes("record", blob)
				return nil
			},
		})
	if err != nil {
		return nil, false, fmt.Errorf("cache: reading aux cache: %w", err)
	}
	if !found {
		return nil, false, nil
	}

	var record AuxRecord
	if err := codec.Unmarshal(blob, &record); err != nil {
		return nil, false, fmt.Errorf("cache: decoding aux cache: %w", err)
	}
	return &record, true, nil
}

// PutAux stores the aux-file set for (preambleHash, engine, fmtState).
func (m *MetadataStore) PutAux(ctx context.Context, preambleHash, engine, fmtState string, rec *AuxRecord) error {
	data, err := codec.Marshal(rec)
	if err != nil {
		return fmt.Errorf("cache: encoding aux cache: %w", err)
	}

	conn, err := m.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer m.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO aux_files (preamble_hash, engine, fmt_state, record, timestamp) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(preamble_hash, engine, fmt_state) DO UPDATE SET record = excluded.record, timestamp = excluded.timestamp`,
		&sqlitex.ExecOptions{Args: []any{preambleHash, engine, fmtState, data, m.clock.Now().Unix()}})
	if err != nil {
		return fmt.Errorf("cache: writing aux cache: %w", err)
	}
	return nil
}

// GetEngineImage returns the blob-store key for the compiled engine
// image, cached under the fixed key "engine" (§3, §6).
func (m *MetadataStore) GetEngineImage(ctx context.Context) (blobKey string, ok bool, err error) {
	conn, err := m.pool.Take(ctx)
	if err != nil {
		return "", false, err
	}
	defer m.pool.Put(conn)

	err = sqlitex.Execute(conn, `SELECT blob_key FROM engine_image WHERE key = 'engine'`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				blobKey = stmt.GetText("blob_key")
				ok = true
				return nil
			},
		})
	if err != nil {
		return "", false, fmt.Errorf("cache: reading engine image cache: %w", err)
	}
	return blobKey, ok, nil
}

// PutEngineImage records the engine image's blob-store key.
func (m *MetadataStore) PutEngineImage(ctx context.Context, blobKey string) error {
	conn, err := m.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer m.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO engine_image (key, blob_key, timestamp) VALUES ('engine', ?, ?)
		 ON CONFLICT(key) DO UPDATE SET blob_key = excluded.blob_key, timestamp = excluded.timestamp`,
		&sqlitex.ExecOptions{Args: []any{blobKey, m.clock.Now().Unix()}})
	if err != nil {
		return fmt.Errorf("cache: writing engine image cache: %w", err)
	}
	return nil
}
