package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/odvcencio/arbor/pkg/object"
	_ "modernc.org/sqlite"
)

// DevinoKey identifies an on-disk file by inode identity, size and
// timestamps, together with a digest of the metadata it would be committed
// with. A file whose key matches a cached entry yields the same file object
// without re-reading its content.
type DevinoKey struct {
	Dev     uint64
	Ino     uint64
	Size    int64
	MtimeNs int64
	CtimeNs int64
	MetaKey string
}

type devinoEntry struct {
	key DevinoKey
	sum object.Hash
}

// devinoCache is the SQLite table backing the link-checkout speedup.
type devinoCache struct {
	db *sql.DB
}

var devinoSchema = []string{
	`CREATE TABLE IF NOT EXISTS devino (
		dev INTEGER NOT NULL,
		ino INTEGER NOT NULL,
		size INTEGER NOT NULL,
		mtime_ns INTEGER NOT NULL,
		ctime_ns INTEGER NOT NULL,
		meta TEXT NOT NULL,
		checksum TEXT NOT NULL,
		PRIMARY KEY (dev, ino, size, mtime_ns, ctime_ns, meta)
	);`,
}

func openDevinoCache(path string) (*devinoCache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("devino cache: mkdir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("devino cache: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	for _, stmt := range devinoSchema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("devino cache: schema: %w", err)
		}
	}
	return &devinoCache{db: db}, nil
}

func (c *devinoCache) lookup(ctx context.Context, k DevinoKey) (object.Hash, bool, error) {
	var sum string
	err := c.db.QueryRowContext(ctx,
		`SELECT checksum FROM devino WHERE dev = ? AND ino = ? AND size = ? AND mtime_ns = ? AND ctime_ns = ? AND meta = ?`,
		int64(k.Dev), int64(k.Ino), k.Size, k.MtimeNs, k.CtimeNs, k.MetaKey,
	).Scan(&sum)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("devino lookup: %w", err)
	}
	return object.Hash(sum), true, nil
}

func (c *devinoCache) store(ctx context.Context, entries []devinoEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("devino store: begin: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO devino(dev, ino, size, mtime_ns, ctime_ns, meta, checksum) VALUES(?,?,?,?,?,?,?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("devino store: prepare: %w", err)
	}
	defer stmt.Close()
	for _, e := range entries {
		k := e.key
		if _, err := stmt.ExecContext(ctx, int64(k.Dev), int64(k.Ino), k.Size, k.MtimeNs, k.CtimeNs, k.MetaKey, string(e.sum)); err != nil {
			tx.Rollback()
			return fmt.Errorf("devino store: insert: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("devino store: commit: %w", err)
	}
	return nil
}

func (c *devinoCache) close() error {
	return c.db.Close()
}
