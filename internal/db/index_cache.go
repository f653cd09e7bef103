package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// IndexKey identifies one counting pass. A cached index is only valid while
// the capture's size and modification time are unchanged.
type IndexKey struct {
	Path      string
	Size      int64
	ModTimeNS int64
	Loader    string
	Params    string // loader-specific parameters such as the metadata path and UDP port
}

// FrameEntry locates one frame inside a capture.
type FrameEntry struct {
	Index       int
	ByteOffset  int64
	TimestampNS int64
}

// IndexCache persists counting-pass results.
type IndexCache struct {
	db *DB
}

// NewIndexCache opens (and migrates) the cache database at path.
func NewIndexCache(path string) (*IndexCache, error) {
	db, err := NewDB(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open index cache: %w", err)
	}
	return &IndexCache{db: db}, nil
}

// DB exposes the underlying database for admin routes and migrations.
func (c *IndexCache) DB() *DB { return c.db }

func (c *IndexCache) Close() error { return c.db.Close() }

// Lookup returns the cached frame entries for key. A cached index whose size
// or modification time differs from key is stale and reported as a miss.
func (c *IndexCache) Lookup(ctx context.Context, key IndexKey) ([]FrameEntry, bool, error) {
	var (
		id         int64
		size       int64
		modTime    int64
		frameCount int
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT id, size, mod_time_ns, frame_count FROM pcap_index
		 WHERE path = ? AND loader = ? AND params = ?`,
		key.Path, key.Loader, key.Params,
	).Scan(&id, &size, &modTime, &frameCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to query index: %w", err)
	}
	if size != key.Size || modTime != key.ModTimeNS {
		return nil, false, nil
	}

	rows, err := c.db.QueryContext(ctx,
		`SELECT frame_idx, byte_offset, timestamp_ns FROM pcap_frames
		 WHERE index_id = ? ORDER BY frame_idx`, id)
	if err != nil {
		return nil, false, fmt.Errorf("failed to query frames: %w", err)
	}
	defer rows.Close()

	entries := make([]FrameEntry, 0, frameCount)
	for rows.Next() {
		var e FrameEntry
		if err := rows.Scan(&e.Index, &e.ByteOffset, &e.TimestampNS); err != nil {
			return nil, false, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	if len(entries) != frameCount {
		// A partially written index is treated as a miss and rebuilt.
		return nil, false, nil
	}

	if _, err := c.db.ExecContext(ctx,
		`UPDATE pcap_index SET last_used_at = ? WHERE id = ?`, time.Now().Unix(), id); err != nil {
		return nil, false, fmt.Errorf("failed to touch index: %w", err)
	}
	return entries, true, nil
}

// Store replaces the cached index for key in a single transaction.
func (c *IndexCache) Store(ctx context.Context, key IndexKey, entries []FrameEntry) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM pcap_index WHERE path = ? AND loader = ? AND params = ?`,
		key.Path, key.Loader, key.Params); err != nil {
		return fmt.Errorf("failed to delete stale index: %w", err)
	}

	now := time.Now().Unix()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO pcap_index (path, size, mod_time_ns, loader, params, frame_count, created_at, last_used_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		key.Path, key.Size, key.ModTimeNS, key.Loader, key.Params, len(entries), now, now)
	if err != nil {
		return fmt.Errorf("failed to insert index: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO pcap_frames (index_id, frame_idx, byte_offset, timestamp_ns) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, id, e.Index, e.ByteOffset, e.TimestampNS); err != nil {
			return fmt.Errorf("failed to insert frame %d: %w", e.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit index: %w", err)
	}
	return nil
}

// Invalidate removes every cached index for path.
func (c *IndexCache) Invalidate(ctx context.Context, path string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM pcap_index WHERE path = ?`, path)
	return err
}

// Prune removes indexes not used since before.
func (c *IndexCache) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM pcap_index WHERE last_used_at < ?`, before.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune index cache: %w", err)
	}
	return res.RowsAffected()
}

// CacheStats summarises the cache contents.
type CacheStats struct {
	Indexes   int64 `json:"indexes"`
	Frames    int64 `json:"frames"`
	SizeBytes int64 `json:"size_bytes"`
}

// Stats counts cached indexes and frames and reports the database size.
func (c *IndexCache) Stats(ctx context.Context) (CacheStats, error) {
	var s CacheStats
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pcap_index`).Scan(&s.Indexes); err != nil {
		return s, err
	}
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pcap_frames`).Scan(&s.Frames); err != nil {
		return s, err
	}
	var pages, pageSize int64
	if err := c.db.QueryRowContext(ctx, `PRAGMA page_count`).Scan(&pages); err != nil {
		return s, err
	}
	if err := c.db.QueryRowContext(ctx, `PRAGMA page_size`).Scan(&pageSize); err != nil {
		return s, err
	}
	s.SizeBytes = pages * pageSize
	return s, nil
}

// Vacuum compacts the database file.
func (c *IndexCache) Vacuum(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, `VACUUM`)
	return err
}

// Backup writes a consistent copy of the database to dest.
func (c *IndexCache) Backup(ctx context.Context, dest string) error {
	if _, err := c.db.ExecContext(ctx, `VACUUM INTO ?`, dest); err != nil {
		return fmt.Errorf("failed to back up index cache: %w", err)
	}
	return nil
}
