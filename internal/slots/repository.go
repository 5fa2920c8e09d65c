package slots

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Repository persists slot bodies by index.
type Repository interface {
	// LoadButtonSlots returns every stored button slot keyed by index.
	LoadButtonSlots(ctx context.Context) (map[int]ButtonSlot, error)
	// SaveButtonSlot upserts one button slot.
	SaveButtonSlot(ctx context.Context, idx int, slot ButtonSlot) error
	// LoadDisplaySlots returns every stored display slot keyed by index.
	LoadDisplaySlots(ctx context.Context) (map[int]DisplaySlot, error)
	// SaveDisplaySlot upserts one display slot.
	SaveDisplaySlot(ctx context.Context, idx int, slot DisplaySlot) error
}

// SQLiteRepository stores slots as JSON documents.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// LoadButtonSlots implements Repository.
func (r *SQLiteRepository) LoadButtonSlots(ctx context.Context) (map[int]ButtonSlot, error) {
	out := make(map[int]ButtonSlot)
	err := r.load(ctx, "button_slots", func(idx int, data []byte) error {
		var s ButtonSlot
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		out[idx] = s
		return nil
	})
	return out, err
}

// LoadDisplaySlots implements Repository.
func (r *SQLiteRepository) LoadDisplaySlots(ctx context.Context) (map[int]DisplaySlot, error) {
	out := make(map[int]DisplaySlot)
	err := r.load(ctx, "display_slots", func(idx int, data []byte) error {
		var s DisplaySlot
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		out[idx] = s
		return nil
	})
	return out, err
}

// SaveButtonSlot implements Repository.
func (r *SQLiteRepository) SaveButtonSlot(ctx context.Context, idx int, slot ButtonSlot) error {
	return r.save(ctx, "button_slots", idx, slot)
}

// SaveDisplaySlot implements Repository.
func (r *SQLiteRepository) SaveDisplaySlot(ctx context.Context, idx int, slot DisplaySlot) error {
	return r.save(ctx, "display_slots", idx, slot)
}

func (r *SQLiteRepository) load(ctx context.Context, table string, fn func(idx int, data []byte) error) error {
	rows, err := r.db.QueryContext(ctx, "SELECT idx, data FROM "+table+" ORDER BY idx") //nolint:gosec // table name is a constant
	if err != nil {
		return fmt.Errorf("querying %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var idx int
		var data string
		if err := rows.Scan(&idx, &data); err != nil {
			return fmt.Errorf("scanning %s row: %w", table, err)
		}
		if err := fn(idx, []byte(data)); err != nil {
			return fmt.Errorf("decoding %s[%d]: %w", table, idx, err)
		}
	}
	return rows.Err()
}

func (r *SQLiteRepository) save(ctx context.Context, table string, idx int, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s[%d]: %w", table, idx, err)
	}
	_, err = r.db.ExecContext(ctx, //nolint:gosec // table name is a constant
		"INSERT INTO "+table+" (idx, data, updated_at) VALUES (?, ?, ?) "+
			"ON CONFLICT(idx) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at",
		idx, string(data), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("saving %s[%d]: %w", table, idx, err)
	}
	return nil
}
