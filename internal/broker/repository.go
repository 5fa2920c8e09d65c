package broker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const settingDefaultBroker = "default_broker"

// Repository persists broker definitions and the default broker setting.
type Repository interface {
	ListBrokers(ctx context.Context) ([]Config, error)
	ReplaceBrokers(ctx context.Context, brokers []Config) error
	DefaultBroker(ctx context.Context) (string, error)
	SetDefaultBroker(ctx context.Context, id string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// ListBrokers returns all broker definitions ordered by id.
func (r *SQLiteRepository) ListBrokers(ctx context.Context) ([]Config, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, url, port, ws_port, enabled, protected, username, password
		FROM brokers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying brokers: %w", err)
	}
	defer rows.Close()

	var out []Config
	for rows.Next() {
		var c Config
		var enabled, protected int
		if err := rows.Scan(&c.ID, &c.URL, &c.Port, &c.WSPort, &enabled, &protected, &c.Username, &c.Password); err != nil {
			return nil, fmt.Errorf("scanning broker: %w", err)
		}
		c.Enabled = enabled != 0
		c.Protected = protected != 0
		out = append(out, c)
	}
	return out, rows.Err()
}

// ReplaceBrokers swaps the stored set for brokers in one transaction.
func (r *SQLiteRepository) ReplaceBrokers(ctx context.Context, brokers []Config) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, "DELETE FROM brokers"); err != nil {
		return fmt.Errorf("clearing brokers: %w", err)
	}
	ts := time.Now().UTC().Format(time.RFC3339)
	for _, c := range brokers {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO brokers (id, url, port, ws_port, enabled, protected, username, password, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.URL, c.Port, c.WSPort, boolInt(c.Enabled), boolInt(c.Protected), c.Username, c.Password, ts, ts)
		if err != nil {
			return fmt.Errorf("inserting broker %s: %w", c.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing brokers: %w", err)
	}
	return nil
}

// DefaultBroker returns the stored default broker id, or "" when unset.
func (r *SQLiteRepository) DefaultBroker(ctx context.Context) (string, error) {
	var v string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", settingDefaultBroker).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading default broker: %w", err)
	}
	return v, nil
}

// SetDefaultBroker stores the default broker id.
func (r *SQLiteRepository) SetDefaultBroker(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		settingDefaultBroker, id, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("saving default broker: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
