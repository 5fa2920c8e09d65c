package panel

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Repository persists registered panels.
type Repository interface {
	List(ctx context.Context) ([]Panel, error)
	Create(ctx context.Context, p *Panel) error
	Update(ctx context.Context, p *Panel) error
	Delete(ctx context.Context, id string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// List returns every panel ordered by name.
func (r *SQLiteRepository) List(ctx context.Context) ([]Panel, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, address, mac, firmware, connectors, created_at, updated_at
		FROM panels
		ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("querying panels: %w", err)
	}
	defer rows.Close()

	var panels []Panel
	for rows.Next() {
		var p Panel
		var conns, created, updated string
		if err := rows.Scan(&p.ID, &p.Name, &p.Address, &p.Mac, &p.Firmware, &conns, &created, &updated); err != nil {
			return nil, fmt.Errorf("scanning panel: %w", err)
		}
		p.Connectors = unconfiguredConnectors()
		var stored []Connector
		if err := json.Unmarshal([]byte(conns), &stored); err != nil {
			return nil, fmt.Errorf("decoding connectors of %s: %w", p.ID, err)
		}
		copy(p.Connectors[:], stored)
		p.CreatedAt, _ = time.Parse(time.RFC3339Nano, created) //nolint:errcheck // format is ours
		p.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated) //nolint:errcheck // format is ours
		panels = append(panels, p)
	}
	return panels, rows.Err()
}

// Create inserts a panel. Returns ErrPanelExists on duplicate id.
func (r *SQLiteRepository) Create(ctx context.Context, p *Panel) error {
	conns, err := json.Marshal(p.Connectors)
	if err != nil {
		return fmt.Errorf("encoding connectors: %w", err)
	}
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO panels (id, name, address, mac, firmware, connectors, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		p.ID, p.Name, p.Address, p.Mac, p.Firmware, string(conns),
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("inserting panel: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // sqlite always reports
		return ErrPanelExists
	}
	p.CreatedAt, p.UpdatedAt = now, now
	return nil
}

// Update rewrites a panel record.
func (r *SQLiteRepository) Update(ctx context.Context, p *Panel) error {
	conns, err := json.Marshal(p.Connectors)
	if err != nil {
		return fmt.Errorf("encoding connectors: %w", err)
	}
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE panels SET name = ?, address = ?, mac = ?, firmware = ?, connectors = ?, updated_at = ?
		WHERE id = ?`,
		p.Name, p.Address, p.Mac, p.Firmware, string(conns), now.Format(time.RFC3339Nano), p.ID)
	if err != nil {
		return fmt.Errorf("updating panel: %w", err)
	}
	if err := requireRow(res); err != nil {
		return err
	}
	p.UpdatedAt = now
	return nil
}

// Delete removes a panel.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM panels WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting panel: %w", err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrPanelNotFound
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrPanelNotFound) || errors.Is(err, sql.ErrNoRows)
}
