package hub

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Repository persists devices and logic variables.
type Repository interface {
	List(ctx context.Context) ([]Device, error)
	Create(ctx context.Context, d *Device) error
	Update(ctx context.Context, d *Device) error
	Delete(ctx context.Context, id string) error
	UpdateState(ctx context.Context, id string, state map[string]any) error
	ListVariables(ctx context.Context) (map[string]any, error)
	SaveVariable(ctx context.Context, name string, value any) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// List returns every device ordered by name.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, class, capabilities, state, created_at, updated_at
		FROM hub_devices
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		var d Device
		var caps, state, created, updated string
		if err := rows.Scan(&d.ID, &d.Name, &d.Class, &caps, &state, &created, &updated); err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		if err := json.Unmarshal([]byte(caps), &d.Capabilities); err != nil {
			return nil, fmt.Errorf("decoding capabilities of %s: %w", d.ID, err)
		}
		if err := json.Unmarshal([]byte(state), &d.State); err != nil {
			return nil, fmt.Errorf("decoding state of %s: %w", d.ID, err)
		}
		d.CreatedAt, _ = time.Parse(time.RFC3339Nano, created) //nolint:errcheck // format is ours
		d.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated) //nolint:errcheck // format is ours
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// Create inserts a device. Returns ErrDeviceExists on duplicate id.
func (r *SQLiteRepository) Create(ctx context.Context, d *Device) error {
	caps, state, err := encodeDevice(d)
	if err != nil {
		return err
	}
	ts := now()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO hub_devices (id, name, class, capabilities, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		d.ID, d.Name, d.Class, caps, state, ts, ts)
	if err != nil {
		return fmt.Errorf("inserting device: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // sqlite always reports
		return ErrDeviceExists
	}
	return nil
}

// Update rewrites a device's definition and state.
func (r *SQLiteRepository) Update(ctx context.Context, d *Device) error {
	caps, state, err := encodeDevice(d)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE hub_devices SET name = ?, class = ?, capabilities = ?, state = ?, updated_at = ?
		WHERE id = ?`,
		d.Name, d.Class, caps, state, now(), d.ID)
	if err != nil {
		return fmt.Errorf("updating device: %w", err)
	}
	return requireRow(res)
}

// Delete removes a device.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM hub_devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	return requireRow(res)
}

// UpdateState rewrites only the state column.
func (r *SQLiteRepository) UpdateState(ctx context.Context, id string, state map[string]any) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}
	res, err := r.db.ExecContext(ctx,
		"UPDATE hub_devices SET state = ?, updated_at = ? WHERE id = ?", string(data), now(), id)
	if err != nil {
		return fmt.Errorf("updating state: %w", err)
	}
	return requireRow(res)
}

// ListVariables returns all logic variables.
func (r *SQLiteRepository) ListVariables(ctx context.Context) (map[string]any, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT name, value FROM hub_variables")
	if err != nil {
		return nil, fmt.Errorf("querying variables: %w", err)
	}
	defer rows.Close()

	vars := make(map[string]any)
	for rows.Next() {
		var name, raw string
		if err := rows.Scan(&name, &raw); err != nil {
			return nil, fmt.Errorf("scanning variable: %w", err)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("decoding variable %s: %w", name, err)
		}
		vars[name] = v
	}
	return vars, rows.Err()
}

// SaveVariable upserts a logic variable.
func (r *SQLiteRepository) SaveVariable(ctx context.Context, name string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding variable: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO hub_variables (name, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		name, string(data), now())
	if err != nil {
		return fmt.Errorf("saving variable: %w", err)
	}
	return nil
}

func encodeDevice(d *Device) (caps, state string, err error) {
	c, err := json.Marshal(d.Capabilities)
	if err != nil {
		return "", "", fmt.Errorf("encoding capabilities: %w", err)
	}
	st := d.State
	if st == nil {
		st = map[string]any{}
	}
	s, err := json.Marshal(st)
	if err != nil {
		return "", "", fmt.Errorf("encoding state: %w", err)
	}
	return string(c), string(s), nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// isNotFound reports whether err means the row is gone.
func isNotFound(err error) bool {
	return errors.Is(err, ErrDeviceNotFound) || errors.Is(err, sql.ErrNoRows)
}
