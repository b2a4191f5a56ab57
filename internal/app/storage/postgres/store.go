package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/starkillerOG/HA-motion-blinds/internal/app/domain/device"
	"github.com/starkillerOG/HA-motion-blinds/internal/app/domain/entry"
	"github.com/starkillerOG/HA-motion-blinds/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.EntryStore = (*Store)(nil)
var _ storage.DeviceStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

type entryRow struct {
	ID          string    `db:"id"`
	Title       string    `db:"title"`
	Host        string    `db:"host"`
	APIKey      string    `db:"api_key"`
	UniqueID    string    `db:"unique_id"`
	PollSeconds int64     `db:"poll_seconds"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (r entryRow) domain() entry.ConfigEntry {
	return entry.ConfigEntry{
		ID:           r.ID,
		Title:        r.Title,
		Host:         r.Host,
		APIKey:       r.APIKey,
		UniqueID:     r.UniqueID,
		PollInterval: time.Duration(r.PollSeconds) * time.Second,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

// --- EntryStore -------------------------------------------------------------

func (s *Store) CreateEntry(ctx context.Context, e entry.ConfigEntry) (entry.ConfigEntry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO motion_entries (id, title, host, api_key, unique_id, poll_seconds, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, e.ID, e.Title, e.Host, e.APIKey, e.UniqueID, int64(e.PollInterval/time.Second), e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return entry.ConfigEntry{}, err
	}
	return e, nil
}

func (s *Store) UpdateEntry(ctx context.Context, e entry.ConfigEntry) (entry.ConfigEntry, error) {
	e.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE motion_entries
		SET title = $2, host = $3, api_key = $4, unique_id = $5, poll_seconds = $6, updated_at = $7
		WHERE id = $1
	`, e.ID, e.Title, e.Host, e.APIKey, e.UniqueID, int64(e.PollInterval/time.Second), e.UpdatedAt)
	if err != nil {
		return entry.ConfigEntry{}, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return entry.ConfigEntry{}, storage.ErrNotFound
	}
	return e, nil
}

func (s *Store) GetEntry(ctx context.Context, id string) (entry.ConfigEntry, error) {
	var row entryRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, title, host, api_key, unique_id, poll_seconds, created_at, updated_at
		FROM motion_entries WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return entry.ConfigEntry{}, storage.ErrNotFound
	}
	if err != nil {
		return entry.ConfigEntry{}, err
	}
	return row.domain(), nil
}

func (s *Store) GetEntryByUniqueID(ctx context.Context, uniqueID string) (entry.ConfigEntry, error) {
	var row entryRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, title, host, api_key, unique_id, poll_seconds, created_at, updated_at
		FROM motion_entries WHERE unique_id = $1
	`, uniqueID)
	if errors.Is(err, sql.ErrNoRows) {
		return entry.ConfigEntry{}, storage.ErrNotFound
	}
	if err != nil {
		return entry.ConfigEntry{}, err
	}
	return row.domain(), nil
}

func (s *Store) ListEntries(ctx context.Context) ([]entry.ConfigEntry, error) {
	var rows []entryRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, title, host, api_key, unique_id, poll_seconds, created_at, updated_at
		FROM motion_entries ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	entries := make([]entry.ConfigEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, row.domain())
	}
	return entries, nil
}

func (s *Store) DeleteEntry(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM motion_entries WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// --- DeviceStore ------------------------------------------------------------

type deviceRow struct {
	ID            string    `db:"id"`
	ConfigEntryID string    `db:"config_entry_id"`
	Connections   []byte    `db:"connections"`
	Identifiers   []byte    `db:"identifiers"`
	Manufacturer  string    `db:"manufacturer"`
	Model         string    `db:"model"`
	Name          string    `db:"name"`
	SWVersion     string    `db:"sw_version"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

func (r deviceRow) domain() (device.Device, error) {
	dev := device.Device{
		ID:            r.ID,
		ConfigEntryID: r.ConfigEntryID,
		Manufacturer:  r.Manufacturer,
		Model:         r.Model,
		Name:          r.Name,
		SWVersion:     r.SWVersion,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	if len(r.Connections) > 0 {
		if err := json.Unmarshal(r.Connections, &dev.Connections); err != nil {
			return device.Device{}, err
		}
	}
	if len(r.Identifiers) > 0 {
		if err := json.Unmarshal(r.Identifiers, &dev.Identifiers); err != nil {
			return device.Device{}, err
		}
	}
	return dev, nil
}

func (s *Store) GetOrCreateDevice(ctx context.Context, dev device.Device) (device.Device, error) {
	identifiersJSON, err := json.Marshal(dev.Identifiers)
	if err != nil {
		return device.Device{}, err
	}
	connectionsJSON, err := json.Marshal(dev.Connections)
	if err != nil {
		return device.Device{}, err
	}

	var existing deviceRow
	err = s.db.GetContext(ctx, &existing, `
		SELECT id, config_entry_id, connections, identifiers, manufacturer, model, name, sw_version, created_at, updated_at
		FROM motion_devices WHERE identifiers @> $1
	`, identifiersJSON)
	switch {
	case err == nil:
		dev.ID = existing.ID
		dev.CreatedAt = existing.CreatedAt
		dev.UpdatedAt = time.Now().UTC()
		_, err = s.db.ExecContext(ctx, `
			UPDATE motion_devices
			SET config_entry_id = $2, connections = $3, identifiers = $4, manufacturer = $5,
			    model = $6, name = $7, sw_version = $8, updated_at = $9
			WHERE id = $1
		`, dev.ID, dev.ConfigEntryID, connectionsJSON, identifiersJSON, dev.Manufacturer,
			dev.Model, dev.Name, dev.SWVersion, dev.UpdatedAt)
		if err != nil {
			return device.Device{}, err
		}
		return dev, nil

	case errors.Is(err, sql.ErrNoRows):
		if dev.ID == "" {
			dev.ID = uuid.NewString()
		}
		now := time.Now().UTC()
		dev.CreatedAt = now
		dev.UpdatedAt = now
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO motion_devices (id, config_entry_id, connections, identifiers, manufacturer, model, name, sw_version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, dev.ID, dev.ConfigEntryID, connectionsJSON, identifiersJSON, dev.Manufacturer,
			dev.Model, dev.Name, dev.SWVersion, dev.CreatedAt, dev.UpdatedAt)
		if err != nil {
			return device.Device{}, err
		}
		return dev, nil

	default:
		return device.Device{}, err
	}
}

func (s *Store) GetDevice(ctx context.Context, id string) (device.Device, error) {
	var row deviceRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, config_entry_id, connections, identifiers, manufacturer, model, name, sw_version, created_at, updated_at
		FROM motion_devices WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return device.Device{}, storage.ErrNotFound
	}
	if err != nil {
		return device.Device{}, err
	}
	return row.domain()
}

func (s *Store) ListDevices(ctx context.Context, configEntryID string) ([]device.Device, error) {
	query := `
		SELECT id, config_entry_id, connections, identifiers, manufacturer, model, name, sw_version, created_at, updated_at
		FROM motion_devices`
	args := []any{}
	if configEntryID != "" {
		query += ` WHERE config_entry_id = $1`
		args = append(args, configEntryID)
	}
	query += ` ORDER BY created_at`

	var rows []deviceRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	devices := make([]device.Device, 0, len(rows))
	for _, row := range rows {
		dev, err := row.domain()
		if err != nil {
			return nil, err
		}
		devices = append(devices, dev)
	}
	return devices, nil
}

func (s *Store) ListEntryIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids, `SELECT DISTINCT config_entry_id FROM motion_devices`)
	return ids, err
}

func (s *Store) DeleteDevicesForEntry(ctx context.Context, configEntryID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM motion_devices WHERE config_entry_id = $1`, configEntryID)
	return err
}
