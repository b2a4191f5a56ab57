package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/starkillerOG/HA-motion-blinds/internal/app/domain/device"
	"github.com/starkillerOG/HA-motion-blinds/internal/app/domain/entry"
	"github.com/starkillerOG/HA-motion-blinds/internal/app/storage"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "postgres")), mock
}

func TestStore_CreateEntry(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO motion_entries")).
		WithArgs(sqlmock.AnyArg(), "Living room", "192.168.1.10", "abcdefghijklmnop", "aabbccddeeff",
			int64(900), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	e, err := store.CreateEntry(context.Background(), entry.ConfigEntry{
		Title:        "Living room",
		Host:         "192.168.1.10",
		APIKey:       "abcdefghijklmnop",
		UniqueID:     "aabbccddeeff",
		PollInterval: 900 * time.Second,
	})
	require.NoError(t, err)
	require.NotEmpty(t, e.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetEntryNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id, title, host").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.GetEntry(context.Background(), "missing")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_GetOrCreateDeviceInsertsWhenMissing(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id, config_entry_id").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO motion_devices")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	dev, err := store.GetOrCreateDevice(context.Background(), device.Device{
		ConfigEntryID: "entry-1",
		Connections:   map[string]string{device.ConnectionNetworkMAC: "aabbccddeeff"},
		Identifiers:   map[string]string{device.IdentifierDomain: "unique-1"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, dev.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ListEntryIDs(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT config_entry_id FROM motion_devices")).
		WillReturnRows(sqlmock.NewRows([]string{"config_entry_id"}).
			AddRow("entry-1").
			AddRow("entry-2"))

	ids, err := store.ListEntryIDs(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"entry-1", "entry-2"}, ids)
}

func TestStore_DeleteEntryNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM motion_entries")).
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.DeleteEntry(context.Background(), "missing")
	require.ErrorIs(t, err, storage.ErrNotFound)
}
