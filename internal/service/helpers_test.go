package service

import (
	"crypto/rand"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"cfdi-descargas/internal/downloader"
	"cfdi-descargas/internal/repository/sqlite"
	"cfdi-descargas/internal/secrets"
	"cfdi-descargas/internal/storage"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sqlite.OpenAndMigrate(filepath.Join(t.TempDir(), "service.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newKeyring(t *testing.T) *secrets.Keyring {
	t.Helper()

	master := make([]byte, 32)
	_, err := rand.Read(master)
	require.NoError(t, err)
	keyring, err := secrets.NewKeyring(master)
	require.NoError(t, err)
	return keyring
}

func newLocalStore(t *testing.T) *storage.LocalService {
	t.Helper()

	store, err := storage.NewLocalService(t.TempDir())
	require.NoError(t, err)
	return store
}

func quietLogger() *logrus.Logger {
	logger, _ := test.NewNullLogger()
	return logger
}

func newSessions() downloader.Manager {
	return downloader.NewManager(downloader.Config{Logger: quietLogger()}, nil)
}
