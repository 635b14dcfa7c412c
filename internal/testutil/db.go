// Package testutil holds helpers shared by package tests.
package testutil

import (
	"fmt"
	"testing"

	"roadcrew/internal/database"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewSQLiteDB returns a migrated, private in-memory SQLite database.
// One connection is kept open so the database lives as long as the test.
func NewSQLiteDB(t testing.TB, plugins ...gorm.Plugin) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, p := range plugins {
		require.NoError(t, db.Use(p))
	}
	require.NoError(t, database.Migrate(db))
	return db
}
