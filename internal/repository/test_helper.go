package repository

import (
	"testing"

	"github.com/meridianhq/billing-ledger/pkg/pg"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *pg.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(&AccountEntity{}, &TransactionEntity{})
	require.NoError(t, err)

	return pg.NewWithConnections(db, db)
}
