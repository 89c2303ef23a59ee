package service

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/hireloop/ratelimitd/internal/models"
	"github.com/hireloop/ratelimitd/internal/storage"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Each test gets its own named in-memory database so parallel tests don't
// share state.
func newTestDB(t *testing.T) *storage.Postgres {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&models.TenantSubscription{},
		&models.APIKey{},
		&models.APIUsageHourly{},
		&models.RateLimitEvent{},
		&models.User{},
	)
	require.NoError(t, err)

	return &storage.Postgres{DB: db}
}

func intPtr(v int) *int {
	return &v
}
