//go:build integration

package quota

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/kohakuhub/kohakuhub/internal/metadata"
)

func testDB(t *testing.T) *gorm.DB {
	dsn := os.Getenv("KOHAKU_TEST_DB_URL")
	if dsn == "" {
		t.Skip("KOHAKU_TEST_DB_URL not set")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&metadata.User{}))
	return db
}

func TestCheckAndUpdate_AdditiveNoReadModifyWrite(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	quota := int64(1000)
	u := &metadata.User{Username: "alice", UsernameNormalized: "alice", PublicQuotaBytes: &quota}
	require.NoError(t, db.WithContext(ctx).Create(u).Error)
	owner := Owner{UserID: &u.ID}

	require.NoError(t, Check(ctx, db, owner, Public, 500))
	require.NoError(t, Update(ctx, db, owner, Public, 500))

	err := Check(ctx, db, owner, Public, 600)
	require.Error(t, err)

	require.NoError(t, Update(ctx, db, owner, Public, -500))
	var reloaded metadata.User
	require.NoError(t, db.First(&reloaded, u.ID).Error)
	require.EqualValues(t, 0, reloaded.PublicUsedBytes)
}
