package gormpersistence

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"multiplayer-life/internal/domain"
	"multiplayer-life/internal/repository"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// One connection, so every query sees the same in-memory database.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&domain.Snapshot{}))
	return db
}

func snapshotAt(t *testing.T, roomID string, gen uint64, at time.Time) *domain.Snapshot {
	t.Helper()
	grid := domain.NewGrid(2, 2)
	grid.Set(0, 1, domain.CellState{IsAlive: true, OwnerID: "p", Color: "#FF0000"})
	s := &domain.Snapshot{RoomID: roomID, Generation: gen, CreatedAt: at}
	require.NoError(t, s.SetGrid(grid))
	return s
}

func TestGormSnapshotRepository_LatestWins(t *testing.T) {
	repo := NewGormSnapshotRepository(newTestDB(t))
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.SaveSnapshot(ctx, snapshotAt(t, "room-a", 1, base)))
	require.NoError(t, repo.SaveSnapshot(ctx, snapshotAt(t, "room-a", 7, base.Add(time.Minute))))
	require.NoError(t, repo.SaveSnapshot(ctx, snapshotAt(t, "room-b", 99, base.Add(time.Hour))))

	got, err := repo.GetLatestSnapshot(ctx, "room-a")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), got.Generation)
	grid, err := got.ParseGrid()
	require.NoError(t, err)
	assert.True(t, grid.At(0, 1).IsAlive)
	assert.Equal(t, "p", grid.At(0, 1).OwnerID)
}

func TestGormSnapshotRepository_NotFound(t *testing.T) {
	repo := NewGormSnapshotRepository(newTestDB(t))
	_, err := repo.GetLatestSnapshot(context.Background(), "missing")
	assert.ErrorIs(t, err, repository.ErrSnapshotNotFound)
}
