package service

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AndreasThinks/nodeice-board/internal/config"
	"github.com/AndreasThinks/nodeice-board/internal/database"
	"github.com/AndreasThinks/nodeice-board/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// setupFileDB opens a WAL SQLite file with a real connection pool, the way
// the board runs in production.
func setupFileDB(t *testing.T) *gorm.DB {
	t.Helper()
	cfg := &config.Config{
		LogLevel:                 "error",
		DBDriver:                 config.DriverSQLite,
		DBPath:                   filepath.Join(t.TempDir(), "board.db"),
		DBMaxOpenConns:           8,
		DBMaxIdleConns:           8,
		DBConnMaxLifetimeMinutes: 30,
	}
	db, err := database.Connect(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })
	return db
}

func TestBoard_ConcurrentWritersOnSharedFile(t *testing.T) {
	db := setupFileDB(t)
	policy := database.NewRetryPolicy(10)
	clock := &fakeClock{t: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	ctx := context.Background()

	inbound := NewBoardFromDB(db, policy, WithClock(clock.Now))
	sweeps := NewBoardFromDB(db.Session(&gorm.Session{NewDB: true}), policy, WithClock(clock.Now))

	oldID, err := inbound.CreatePost(ctx, "About to expire", "!a", "")
	require.NoError(t, err)
	clock.Advance(8 * 24 * time.Hour)
	freshID, err := inbound.CreatePost(ctx, "Still fresh", "!a", "")
	require.NoError(t, err)

	const workers = 8
	var (
		wg         sync.WaitGroup
		subscribed atomic.Int32
		expired    atomic.Int64
		onFresh    atomic.Int32
		mu         sync.Mutex
		errs       []error
	)
	record := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	for i := 0; i < workers; i++ {
		wg.Add(4)
		go func() {
			defer wg.Done()
			ok, err := inbound.SubscribeToAllPosts(ctx, "!b")
			if err != nil {
				record(err)
			}
			if ok {
				subscribed.Add(1)
			}
		}()
		go func(i int) {
			defer wg.Done()
			if _, err := inbound.CreateComment(ctx, freshID, fmt.Sprintf("comment %d", i), "!c", ""); err != nil {
				record(err)
				return
			}
			onFresh.Add(1)
		}(i)
		go func(i int) {
			defer wg.Done()
			// races the sweep: either lands before it or finds the post hidden
			_, err := inbound.CreateComment(ctx, oldID, fmt.Sprintf("late %d", i), "!c", "")
			if err != nil && !models.IsNotFound(err) {
				record(err)
			}
		}(i)
		go func() {
			defer wg.Done()
			n, err := sweeps.MarkExpiredAsInvisible(ctx, 7)
			if err != nil {
				record(err)
			}
			expired.Add(n)
		}()
	}
	wg.Wait()

	assert.Empty(t, errs)
	assert.Equal(t, int32(1), subscribed.Load())
	assert.Equal(t, int64(1), expired.Load())
	assert.Equal(t, int32(workers), onFresh.Load())

	_, err = inbound.GetPost(ctx, oldID)
	assert.True(t, models.IsNotFound(err))

	comments, err := inbound.GetCommentsForPost(ctx, freshID)
	require.NoError(t, err)
	assert.Len(t, comments, workers)

	subs, err := inbound.GetSubscribersForAllPosts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"!b": {}}, subs)

	total, err := inbound.GetTotalPostsCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
}
