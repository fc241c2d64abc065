package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/AndreasThinks/nodeice-board/internal/events"
	"github.com/AndreasThinks/nodeice-board/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type snapshot struct {
	Posts int `json:"posts"`
}

func setupRedis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	InitRedis(mr.Addr())
	require.NotNil(t, GetClient())
	t.Cleanup(func() {
		_ = Close()
		mr.Close()
	})
	return mr
}

func TestInitRedis_Unavailable(t *testing.T) {
	InitRedis("")
	assert.Nil(t, GetClient())

	InitRedis("redis://%zz")
	assert.Nil(t, GetClient())

	InitRedis("127.0.0.1:1")
	assert.Nil(t, GetClient())
}

func TestInitRedis_URL(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	InitRedis("redis://" + mr.Addr() + "/0")
	require.NotNil(t, GetClient())
	assert.NoError(t, Close())
}

func TestAside_CachesFetchResult(t *testing.T) {
	mr := setupRedis(t)
	ctx := context.Background()

	calls := 0
	fetch := func(context.Context) (snapshot, error) {
		calls++
		return snapshot{Posts: 4}, nil
	}

	for i := 0; i < 3; i++ {
		got, err := Aside(ctx, StatsKey, StatsTTL, fetch)
		require.NoError(t, err)
		assert.Equal(t, 4, got.Posts)
	}
	assert.Equal(t, 1, calls)
	assert.True(t, mr.Exists(StatsKey))

	mr.FastForward(StatsTTL + time.Second)
	_, err := Aside(ctx, StatsKey, StatsTTL, fetch)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	Invalidate(ctx, StatsKey)
	assert.False(t, mr.Exists(StatsKey))
}

func TestAside_FetchErrorIsNotCached(t *testing.T) {
	mr := setupRedis(t)

	_, err := Aside(context.Background(), StatsKey, StatsTTL, func(context.Context) (snapshot, error) {
		return snapshot{}, errors.New("db down")
	})
	assert.Error(t, err)
	assert.False(t, mr.Exists(StatsKey))
}

func TestAside_WithoutRedisAlwaysFetches(t *testing.T) {
	InitRedis("")
	calls := 0
	for i := 0; i < 2; i++ {
		_, err := Aside(context.Background(), StatsKey, StatsTTL, func(context.Context) (snapshot, error) {
			calls++
			return snapshot{}, nil
		})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, calls)
}

func TestStatsInvalidator(t *testing.T) {
	mr := setupRedis(t)
	ctx := context.Background()
	l := StatsInvalidator()

	require.NoError(t, mr.Set(StatsKey, `{"posts":1}`))
	l.HandleEvent(ctx, events.PostCreated{Post: models.Post{ID: 1}})
	assert.False(t, mr.Exists(StatsKey))

	require.NoError(t, mr.Set(StatsKey, `{"posts":1}`))
	l.HandleEvent(ctx, events.CommentCreated{Comment: models.Comment{ID: 1, PostID: 1}})
	assert.False(t, mr.Exists(StatsKey))
}
