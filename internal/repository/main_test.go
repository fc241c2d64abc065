package repository

import (
	"testing"
	"time"

	"github.com/AndreasThinks/nodeice-board/internal/database"
	"github.com/AndreasThinks/nodeice-board/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testPolicy = database.RetryPolicy{
	Attempts:        3,
	InitialInterval: time.Millisecond,
	MaxInterval:     2 * time.Millisecond,
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), database.GormConfig(logger.Silent))
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, database.Migrate(db))
	return db
}

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), database.GormConfig(logger.Silent))
	require.NoError(t, err)

	return gormDB, mock
}

func insertPost(t *testing.T, db *gorm.DB, content, author string, createdAt time.Time, visible bool) *models.Post {
	t.Helper()
	post := &models.Post{
		Content:   content,
		AuthorID:  author,
		CreatedAt: createdAt.UTC(),
		Visible:   true,
	}
	require.NoError(t, db.Create(post).Error)
	if !visible {
		require.NoError(t, db.Model(post).Update("visible", false).Error)
		post.Visible = false
	}
	return post
}
