package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/clipnote/clipnote/internal/model"
)

const DefaultDBFile = "clipnote.sqlite3"

// DBClient wraps the GORM handle and the underlying pool.
type DBClient struct {
	DB *gorm.DB
	db *sql.DB
}

func NewDBClient(dbPath string) (*DBClient, error) {
	if dbPath == "" {
		dbPath = DefaultDBFile
	}

	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db dir: %w", err)
		}
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	db, err := gorm.Open(sqlite.Open(dbPath+"?_foreign_keys=on"), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB from gorm: %w", err)
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(
		&model.Project{},
		&model.User{},
		&model.Label{},
		&model.LabelValue{},
		&model.Data{},
		&model.Segmentation{},
	); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	return &DBClient{DB: db, db: sqlDB}, nil
}

func (c *DBClient) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Transaction runs fn inside a single database transaction.
func (c *DBClient) Transaction(fn func(tx *gorm.DB) error) error {
	return c.DB.Transaction(fn)
}
