// Package testutil 提供测试用的内存数据库
package testutil

import (
	"path/filepath"
	"testing"

	"walletledger/internal/infrastructure/database"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDB 打开迁移好的 sqlite 内存库。只保留一个连接：
// 内存库随连接存在，且单连接让并发事务在库内串行执行。
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// NewFileDB 打开临时目录下的 sqlite 文件库，允许多个连接并发进入事务。
// 事务以 BEGIN IMMEDIATE 开始，写锁冲突时等待 busy_timeout。
func NewFileDB(t testing.TB, maxConns int) *gorm.DB {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "ledger.db") +
		"?_busy_timeout=10000&_txlock=immediate&_journal_mode=WAL"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(maxConns)
	t.Cleanup(func() { sqlDB.Close() })

	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}
