package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"
)

// ErrConflict 事务因并发冲突（死锁、锁等待超时、序列化失败）未能提交，可重试
var ErrConflict = errors.New("并发冲突，请重试")

// Store 持有数据库句柄，提供原子执行单元
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

// Atomic 在一个数据库事务中执行 fn：fn 返回 nil 时提交，返回错误或 panic 时回滚，
// 任何退出路径都会归还连接。fn 内的所有读写必须使用传入的 tx。
func (s *Store) Atomic(ctx context.Context, fn func(tx *gorm.DB) error) error {
	err := s.db.WithContext(ctx).Transaction(fn)
	if err != nil && isConflict(err) {
		return fmt.Errorf("%w: %w", ErrConflict, err)
	}
	return err
}

func isConflict(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		// 1205 锁等待超时, 1213 死锁
		return myErr.Number == 1205 || myErr.Number == 1213
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 40001 序列化失败, 40P01 死锁, 55P03 拿不到锁
		return pgErr.Code == "40001" || pgErr.Code == "40P01" || pgErr.Code == "55P03"
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked
	}

	return false
}

// NormalizePage page 从 1 开始，limit 限制在 1-100，默认 10
func NormalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}
	return page, limit
}
