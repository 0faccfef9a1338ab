package repository

import (
	"context"
	"errors"
	"time"

	"walletledger/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrWalletNotFound   = errors.New("钱包不存在")
	ErrBalanceNotEnough = errors.New("余额不足")
	// ErrReservationBroken 预留金额少于要结算/退回的金额，说明不变量已被破坏
	ErrReservationBroken = errors.New("提现预留金额不一致")
)

// WalletRepository 钱包的读取与原子变更原语。
// 变更方法只接受事务句柄，调用方为账本服务。
type WalletRepository struct {
	db *gorm.DB
}

func NewWalletRepository(db *gorm.DB) *WalletRepository {
	return &WalletRepository{db: db}
}

func (r *WalletRepository) GetByUserID(ctx context.Context, userID string) (*model.Wallet, error) {
	var wallet model.Wallet
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&wallet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &wallet, nil
}

// GetByUserIDForUpdate 在事务内加行锁读取钱包，同一钱包上的并发事务在此排队
func (r *WalletRepository) GetByUserIDForUpdate(ctx context.Context, tx *gorm.DB, userID string) (*model.Wallet, error) {
	var wallet model.Wallet
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&wallet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &wallet, nil
}

// GetOrCreate 返回用户钱包，不存在时创建零余额钱包；重复调用是安全的
func (r *WalletRepository) GetOrCreate(ctx context.Context, userID string) (*model.Wallet, error) {
	wallet, err := r.GetByUserID(ctx, userID)
	if err == nil {
		return wallet, nil
	}
	if !errors.Is(err, ErrWalletNotFound) {
		return nil, err
	}

	newWallet := &model.Wallet{
		UserID:          userID,
		Balance:         decimal.Zero,
		TotalEarned:     decimal.Zero,
		TotalWithdrawn:  decimal.Zero,
		PendingWithdraw: decimal.Zero,
	}
	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(newWallet).Error
	if err != nil {
		return nil, err
	}

	return r.GetByUserID(ctx, userID)
}

// Credit 入账：balance 与 total_earned 同时增加
func (r *WalletRepository) Credit(ctx context.Context, tx *gorm.DB, userID string, amount decimal.Decimal) error {
	result := tx.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("user_id = ?", userID).
		UpdateColumns(map[string]interface{}{
			"balance":      gorm.Expr("balance + ?", amount),
			"total_earned": gorm.Expr("total_earned + ?", amount),
			"version":      gorm.Expr("version + 1"),
			"updated_at":   time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrWalletNotFound
	}
	return nil
}

// Reserve 提现预留：资金从 balance 移到 pending_withdraw。
// 条件更新保证余额不会被扣成负数。
func (r *WalletRepository) Reserve(ctx context.Context, tx *gorm.DB, userID string, amount decimal.Decimal) error {
	result := tx.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("user_id = ? AND balance >= ?", userID, amount).
		UpdateColumns(map[string]interface{}{
			"balance":          gorm.Expr("balance - ?", amount),
			"pending_withdraw": gorm.Expr("pending_withdraw + ?", amount),
			"version":          gorm.Expr("version + 1"),
			"updated_at":       time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrBalanceNotEnough
	}
	return nil
}

// SettleReservation 提现成功：预留转为已提现
func (r *WalletRepository) SettleReservation(ctx context.Context, tx *gorm.DB, userID string, amount decimal.Decimal) error {
	return r.moveReservation(ctx, tx, userID, amount, "total_withdrawn")
}

// ReleaseReservation 提现失败或取消：预留退回可用余额
func (r *WalletRepository) ReleaseReservation(ctx context.Context, tx *gorm.DB, userID string, amount decimal.Decimal) error {
	return r.moveReservation(ctx, tx, userID, amount, "balance")
}

func (r *WalletRepository) moveReservation(ctx context.Context, tx *gorm.DB, userID string, amount decimal.Decimal, target string) error {
	result := tx.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("user_id = ? AND pending_withdraw >= ?", userID, amount).
		UpdateColumns(map[string]interface{}{
			"pending_withdraw": gorm.Expr("pending_withdraw - ?", amount),
			target:             gorm.Expr(target+" + ?", amount),
			"version":          gorm.Expr("version + 1"),
			"updated_at":       time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrReservationBroken
	}
	return nil
}
