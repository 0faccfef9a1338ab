package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet 用户钱包表，每个用户一行
//
// 不变量：
//  1. balance >= 0, pending_withdraw >= 0
//  2. total_earned / total_withdrawn 只增不减
//  3. 提现申请只在 balance 与 pending_withdraw 之间搬运，二者之和不变
type Wallet struct {
	ID              int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID          string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"user_id"`
	Balance         decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"balance"`          // 可用余额
	TotalEarned     decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"total_earned"`     // 累计收入
	TotalWithdrawn  decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"total_withdrawn"`  // 累计已结算提现
	PendingWithdraw decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"pending_withdraw"` // 提现中（已预留）
	Version         int             `gorm:"not null;default:0" json:"version"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Wallet) TableName() string {
	return "wallet"
}

// Holdings 余额 + 预留 + 已提现，只有入账会让它变大
func (w *Wallet) Holdings() decimal.Decimal {
	return w.Balance.Add(w.PendingWithdraw).Add(w.TotalWithdrawn)
}
