package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

const (
	TransactionTypeIncome   = "income"
	TransactionTypeWithdraw = "withdraw"
	TransactionTypeBonus    = "bonus"
	TransactionTypePenalty  = "penalty"
)

const (
	TransactionStatusPending   = "pending"
	TransactionStatusSuccess   = "success"
	TransactionStatusFailed    = "failed"
	TransactionStatusCancelled = "cancelled"
)

const (
	PaymentMethodBankTransfer = "bank_transfer"
	PaymentMethodEwallet      = "ewallet"
	PaymentMethodPaypal       = "paypal"
	PaymentMethodCrypto       = "crypto"
)

// 提现流水状态机：pending 只能流转到三个终态之一，终态不再变化
var ValidStatusTransitions = map[string][]string{
	TransactionStatusPending: {TransactionStatusSuccess, TransactionStatusFailed, TransactionStatusCancelled},
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidStatusTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

func IsTerminalStatus(status string) bool {
	return status == TransactionStatusSuccess ||
		status == TransactionStatusFailed ||
		status == TransactionStatusCancelled
}

func IsValidPaymentMethod(method string) bool {
	switch method {
	case PaymentMethodBankTransfer, PaymentMethodEwallet, PaymentMethodPaypal, PaymentMethodCrypto:
		return true
	}
	return false
}

func IsValidTransactionType(t string) bool {
	switch t {
	case TransactionTypeIncome, TransactionTypeWithdraw, TransactionTypeBonus, TransactionTypePenalty:
		return true
	}
	return false
}

func IsValidTransactionStatus(s string) bool {
	return s == TransactionStatusPending || IsTerminalStatus(s)
}

// PaymentDetails 收款信息，原样透传给支付网关
type PaymentDetails map[string]string

func (d PaymentDetails) Value() (driver.Value, error) {
	if d == nil {
		return nil, nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (d *PaymentDetails) Scan(value interface{}) error {
	if value == nil {
		*d = nil
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("payment_details: unsupported column type")
	}
	if len(raw) == 0 {
		*d = nil
		return nil
	}
	return json.Unmarshal(raw, d)
}

// Transaction 钱包流水表
//
// 只追加；提现流水在 pending -> 终态 时恰好被修改一次，之后不再变化
type Transaction struct {
	ID               int64           `gorm:"primaryKey;autoIncrement" json:"-"`
	TransactionNo    string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"`
	UserID           string          `gorm:"type:varchar(64);index;not null" json:"user_id"`
	Type             string          `gorm:"type:varchar(20);index:idx_type_status;not null" json:"type"`
	Amount           decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	Status           string          `gorm:"type:varchar(20);index:idx_type_status;not null" json:"status"`
	PaymentMethod    string          `gorm:"type:varchar(32)" json:"payment_method,omitempty"`
	PaymentReference string          `gorm:"type:varchar(128)" json:"payment_reference,omitempty"`
	PaymentGateway   string          `gorm:"type:varchar(64)" json:"payment_gateway,omitempty"`
	PaymentDetails   PaymentDetails  `gorm:"type:text" json:"payment_details,omitempty"`
	CampaignID       string          `gorm:"type:varchar(64)" json:"campaign_id,omitempty"`
	Description      string          `gorm:"type:text" json:"description,omitempty"`
	Notes            string          `gorm:"type:text" json:"notes,omitempty"`
	ProcessedAt      *time.Time      `json:"processed_at"`
	CreatedAt        time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Transaction) TableName() string {
	return "wallet_transaction"
}

// FinancialSummary 全局资金汇总报表
type FinancialSummary struct {
	TotalIncome      decimal.Decimal `json:"total_income"`
	TotalWithdrawn   decimal.Decimal `json:"total_withdrawn"`
	PendingWithdraws decimal.Decimal `json:"pending_withdraws"`
	CurrentBalance   decimal.Decimal `json:"current_balance"`
	TransactionCount int64           `json:"transaction_count"`
}
