package model

import (
	"time"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// 账本事件类型，作为消息体中的 event 字段
const (
	EventIncomeRecorded    = "wallet.income_recorded"
	EventWithdrawRequested = "wallet.withdraw_requested"
	EventWithdrawResolved  = "wallet.withdraw_resolved"
)

type OutboxMessage struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageKey string    `gorm:"type:varchar(64);not null" json:"message_key"`
	Topic      string    `gorm:"type:varchar(64);not null" json:"topic"`
	Payload    string    `gorm:"type:text;not null" json:"payload"`
	Status     string    `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount int       `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_message"
}

// LedgerEvent 发往消息队列的账本事件
type LedgerEvent struct {
	Event         string     `json:"event"`
	TransactionNo string     `json:"transaction_no"`
	UserID        string     `json:"user_id"`
	Type          string     `json:"type"`
	Status        string     `json:"status"`
	Amount        string     `json:"amount"`
	OccurredAt    time.Time  `json:"occurred_at"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
}
