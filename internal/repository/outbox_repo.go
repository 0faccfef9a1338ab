package repository

import (
	"context"
	"encoding/json"

	"walletledger/internal/model"

	"gorm.io/gorm"
)

type OutboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// Enqueue 在业务事务内写入待发送消息，与业务数据一起提交或回滚
func (r *OutboxRepository) Enqueue(ctx context.Context, tx *gorm.DB, topic, key string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msg := &model.OutboxMessage{
		MessageKey: key,
		Topic:      topic,
		Payload:    string(body),
		Status:     model.OutboxStatusPending,
	}
	return tx.WithContext(ctx).Create(msg).Error
}

// GetPendingMessages 按写入顺序取待发送消息
func (r *OutboxRepository) GetPendingMessages(ctx context.Context, limit int) ([]*model.OutboxMessage, error) {
	var messages []*model.OutboxMessage
	err := r.db.WithContext(ctx).
		Where("status = ?", model.OutboxStatusPending).
		Order("id ASC").
		Limit(limit).
		Find(&messages).Error
	return messages, err
}

func (r *OutboxRepository) MarkSent(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).
		Model(&model.OutboxMessage{}).
		Where("id = ? AND status = ?", id, model.OutboxStatusPending).
		Update("status", model.OutboxStatusSent).Error
}

// MarkRetry 记录一次发送失败；累计达到 maxRetry 次时标记为 FAILED 不再投递
func (r *OutboxRepository) MarkRetry(ctx context.Context, msg *model.OutboxMessage, maxRetry int) error {
	updates := map[string]interface{}{
		"retry_count": gorm.Expr("retry_count + 1"),
	}
	if msg.RetryCount+1 >= maxRetry {
		updates["status"] = model.OutboxStatusFailed
	}
	return r.db.WithContext(ctx).
		Model(&model.OutboxMessage{}).
		Where("id = ? AND status = ?", msg.ID, model.OutboxStatusPending).
		Updates(updates).Error
}
