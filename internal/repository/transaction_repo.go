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
	ErrTransactionNotFound = errors.New("流水不存在")
	ErrStatusInvalid       = errors.New("流水状态不合法")
)

// TransactionFilter 管理端列表筛选条件，空字符串表示不过滤
type TransactionFilter struct {
	Type   string
	Status string
	Page   int
	Limit  int
}

// PayoutUpdate 支付网关受理后回写的字段
type PayoutUpdate struct {
	PaymentGateway   string
	PaymentReference string
}

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, tx *gorm.DB, trans *model.Transaction) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(trans).Error
}

func (r *TransactionRepository) GetByTransactionNo(ctx context.Context, transactionNo string) (*model.Transaction, error) {
	return r.getByTransactionNo(r.db.WithContext(ctx), transactionNo)
}

// GetByTransactionNoForUpdate 事务内加行锁读取，重复结算在此排队后看到终态
func (r *TransactionRepository) GetByTransactionNoForUpdate(ctx context.Context, tx *gorm.DB, transactionNo string) (*model.Transaction, error) {
	return r.getByTransactionNo(tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), transactionNo)
}

func (r *TransactionRepository) getByTransactionNo(q *gorm.DB, transactionNo string) (*model.Transaction, error) {
	var trans model.Transaction
	err := q.Where("transaction_no = ?", transactionNo).First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &trans, nil
}

// MarkResolved pending -> 终态，条件更新保证同一笔流水只被结算一次
func (r *TransactionRepository) MarkResolved(ctx context.Context, tx *gorm.DB, transactionNo, toStatus string, processedAt time.Time) error {
	if !model.CanTransitionTo(model.TransactionStatusPending, toStatus) {
		return ErrStatusInvalid
	}

	result := tx.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("transaction_no = ? AND status = ?", transactionNo, model.TransactionStatusPending).
		Updates(map[string]interface{}{
			"status":       toStatus,
			"processed_at": processedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatusInvalid
	}
	return nil
}

// AttachPayout 为尚未提交网关的待处理提现写入网关受理信息
func (r *TransactionRepository) AttachPayout(ctx context.Context, tx *gorm.DB, transactionNo string, update PayoutUpdate) error {
	result := tx.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("transaction_no = ? AND type = ? AND status = ?", transactionNo, model.TransactionTypeWithdraw, model.TransactionStatusPending).
		Where("(payment_reference = '' OR payment_reference IS NULL)").
		Select("payment_gateway", "payment_reference").
		Updates(&model.Transaction{
			PaymentGateway:   update.PaymentGateway,
			PaymentReference: update.PaymentReference,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatusInvalid
	}
	return nil
}

// ListByUserID 用户流水，按时间倒序
func (r *TransactionRepository) ListByUserID(ctx context.Context, userID string, page, limit int) ([]*model.Transaction, int64, error) {
	page, limit = NormalizePage(page, limit)

	var transactions []*model.Transaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Transaction{}).Where("user_id = ?", userID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC, id DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&transactions).Error

	return transactions, total, err
}

// List 管理端流水列表
func (r *TransactionRepository) List(ctx context.Context, filter TransactionFilter) ([]*model.Transaction, int64, error) {
	page, limit := NormalizePage(filter.Page, filter.Limit)

	var transactions []*model.Transaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Transaction{})
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC, id DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&transactions).Error

	return transactions, total, err
}

// ListUnsubmittedWithdraws 尚未提交支付网关的待处理提现，先到先处理
func (r *TransactionRepository) ListUnsubmittedWithdraws(ctx context.Context, limit int) ([]*model.Transaction, error) {
	var transactions []*model.Transaction
	err := r.db.WithContext(ctx).
		Where("type = ? AND status = ?", model.TransactionTypeWithdraw, model.TransactionStatusPending).
		Where("(payment_reference = '' OR payment_reference IS NULL)").
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&transactions).Error
	return transactions, err
}

// ListStaleWithdraws 创建时间早于 before 且尚未提交网关的待处理提现
func (r *TransactionRepository) ListStaleWithdraws(ctx context.Context, before time.Time, limit int) ([]*model.Transaction, error) {
	var transactions []*model.Transaction
	err := r.db.WithContext(ctx).
		Where("type = ? AND status = ? AND created_at < ?", model.TransactionTypeWithdraw, model.TransactionStatusPending, before).
		Where("(payment_reference = '' OR payment_reference IS NULL)").
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&transactions).Error
	return transactions, err
}

type summaryRow struct {
	TotalIncome      decimal.Decimal
	TotalWithdrawn   decimal.Decimal
	PendingWithdraws decimal.Decimal
	TransactionCount int64
}

// Summary 全局资金汇总，单条语句聚合
func (r *TransactionRepository) Summary(ctx context.Context) (*model.FinancialSummary, error) {
	var row summaryRow
	err := r.db.WithContext(ctx).
		Model(&model.Transaction{}).
		Select(
			"COALESCE(SUM(CASE WHEN type = ? AND status = ? THEN amount ELSE 0 END), 0) AS total_income, "+
				"COALESCE(SUM(CASE WHEN type = ? AND status = ? THEN amount ELSE 0 END), 0) AS total_withdrawn, "+
				"COALESCE(SUM(CASE WHEN type = ? AND status = ? THEN amount ELSE 0 END), 0) AS pending_withdraws, "+
				"COUNT(*) AS transaction_count",
			model.TransactionTypeIncome, model.TransactionStatusSuccess,
			model.TransactionTypeWithdraw, model.TransactionStatusSuccess,
			model.TransactionTypeWithdraw, model.TransactionStatusPending,
		).
		Scan(&row).Error
	if err != nil {
		return nil, err
	}

	return &model.FinancialSummary{
		TotalIncome:      row.TotalIncome,
		TotalWithdrawn:   row.TotalWithdrawn,
		PendingWithdraws: row.PendingWithdraws,
		CurrentBalance:   row.TotalIncome.Sub(row.TotalWithdrawn),
		TransactionCount: row.TransactionCount,
	}, nil
}
