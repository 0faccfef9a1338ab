package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"walletledger/internal/infrastructure/metrics"
	"walletledger/internal/model"
	"walletledger/internal/repository"
	"walletledger/pkg/idgen"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

const summaryCacheKey = "financial_summary"

// UserLocker 跨实例串行化同一用户的提现申请
type UserLocker interface {
	LockUser(ctx context.Context, userID string) (func(), error)
}

// SummaryCache 资金汇总报表的缓存
type SummaryCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}) error
}

type LedgerOptions struct {
	MinWithdraw decimal.Decimal
	// EventTopic 为空时不写 outbox 事件
	EventTopic   string
	Locker       UserLocker
	SummaryCache SummaryCache
}

// IncomeMeta 入账附带的业务信息
type IncomeMeta struct {
	CampaignID       string
	Description      string
	PaymentReference string
	Notes            string
}

type WithdrawRequest struct {
	Amount         decimal.Decimal
	PaymentMethod  string
	PaymentDetails model.PaymentDetails
	Notes          string
}

type TransactionPage struct {
	Items []*model.Transaction `json:"items"`
	Total int64                `json:"total"`
	Page  int                  `json:"page"`
	Limit int                  `json:"limit"`
}

// LedgerService 账本引擎：钱包余额的所有变更都经过这里，每次变更是一个数据库事务
type LedgerService struct {
	store        *repository.Store
	wallets      *repository.WalletRepository
	transactions *repository.TransactionRepository
	outbox       *repository.OutboxRepository
	ids          *idgen.Snowflake
	log          *logrus.Logger
	tracer       trace.Tracer
	opts         LedgerOptions
	now          func() time.Time
}

func NewLedgerService(db *gorm.DB, ids *idgen.Snowflake, log *logrus.Logger, opts LedgerOptions) *LedgerService {
	if !opts.MinWithdraw.IsPositive() {
		opts.MinWithdraw = decimal.NewFromInt(50000)
	}
	return &LedgerService{
		store:        repository.NewStore(db),
		wallets:      repository.NewWalletRepository(db),
		transactions: repository.NewTransactionRepository(db),
		outbox:       repository.NewOutboxRepository(db),
		ids:          ids,
		log:          log,
		tracer:       otel.Tracer("walletledger/internal/service"),
		opts:         opts,
		now:          time.Now,
	}
}

// CreateWallet 为用户开户，已存在时直接返回
func (s *LedgerService) CreateWallet(ctx context.Context, userID string) (*model.Wallet, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id 不能为空", ErrPolicyViolation)
	}
	wallet, err := s.wallets.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, translateError(err)
	}
	return wallet, nil
}

func (s *LedgerService) GetWallet(ctx context.Context, userID string) (*model.Wallet, error) {
	wallet, err := s.wallets.GetByUserID(ctx, userID)
	if err != nil {
		return nil, translateError(err)
	}
	return wallet, nil
}

// RecordIncome 入账：写一笔成功的 income 流水，balance 与 total_earned 同时增加
func (s *LedgerService) RecordIncome(ctx context.Context, userID string, amount decimal.Decimal, meta IncomeMeta) (*model.Transaction, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.RecordIncome",
		trace.WithAttributes(attribute.String("ledger.user_id", userID)))
	defer span.End()
	timer := prometheus.NewTimer(metrics.LedgerOperationDuration.WithLabelValues("RecordIncome"))
	defer timer.ObserveDuration()

	if err := checkAmount(amount); err != nil {
		return nil, s.fail("RecordIncome", span, err)
	}

	now := s.now()
	trans := &model.Transaction{
		TransactionNo:    s.ids.NewTransactionNo(idgen.PrefixIncome),
		UserID:           userID,
		Type:             model.TransactionTypeIncome,
		Amount:           amount,
		Status:           model.TransactionStatusSuccess,
		PaymentReference: meta.PaymentReference,
		CampaignID:       meta.CampaignID,
		Description:      meta.Description,
		Notes:            meta.Notes,
		ProcessedAt:      &now,
	}

	err := s.store.Atomic(ctx, func(tx *gorm.DB) error {
		if err := s.wallets.Credit(ctx, tx, userID, amount); err != nil {
			return err
		}
		if err := s.transactions.Create(ctx, tx, trans); err != nil {
			return fmt.Errorf("记录流水失败: %w", err)
		}
		return s.enqueue(ctx, tx, model.EventIncomeRecorded, trans)
	})
	if err != nil {
		return nil, s.fail("RecordIncome", span, translateError(err))
	}

	metrics.LedgerOperations.WithLabelValues("RecordIncome", "ok").Inc()
	s.log.WithFields(logrus.Fields{
		"transaction_no": trans.TransactionNo,
		"user_id":        userID,
		"amount":         amount.String(),
	}).Info("入账成功")
	return trans, nil
}

// RequestWithdraw 提现申请：校验规则后把金额从 balance 预留到 pending_withdraw，
// 同时写一笔 pending 状态的 withdraw 流水
func (s *LedgerService) RequestWithdraw(ctx context.Context, userID string, req WithdrawRequest) (*model.Transaction, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.RequestWithdraw",
		trace.WithAttributes(
			attribute.String("ledger.user_id", userID),
			attribute.String("ledger.amount", req.Amount.String()),
		))
	defer span.End()
	timer := prometheus.NewTimer(metrics.LedgerOperationDuration.WithLabelValues("RequestWithdraw"))
	defer timer.ObserveDuration()

	if err := checkAmount(req.Amount); err != nil {
		return nil, s.fail("RequestWithdraw", span, err)
	}
	if req.Amount.LessThan(s.opts.MinWithdraw) {
		return nil, s.fail("RequestWithdraw", span, fmt.Errorf("%w: 提现金额不能低于 %s", ErrPolicyViolation, s.opts.MinWithdraw.String()))
	}
	if !model.IsValidPaymentMethod(req.PaymentMethod) {
		return nil, s.fail("RequestWithdraw", span, fmt.Errorf("%w: 不支持的收款方式 %q", ErrPolicyViolation, req.PaymentMethod))
	}

	if s.opts.Locker != nil {
		release, err := s.opts.Locker.LockUser(ctx, userID)
		if err != nil {
			return nil, s.fail("RequestWithdraw", span, translateError(err))
		}
		defer release()
	}

	trans := &model.Transaction{
		TransactionNo:  s.ids.NewTransactionNo(idgen.PrefixWithdraw),
		UserID:         userID,
		Type:           model.TransactionTypeWithdraw,
		Amount:         req.Amount,
		Status:         model.TransactionStatusPending,
		PaymentMethod:  req.PaymentMethod,
		PaymentDetails: req.PaymentDetails,
		Notes:          req.Notes,
	}

	err := s.store.Atomic(ctx, func(tx *gorm.DB) error {
		wallet, err := s.wallets.GetByUserIDForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}
		if wallet.Balance.LessThan(req.Amount) {
			return repository.ErrBalanceNotEnough
		}
		if err := s.wallets.Reserve(ctx, tx, userID, req.Amount); err != nil {
			return err
		}
		if err := s.transactions.Create(ctx, tx, trans); err != nil {
			return fmt.Errorf("记录流水失败: %w", err)
		}
		return s.enqueue(ctx, tx, model.EventWithdrawRequested, trans)
	})
	if err != nil {
		return nil, s.fail("RequestWithdraw", span, translateError(err))
	}

	metrics.LedgerOperations.WithLabelValues("RequestWithdraw", "ok").Inc()
	s.log.WithFields(logrus.Fields{
		"transaction_no": trans.TransactionNo,
		"user_id":        userID,
		"amount":         req.Amount.String(),
		"payment_method": req.PaymentMethod,
	}).Info("提现申请成功")
	return trans, nil
}

// ResolveWithdraw 结算提现：success 时预留转为已提现，failed/cancelled 时预留退回余额。
// 已是终态的流水返回 ErrInvalidState，钱包不变。
func (s *LedgerService) ResolveWithdraw(ctx context.Context, transactionNo, outcome string) (*model.Transaction, error) {
	return s.resolveWithdraw(ctx, "ResolveWithdraw", transactionNo, outcome, false)
}

// ExpireWithdraw 取消超时且尚未提交网关的提现。
// 已有出款单号的提现返回 ErrInvalidState，留给网关回调或人工结算。
func (s *LedgerService) ExpireWithdraw(ctx context.Context, transactionNo string) (*model.Transaction, error) {
	return s.resolveWithdraw(ctx, "ExpireWithdraw", transactionNo, model.TransactionStatusCancelled, true)
}

func (s *LedgerService) resolveWithdraw(ctx context.Context, op, transactionNo, outcome string, unsubmittedOnly bool) (*model.Transaction, error) {
	ctx, span := s.tracer.Start(ctx, "ledger."+op,
		trace.WithAttributes(
			attribute.String("ledger.transaction_no", transactionNo),
			attribute.String("ledger.outcome", outcome),
		))
	defer span.End()
	timer := prometheus.NewTimer(metrics.LedgerOperationDuration.WithLabelValues(op))
	defer timer.ObserveDuration()

	if !model.IsTerminalStatus(outcome) {
		return nil, s.fail(op, span, fmt.Errorf("%w: 结算结果必须是 success/failed/cancelled", ErrPolicyViolation))
	}

	var resolved *model.Transaction
	err := s.store.Atomic(ctx, func(tx *gorm.DB) error {
		// 加锁顺序固定为先流水后钱包
		trans, err := s.transactions.GetByTransactionNoForUpdate(ctx, tx, transactionNo)
		if err != nil {
			return err
		}
		if trans.Type != model.TransactionTypeWithdraw {
			return fmt.Errorf("%w: 流水 %s 不是提现", ErrInvalidState, transactionNo)
		}
		if trans.Status != model.TransactionStatusPending {
			return fmt.Errorf("%w: 流水 %s 已是 %s", ErrInvalidState, transactionNo, trans.Status)
		}
		if unsubmittedOnly && trans.PaymentReference != "" {
			return fmt.Errorf("%w: 流水 %s 已提交网关 %s", ErrInvalidState, transactionNo, trans.PaymentReference)
		}
		if _, err := s.wallets.GetByUserIDForUpdate(ctx, tx, trans.UserID); err != nil {
			return err
		}

		now := s.now()
		if err := s.transactions.MarkResolved(ctx, tx, transactionNo, outcome, now); err != nil {
			return err
		}
		if outcome == model.TransactionStatusSuccess {
			err = s.wallets.SettleReservation(ctx, tx, trans.UserID, trans.Amount)
		} else {
			err = s.wallets.ReleaseReservation(ctx, tx, trans.UserID, trans.Amount)
		}
		if err != nil {
			return err
		}

		trans.Status = outcome
		trans.ProcessedAt = &now
		resolved = trans
		return s.enqueue(ctx, tx, model.EventWithdrawResolved, trans)
	})
	if err != nil {
		return nil, s.fail(op, span, translateError(err))
	}

	metrics.LedgerOperations.WithLabelValues(op, "ok").Inc()
	s.log.WithFields(logrus.Fields{
		"transaction_no": transactionNo,
		"user_id":        resolved.UserID,
		"amount":         resolved.Amount.String(),
		"status":         outcome,
	}).Info("提现已结算")
	return resolved, nil
}

// AttachPayout 记录支付网关受理的出款单号，不改变钱包
func (s *LedgerService) AttachPayout(ctx context.Context, transactionNo, gatewayName, reference string) error {
	ctx, span := s.tracer.Start(ctx, "ledger.AttachPayout",
		trace.WithAttributes(attribute.String("ledger.transaction_no", transactionNo)))
	defer span.End()
	timer := prometheus.NewTimer(metrics.LedgerOperationDuration.WithLabelValues("AttachPayout"))
	defer timer.ObserveDuration()

	if reference == "" {
		return s.fail("AttachPayout", span, fmt.Errorf("%w: payment_reference 不能为空", ErrPolicyViolation))
	}

	err := s.store.Atomic(ctx, func(tx *gorm.DB) error {
		trans, err := s.transactions.GetByTransactionNoForUpdate(ctx, tx, transactionNo)
		if err != nil {
			return err
		}
		switch {
		case trans.Type != model.TransactionTypeWithdraw:
			return fmt.Errorf("%w: 流水 %s 不是提现", ErrInvalidState, transactionNo)
		case trans.Status != model.TransactionStatusPending:
			return fmt.Errorf("%w: 流水 %s 已是 %s", ErrInvalidState, transactionNo, trans.Status)
		case trans.PaymentReference != "":
			return fmt.Errorf("%w: 流水 %s 已有出款单号 %s", ErrInvalidState, transactionNo, trans.PaymentReference)
		}
		return s.transactions.AttachPayout(ctx, tx, transactionNo, repository.PayoutUpdate{
			PaymentGateway:   gatewayName,
			PaymentReference: reference,
		})
	})
	if err != nil {
		return s.fail("AttachPayout", span, translateError(err))
	}
	metrics.LedgerOperations.WithLabelValues("AttachPayout", "ok").Inc()
	return nil
}

func (s *LedgerService) ListTransactions(ctx context.Context, userID string, page, limit int) (*TransactionPage, error) {
	page, limit = repository.NormalizePage(page, limit)
	items, total, err := s.transactions.ListByUserID(ctx, userID, page, limit)
	if err != nil {
		return nil, err
	}
	return &TransactionPage{Items: items, Total: total, Page: page, Limit: limit}, nil
}

// ListAll 管理端流水列表，type/status 为空表示不过滤
func (s *LedgerService) ListAll(ctx context.Context, filter repository.TransactionFilter) (*TransactionPage, error) {
	if filter.Type != "" && !model.IsValidTransactionType(filter.Type) {
		return nil, fmt.Errorf("%w: 未知的流水类型 %q", ErrPolicyViolation, filter.Type)
	}
	if filter.Status != "" && !model.IsValidTransactionStatus(filter.Status) {
		return nil, fmt.Errorf("%w: 未知的流水状态 %q", ErrPolicyViolation, filter.Status)
	}
	filter.Page, filter.Limit = repository.NormalizePage(filter.Page, filter.Limit)
	items, total, err := s.transactions.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &TransactionPage{Items: items, Total: total, Page: filter.Page, Limit: filter.Limit}, nil
}

// GetFinancialSummary 全局资金汇总。配置了缓存时结果会延迟 TTL 以内
func (s *LedgerService) GetFinancialSummary(ctx context.Context) (*model.FinancialSummary, error) {
	if s.opts.SummaryCache != nil {
		var cached model.FinancialSummary
		hit, err := s.opts.SummaryCache.Get(ctx, summaryCacheKey, &cached)
		if err != nil {
			s.log.WithError(err).Warn("读取汇总缓存失败")
		} else if hit {
			return &cached, nil
		}
	}

	summary, err := s.transactions.Summary(ctx)
	if err != nil {
		return nil, err
	}

	if s.opts.SummaryCache != nil {
		if err := s.opts.SummaryCache.Set(ctx, summaryCacheKey, summary); err != nil {
			s.log.WithError(err).Warn("写入汇总缓存失败")
		}
	}
	return summary, nil
}

// UnsubmittedWithdraws 待提交支付网关的提现
func (s *LedgerService) UnsubmittedWithdraws(ctx context.Context, limit int) ([]*model.Transaction, error) {
	return s.transactions.ListUnsubmittedWithdraws(ctx, limit)
}

// StaleWithdraws 挂起超过 olderThan 且尚未提交网关的提现
func (s *LedgerService) StaleWithdraws(ctx context.Context, olderThan time.Duration, limit int) ([]*model.Transaction, error) {
	return s.transactions.ListStaleWithdraws(ctx, s.now().Add(-olderThan), limit)
}

func (s *LedgerService) enqueue(ctx context.Context, tx *gorm.DB, event string, trans *model.Transaction) error {
	if s.opts.EventTopic == "" {
		return nil
	}
	payload := model.LedgerEvent{
		Event:         event,
		TransactionNo: trans.TransactionNo,
		UserID:        trans.UserID,
		Type:          trans.Type,
		Status:        trans.Status,
		Amount:        trans.Amount.StringFixed(2),
		OccurredAt:    s.now(),
		ProcessedAt:   trans.ProcessedAt,
	}
	if err := s.outbox.Enqueue(ctx, tx, s.opts.EventTopic, trans.UserID, payload); err != nil {
		return fmt.Errorf("写入消息失败: %w", err)
	}
	return nil
}

func (s *LedgerService) fail(op string, span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	result := errorClass(err)
	metrics.LedgerOperations.WithLabelValues(op, result).Inc()
	if result == "error" {
		s.log.WithError(err).WithField("operation", op).Error("账本操作失败")
	}
	return err
}

func errorClass(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrPolicyViolation):
		return "policy_violation"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrConflict):
		return "conflict"
	}
	return "error"
}

// checkAmount 金额必须为正且最多两位小数
func checkAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: 金额必须大于0", ErrPolicyViolation)
	}
	if !amount.Equal(amount.Truncate(2)) {
		return fmt.Errorf("%w: 金额最多两位小数", ErrPolicyViolation)
	}
	return nil
}
