package service

import (
	"context"
	"errors"
	"fmt"

	"walletledger/internal/infrastructure/lock"
	"walletledger/internal/repository"
)

// 账本操作的错误分类，调用方用 errors.Is 判断；只有 ErrConflict 可以重试
var (
	ErrNotFound          = errors.New("资源不存在")
	ErrInsufficientFunds = errors.New("可用余额不足")
	ErrPolicyViolation   = errors.New("不符合业务规则")
	ErrInvalidState      = errors.New("流水状态不允许该操作")
	ErrConflict          = errors.New("并发冲突，请稍后重试")
)

// IsRetryable 事务因并发冲突失败，原样重试可能成功
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}

// translateError 把仓储层错误归入上面的分类，保留原始错误链
func translateError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, ErrPolicyViolation),
		errors.Is(err, ErrInvalidState),
		errors.Is(err, ErrConflict):
		return err
	case errors.Is(err, repository.ErrWalletNotFound),
		errors.Is(err, repository.ErrTransactionNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, repository.ErrBalanceNotEnough):
		return fmt.Errorf("%w: %w", ErrInsufficientFunds, err)
	case errors.Is(err, repository.ErrStatusInvalid),
		errors.Is(err, repository.ErrReservationBroken):
		return fmt.Errorf("%w: %w", ErrInvalidState, err)
	case errors.Is(err, repository.ErrConflict),
		errors.Is(err, lock.ErrLockFailed),
		errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrConflict, err)
	}
	return err
}
