package job

import (
	"context"
	"errors"
	"time"

	"walletledger/internal/service"

	"github.com/sirupsen/logrus"
)

// WithdrawTimeoutJob 取消长时间未提交网关的提现，预留金额退回余额。
// 已提交网关的提现只由网关回调或人工结算。
type WithdrawTimeoutJob struct {
	*loop
	ledger    *service.LedgerService
	timeout   time.Duration
	batchSize int
}

func NewWithdrawTimeoutJob(ledger *service.LedgerService, timeout time.Duration, log *logrus.Logger) *WithdrawTimeoutJob {
	return &WithdrawTimeoutJob{
		loop:      newLoop("WithdrawTimeoutJob", time.Minute, log),
		ledger:    ledger,
		timeout:   timeout,
		batchSize: 100,
	}
}

func (j *WithdrawTimeoutJob) Start(ctx context.Context) {
	j.run(ctx, j.cancelStaleWithdraws)
}

func (j *WithdrawTimeoutJob) cancelStaleWithdraws(ctx context.Context) {
	withdraws, err := j.ledger.StaleWithdraws(ctx, j.timeout, j.batchSize)
	if err != nil {
		j.log.WithError(err).Error("[WithdrawTimeoutJob] 查询超时提现失败")
		return
	}
	if len(withdraws) == 0 {
		return
	}

	j.log.WithField("count", len(withdraws)).Info("[WithdrawTimeoutJob] 发现超时提现")

	cancelled := 0
	for _, trans := range withdraws {
		_, err := j.ledger.ExpireWithdraw(ctx, trans.TransactionNo)
		if err != nil {
			// 查询之后已被结算或已提交网关
			if errors.Is(err, service.ErrInvalidState) {
				continue
			}
			j.log.WithError(err).WithField("transaction_no", trans.TransactionNo).
				Error("[WithdrawTimeoutJob] 取消提现失败")
			continue
		}
		cancelled++
	}

	j.log.WithField("count", cancelled).Info("[WithdrawTimeoutJob] 本次取消超时提现")
}
