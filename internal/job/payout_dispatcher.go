package job

import (
	"context"
	"time"

	"walletledger/internal/gateway"
	"walletledger/internal/infrastructure/metrics"
	"walletledger/internal/model"
	"walletledger/internal/service"

	"github.com/sirupsen/logrus"
)

// PayoutDispatcher 把待处理提现提交给支付网关并回写受理单号。
// 网关调用在数据库事务之外进行，失败的提现下一轮重试。
type PayoutDispatcher struct {
	*loop
	ledger    *service.LedgerService
	gateway   gateway.Gateway
	batchSize int
}

func NewPayoutDispatcher(ledger *service.LedgerService, gw gateway.Gateway, log *logrus.Logger) *PayoutDispatcher {
	return &PayoutDispatcher{
		loop:      newLoop("PayoutDispatcher", 5*time.Second, log),
		ledger:    ledger,
		gateway:   gw,
		batchSize: 50,
	}
}

func (d *PayoutDispatcher) Start(ctx context.Context) {
	d.run(ctx, d.dispatch)
}

func (d *PayoutDispatcher) dispatch(ctx context.Context) {
	withdraws, err := d.ledger.UnsubmittedWithdraws(ctx, d.batchSize)
	if err != nil {
		d.log.WithError(err).Error("[PayoutDispatcher] 查询待出款提现失败")
		return
	}

	for _, trans := range withdraws {
		d.submit(ctx, trans)
	}
}

func (d *PayoutDispatcher) submit(ctx context.Context, trans *model.Transaction) {
	entry := d.log.WithFields(logrus.Fields{
		"transaction_no": trans.TransactionNo,
		"user_id":        trans.UserID,
		"gateway":        d.gateway.Name(),
	})

	receipt, err := d.gateway.Payout(ctx, gateway.NewPayoutRequest(trans))
	if err != nil {
		metrics.Payouts.WithLabelValues(d.gateway.Name(), "rejected").Inc()
		entry.WithError(err).Warn("[PayoutDispatcher] 提交出款失败，下轮重试")
		return
	}

	if err := d.ledger.AttachPayout(ctx, trans.TransactionNo, d.gateway.Name(), receipt.Reference); err != nil {
		// 流水已被结算或已回写时网关按幂等键去重
		entry.WithError(err).Warn("[PayoutDispatcher] 回写出款单号失败")
		return
	}
	metrics.Payouts.WithLabelValues(d.gateway.Name(), "submitted").Inc()
	entry.WithField("reference", receipt.Reference).Info("[PayoutDispatcher] 出款已提交")
}
