package job

import (
	"context"
	"time"

	"walletledger/internal/infrastructure/metrics"
	"walletledger/internal/infrastructure/mq"
	"walletledger/internal/model"
	"walletledger/internal/repository"

	"github.com/sirupsen/logrus"
)

// OutboxSender 把已提交的账本事件投递到消息队列，至少投递一次
type OutboxSender struct {
	*loop
	outboxRepo *repository.OutboxRepository
	publisher  mq.Publisher
	maxRetry   int
	batchSize  int
}

func NewOutboxSender(outboxRepo *repository.OutboxRepository, publisher mq.Publisher, maxRetry int, log *logrus.Logger) *OutboxSender {
	if maxRetry <= 0 {
		maxRetry = 5
	}
	return &OutboxSender{
		loop:       newLoop("OutboxSender", 100*time.Millisecond, log),
		outboxRepo: outboxRepo,
		publisher:  publisher,
		maxRetry:   maxRetry,
		batchSize:  100,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	s.run(ctx, s.processPendingMessages)
}

func (s *OutboxSender) processPendingMessages(ctx context.Context) {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		s.log.WithError(err).Error("[OutboxSender] 查询消息失败")
		return
	}

	for _, msg := range messages {
		s.sendMessage(ctx, msg)
	}
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) {
	fields := logrus.Fields{"id": msg.ID, "topic": msg.Topic, "key": msg.MessageKey}

	err := s.publisher.Publish(ctx, msg.Topic, msg.MessageKey, []byte(msg.Payload))
	if err == nil {
		metrics.OutboxMessages.WithLabelValues("sent").Inc()
		if updateErr := s.outboxRepo.MarkSent(ctx, msg.ID); updateErr != nil {
			s.log.WithFields(fields).WithError(updateErr).Error("[OutboxSender] 更新消息状态失败")
		}
		return
	}

	s.log.WithFields(fields).WithError(err).Warn("[OutboxSender] 消息发送失败")
	metrics.OutboxMessages.WithLabelValues("retry").Inc()

	if err := s.outboxRepo.MarkRetry(ctx, msg, s.maxRetry); err != nil {
		s.log.WithFields(fields).WithError(err).Error("[OutboxSender] 记录重试失败")
		return
	}
	if msg.RetryCount+1 >= s.maxRetry {
		metrics.OutboxMessages.WithLabelValues("failed").Inc()
		s.log.WithFields(fields).Error("[OutboxSender] 消息超过最大重试次数，标记为失败")
	}
}
