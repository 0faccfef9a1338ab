package mq

import (
	"context"
	"fmt"

	"walletledger/internal/config"
)

// Publisher 消息发布抽象，outbox 投递任务只依赖它
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
	Close() error
}

// NewPublisher 按 mq.driver 创建发布者；driver 为 none 时返回 nil
func NewPublisher(cfg *config.MQConfig) (Publisher, error) {
	switch cfg.Driver {
	case "kafka":
		return NewKafkaPublisher(cfg.Brokers)
	case "rabbitmq":
		return NewRabbitPublisher(cfg.AMQPURL, cfg.Exchange)
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("不支持的消息队列: %s", cfg.Driver)
	}
}
