package job

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// loop 定时任务骨架：按 interval 执行一轮，ctx 取消或 Stop 后退出
type loop struct {
	name     string
	interval time.Duration
	log      *logrus.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
}

func newLoop(name string, interval time.Duration, log *logrus.Logger) *loop {
	return &loop{
		name:     name,
		interval: interval,
		log:      log,
		stopCh:   make(chan struct{}),
	}
}

func (l *loop) run(ctx context.Context, tick func(ctx context.Context)) {
	l.log.WithField("job", l.name).Info("任务启动")

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.log.WithField("job", l.name).Info("收到停止信号，任务退出")
			return
		case <-l.stopCh:
			l.log.WithField("job", l.name).Info("任务停止")
			return
		case <-ticker.C:
			tick(ctx)
		}
	}
}

func (l *loop) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}
