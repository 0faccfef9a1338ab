package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"walletledger/internal/config"
	"walletledger/internal/gateway"
	"walletledger/internal/handler"
	"walletledger/internal/infrastructure/cache"
	"walletledger/internal/infrastructure/database"
	"walletledger/internal/infrastructure/lock"
	"walletledger/internal/infrastructure/logger"
	"walletledger/internal/infrastructure/mq"
	"walletledger/internal/infrastructure/tracing"
	"walletledger/internal/job"
	"walletledger/internal/repository"
	"walletledger/internal/service"
	"walletledger/pkg/idgen"

	"github.com/sirupsen/logrus"
)

func main() {
	configPath := "config/config.yaml"
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		configPath = p
	}

	// 加载配置
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logrus.WithError(err).Fatal("加载配置失败")
	}

	log := logger.New(cfg.Log.Level)

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("服务异常退出")
	}
}

func run(cfg *config.Config, log *logrus.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Init(ctx, &cfg.Tracing)
	if err != nil {
		return fmt.Errorf("初始化链路追踪失败: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.WithError(err).Warn("关闭链路追踪失败")
		}
	}()

	db, err := database.Open(&cfg.Database, &cfg.Log, log)
	if err != nil {
		return err
	}
	if err := database.Migrate(db); err != nil {
		return fmt.Errorf("数据库迁移失败: %w", err)
	}

	minWithdraw, err := cfg.Business.MinWithdrawAmount()
	if err != nil {
		return err
	}

	ids, err := idgen.New(cfg.Server.WorkerID)
	if err != nil {
		return err
	}

	opts := service.LedgerOptions{MinWithdraw: minWithdraw}

	// Redis 可选：提供跨实例的提现锁和汇总缓存
	if cfg.Redis.Enabled {
		redisClient, err := cache.InitRedis(&cfg.Redis)
		if err != nil {
			return err
		}
		defer redisClient.Close()

		opts.Locker = lock.NewUserLocker(redisClient)
		opts.SummaryCache = cache.NewJSONCache(redisClient, "wallet:cache:",
			time.Duration(cfg.Cache.SummaryTTLSeconds)*time.Second)
	}

	publisher, err := mq.NewPublisher(&cfg.MQ)
	if err != nil {
		return err
	}
	if publisher != nil {
		defer publisher.Close()
		opts.EventTopic = cfg.MQ.Topic.LedgerEvents
	}

	ledger := service.NewLedgerService(db, ids, log, opts)

	// 启动后台任务
	if publisher != nil {
		outboxSender := job.NewOutboxSender(repository.NewOutboxRepository(db), publisher, cfg.Business.MaxRetryCount, log)
		go outboxSender.Start(ctx)
		defer outboxSender.Stop()
	}

	payoutDispatcher := job.NewPayoutDispatcher(ledger, gateway.New(&cfg.Gateway), log)
	go payoutDispatcher.Start(ctx)
	defer payoutDispatcher.Stop()

	if cfg.Business.WithdrawTimeoutHours > 0 {
		timeoutJob := job.NewWithdrawTimeoutJob(ledger,
			time.Duration(cfg.Business.WithdrawTimeoutHours)*time.Hour, log)
		go timeoutJob.Start(ctx)
		defer timeoutJob.Stop()
	}

	router := handler.SetupRouter(handler.NewHandler(ledger, log), cfg, log)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.WithField("port", cfg.Server.Port).Info("服务启动")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-serverErr:
		return fmt.Errorf("服务启动失败: %w", err)
	}

	log.Info("正在关闭服务...")

	// 先停后台任务，再等待进行中的请求
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("服务关闭异常")
	}

	log.Info("服务已关闭")
	return nil
}
