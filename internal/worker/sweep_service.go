package worker

import (
	"context"
	"errors"
	"time"

	"github.com/kamicore/internal/config"
)

// SweepService 纯扫描服务。
// 队列未启用时的降级形态：没有延迟任务，只靠周期扫描
// 取消超时订单、回收到期库存锁。
type SweepService struct {
	name     string
	consumer *Consumer
	interval time.Duration
	done     chan struct{}
}

// NewSweepService 创建扫描服务
func NewSweepService(cfg *config.Config, consumer *Consumer) (*SweepService, error) {
	if consumer == nil || consumer.PaymentService == nil {
		return nil, errors.New("consumer is nil")
	}
	interval := time.Minute
	if cfg != nil && cfg.Order.SweepIntervalSeconds > 0 {
		interval = time.Duration(cfg.Order.SweepIntervalSeconds) * time.Second
	}
	return &SweepService{
		name:     "sweeper",
		consumer: consumer,
		interval: interval,
		done:     make(chan struct{}),
	}, nil
}

// Name 服务名称
func (s *SweepService) Name() string {
	if s == nil || s.name == "" {
		return "sweeper"
	}
	return s.name
}

// Start 启动服务
func (s *SweepService) Start(ctx context.Context) error {
	if s == nil || s.consumer == nil {
		return errors.New("sweeper not initialized")
	}
	s.consumer.PaymentService.SweepExpiredOrders(ctx, time.Now())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case <-ticker.C:
			s.consumer.PaymentService.SweepExpiredOrders(ctx, time.Now())
		}
	}
}

// Stop 停止服务
func (s *SweepService) Stop(ctx context.Context) error {
	if s == nil {
		return nil
	}
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	return nil
}
