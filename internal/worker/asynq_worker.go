package worker

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/kamicore/internal/logger"
	"github.com/kamicore/internal/provider"
	"github.com/kamicore/internal/queue"
	"github.com/kamicore/internal/service"

	"github.com/hibiken/asynq"
)

// Consumer 队列任务消费者
type Consumer struct {
	*provider.Container
}

// NewConsumer 创建消费者
func NewConsumer(c *provider.Container) *Consumer {
	return &Consumer{Container: c}
}

// Register 注册任务处理函数
func (c *Consumer) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(queue.TaskOrderTimeoutCancel, c.handleOrderTimeoutCancel)
}

// handleOrderTimeoutCancel 支付窗口结束后的订单兜底处理：
// 先向网关对账，仍未支付才取消。
func (c *Consumer) handleOrderTimeoutCancel(ctx context.Context, task *asynq.Task) error {
	var payload queue.OrderTimeoutCancelPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logger.Errorw("worker_timeout_cancel_payload_invalid", "error", err)
		return nil
	}
	err := c.PaymentService.ReconcileOrCancel(ctx, payload.OrderID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, service.ErrOrderNotFound):
		return nil
	default:
		logger.Warnw("worker_timeout_cancel_failed", "order_id", payload.OrderID, "error", err)
		return err
	}
}
