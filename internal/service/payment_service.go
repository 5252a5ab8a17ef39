package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"time"

	"github.com/kamicore/internal/constants"
	"github.com/kamicore/internal/logger"
	"github.com/kamicore/internal/models"
	"github.com/kamicore/internal/payment/epay"
	"github.com/kamicore/internal/repository"

	"github.com/shopspring/decimal"
)

// amountTolerance 网关金额比对容差
var amountTolerance = decimal.NewFromFloat(0.01)

// Gateway 支付网关契约，便于测试替换
type Gateway interface {
	BuildPaymentURL(orderNo, amount, subject string) (string, error)
	QueryOrder(ctx context.Context, orderNo string) (*epay.QueryResult, error)
	Refund(ctx context.Context, tradeNo, amount string) (*epay.RefundResult, error)
	VerifyCallback(form map[string][]string) error
}

// PaymentService 支付对账：回调、主动查单、后台扫描三路收敛到 MarkPaid
type PaymentService struct {
	orderSvc       *OrderService
	productRepo    repository.ProductRepository
	paymentLogRepo repository.PaymentLogRepository
	gateway        Gateway
	expireAfter    time.Duration
	pollRetryDelay time.Duration
}

// NewPaymentService 创建支付服务
func NewPaymentService(
	orderSvc *OrderService,
	productRepo repository.ProductRepository,
	paymentLogRepo repository.PaymentLogRepository,
	gateway Gateway,
	expireAfter time.Duration,
	pollRetryDelay time.Duration,
) *PaymentService {
	if expireAfter <= 0 {
		expireAfter = 15 * time.Minute
	}
	if pollRetryDelay <= 0 {
		pollRetryDelay = 2 * time.Second
	}
	return &PaymentService{
		orderSvc:       orderSvc,
		productRepo:    productRepo,
		paymentLogRepo: paymentLogRepo,
		gateway:        gateway,
		expireAfter:    expireAfter,
		pollRetryDelay: pollRetryDelay,
	}
}

// CreatePayment 为待支付订单生成收银台跳转地址
func (s *PaymentService) CreatePayment(order *models.Order) (string, error) {
	if order.Status != constants.OrderStatusPending {
		return "", ErrOrderStatusInvalid
	}
	if s.gateway == nil {
		return "", ErrGatewayUnavailable
	}
	subject := order.OrderNo
	if product, err := s.productRepo.GetByID(order.ProductID); err == nil {
		subject = product.Name
	}
	payURL, err := s.gateway.BuildPaymentURL(order.OrderNo, order.Amount.String(), subject)
	if err != nil {
		s.appendLog(order.OrderNo, constants.PaymentEventPayCreate, nil, constants.PaymentResultFail, err.Error())
		return "", ErrGatewayUnavailable
	}
	s.appendLog(order.OrderNo, constants.PaymentEventPayCreate, map[string]interface{}{
		"amount": order.Amount.String(),
	}, constants.PaymentResultSuccess, "")
	return payURL, nil
}

// HandleCallback 处理网关异步通知，返回应答文本（success/fail）。
// 验签失败与金额不符都不产生任何状态变更；重放依赖
// MarkPaid 的条件更新保持幂等。
func (s *PaymentService) HandleCallback(form url.Values) (string, error) {
	orderNo := form.Get("out_trade_no")
	payload := callbackPayload(form)

	if s.gateway == nil {
		return constants.EpayCallbackFail, ErrGatewayUnavailable
	}
	if err := s.gateway.VerifyCallback(form); err != nil {
		s.appendLog(orderNo, constants.PaymentEventPayNotify, payload, constants.PaymentResultFail, "signature invalid")
		logger.Warnw("payment_callback_sign_invalid", "order_no", orderNo)
		return constants.EpayCallbackFail, ErrGatewaySignatureInvalid
	}
	if form.Get("trade_status") != constants.EpayTradeStatusSuccess {
		s.appendLog(orderNo, constants.PaymentEventPayNotify, payload, constants.PaymentResultIgnore, "trade_status not success")
		return constants.EpayCallbackSuccess, nil
	}

	order, err := s.orderSvc.GetByOrderNo(orderNo)
	if err != nil {
		s.appendLog(orderNo, constants.PaymentEventPayNotify, payload, constants.PaymentResultFail, "order not found")
		return constants.EpayCallbackFail, err
	}
	if order.Status != constants.OrderStatusPending {
		// 回调重放：状态已收敛，直接应答成功
		s.appendLog(orderNo, constants.PaymentEventPayNotify, payload, constants.PaymentResultIgnore, "order already settled")
		return constants.EpayCallbackSuccess, nil
	}
	if !amountMatches(form.Get("money"), order.Amount) {
		s.appendLog(orderNo, constants.PaymentEventPayNotify, payload, constants.PaymentResultFail, "amount mismatch")
		logger.Warnw("payment_callback_amount_mismatch",
			"order_no", orderNo,
			"notified", form.Get("money"),
			"expected", order.Amount.String(),
		)
		return constants.EpayCallbackFail, ErrGatewayAmountMismatch
	}

	if err := s.orderSvc.MarkPaid(order.ID, form.Get("trade_no")); err != nil {
		s.appendLog(orderNo, constants.PaymentEventPayNotify, payload, constants.PaymentResultFail, err.Error())
		return constants.EpayCallbackFail, err
	}
	s.appendLog(orderNo, constants.PaymentEventPayNotify, payload, constants.PaymentResultSuccess, "")
	return constants.EpayCallbackSuccess, nil
}

// SyncOrder 主动查单路径（订单结果页触发）。
// 订单仍为 pending 时向网关查单；未支付则延迟一次后重查，
// 吸收回调链路的延迟。网关异常按未知对待，订单保持 pending。
func (s *PaymentService) SyncOrder(ctx context.Context, orderNo string) (*models.Order, error) {
	order, err := s.orderSvc.GetByOrderNo(orderNo)
	if err != nil {
		return nil, err
	}
	if order.Status != constants.OrderStatusPending {
		return order, nil
	}

	if s.syncOnce(ctx, order) {
		return s.orderSvc.GetByOrderNo(orderNo)
	}

	select {
	case <-ctx.Done():
		return order, nil
	case <-time.After(s.pollRetryDelay):
	}

	if s.syncOnce(ctx, order) {
		return s.orderSvc.GetByOrderNo(orderNo)
	}
	return s.orderSvc.GetByOrderNo(orderNo)
}

// syncOnce 查一次网关，支付成功则结转订单，返回是否已支付
func (s *PaymentService) syncOnce(ctx context.Context, order *models.Order) bool {
	if s.gateway == nil {
		return false
	}
	result, err := s.gateway.QueryOrder(ctx, order.OrderNo)
	if err != nil {
		s.appendLog(order.OrderNo, constants.PaymentEventPayQuery, nil, constants.PaymentResultFail, err.Error())
		logger.Warnw("payment_query_failed", "order_no", order.OrderNo, "error", err)
		return false
	}
	if !result.Paid {
		s.appendLog(order.OrderNo, constants.PaymentEventPayQuery, result.Raw, constants.PaymentResultIgnore, "not paid")
		return false
	}
	if !amountMatches(result.Amount, order.Amount) {
		s.appendLog(order.OrderNo, constants.PaymentEventPayQuery, result.Raw, constants.PaymentResultFail, "amount mismatch")
		logger.Warnw("payment_query_amount_mismatch",
			"order_no", order.OrderNo,
			"reported", result.Amount,
			"expected", order.Amount.String(),
		)
		return false
	}
	if err := s.orderSvc.MarkPaid(order.ID, result.TradeNo); err != nil {
		s.appendLog(order.OrderNo, constants.PaymentEventPayQuery, result.Raw, constants.PaymentResultFail, err.Error())
		return false
	}
	s.appendLog(order.OrderNo, constants.PaymentEventPayQuery, result.Raw, constants.PaymentResultSuccess, "")
	return true
}

// SweepExpiredOrders 扫描路径：取消超时未支付订单。
// 取消前最后查一次网关，网关侧已支付的订单被结转而非取消；
// 网关不可达按未知对待，留待下一轮扫描。
func (s *PaymentService) SweepExpiredOrders(ctx context.Context, now time.Time) {
	orders, err := s.orderSvc.orderRepo.ListPendingBefore(now.Add(-s.expireAfter))
	if err != nil {
		logger.Errorw("sweep_list_pending_failed", "error", err)
		return
	}
	orders = append(orders, s.ordersWithExpiredLocks(now, orders)...)
	for i := range orders {
		order := &orders[i]
		if s.reconcileBeforeCancel(ctx, order) {
			continue
		}
		cancelled, err := s.orderSvc.CancelIfPending(order.ID)
		if err != nil {
			logger.Warnw("sweep_cancel_failed", "order_no", order.OrderNo, "error", err)
			continue
		}
		if cancelled {
			logger.Infow("sweep_order_cancelled", "order_no", order.OrderNo)
		}
	}
}

// ReconcileOrCancel 单订单版扫描路径（延迟任务触发）：
// 先对账，网关未支付且状态明确时才取消。
func (s *PaymentService) ReconcileOrCancel(ctx context.Context, orderID uint) error {
	order, err := s.orderSvc.GetByID(orderID)
	if err != nil {
		return err
	}
	if order.Status != constants.OrderStatusPending {
		return nil
	}
	if s.reconcileBeforeCancel(ctx, order) {
		return nil
	}
	cancelled, err := s.orderSvc.CancelIfPending(order.ID)
	if err != nil {
		return err
	}
	if cancelled {
		logger.Infow("order_timeout_cancelled", "order_no", order.OrderNo)
	}
	return nil
}

// ordersWithExpiredLocks 库存锁到期但尚未超过订单超时窗口的待支付订单
func (s *PaymentService) ordersWithExpiredLocks(now time.Time, seen []models.Order) []models.Order {
	locks, err := s.orderSvc.inventory.lockRepo.ListExpired(now.Unix())
	if err != nil {
		logger.Errorw("sweep_list_expired_locks_failed", "error", err)
		return nil
	}
	seenIDs := make(map[uint]struct{}, len(seen))
	for _, order := range seen {
		seenIDs[order.ID] = struct{}{}
	}
	var extra []models.Order
	for _, lock := range locks {
		if _, ok := seenIDs[lock.OrderID]; ok {
			continue
		}
		order, err := s.orderSvc.orderRepo.GetByID(lock.OrderID)
		if err != nil {
			continue
		}
		if order.Status != constants.OrderStatusPending {
			continue
		}
		extra = append(extra, *order)
	}
	return extra
}

// reconcileBeforeCancel 返回 true 表示订单不应被取消
// （网关已支付并完成结转，或网关状态未知）。
func (s *PaymentService) reconcileBeforeCancel(ctx context.Context, order *models.Order) bool {
	if s.gateway == nil {
		// 无网关即无支付真相可查，订单不可能在网关侧完成支付
		return false
	}
	result, err := s.gateway.QueryOrder(ctx, order.OrderNo)
	if err != nil {
		if errors.Is(err, epay.ErrRequestFailed) {
			// 网关不可达 ≠ 未支付，跳过本轮
			s.appendLog(order.OrderNo, constants.PaymentEventPayQuery, nil, constants.PaymentResultFail, err.Error())
			return true
		}
		// 网关明确应答查无此单，按未支付对待
		s.appendLog(order.OrderNo, constants.PaymentEventPayQuery, nil, constants.PaymentResultIgnore, err.Error())
		return false
	}
	if !result.Paid {
		return false
	}
	if !amountMatches(result.Amount, order.Amount) {
		s.appendLog(order.OrderNo, constants.PaymentEventPayQuery, result.Raw, constants.PaymentResultFail, "amount mismatch")
		return true
	}
	if err := s.orderSvc.MarkPaid(order.ID, result.TradeNo); err != nil {
		logger.Warnw("sweep_mark_paid_failed", "order_no", order.OrderNo, "error", err)
		return true
	}
	s.appendLog(order.OrderNo, constants.PaymentEventPayQuery, result.Raw, constants.PaymentResultSuccess, "rescued by sweep")
	return true
}

func (s *PaymentService) appendLog(orderNo, eventType string, payload map[string]interface{}, result, message string) {
	encoded := ""
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			encoded = string(data)
		}
	}
	entry := &models.PaymentLog{
		OrderNo:   orderNo,
		EventType: eventType,
		Payload:   encoded,
		Result:    result,
		Message:   message,
	}
	if err := s.paymentLogRepo.Append(entry); err != nil {
		logger.Warnw("payment_log_append_failed", "order_no", orderNo, "event", eventType, "error", err)
	}
}

func callbackPayload(form url.Values) map[string]interface{} {
	payload := make(map[string]interface{}, len(form))
	for key, values := range form {
		if len(values) == 0 {
			continue
		}
		if key == "sign" {
			continue
		}
		payload[key] = values[0]
	}
	return payload
}

func amountMatches(reported string, expected models.Money) bool {
	value, err := decimal.NewFromString(reported)
	if err != nil {
		return false
	}
	return value.Sub(expected.Decimal).Abs().LessThanOrEqual(amountTolerance)
}
