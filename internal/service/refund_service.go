package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/kamicore/internal/constants"
	"github.com/kamicore/internal/logger"
	"github.com/kamicore/internal/models"
	"github.com/kamicore/internal/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// refundSettledMessages 网关将重复退款应答为这些文案时视为已成功
var refundSettledMessages = []string{"已完成", "已退回"}

// RefundService 退款流程：申请、审核与网关退款后的状态回滚
type RefundService struct {
	orderSvc       *OrderService
	refundRepo     repository.RefundRequestRepository
	paymentLogRepo repository.PaymentLogRepository
	gateway        Gateway
}

// NewRefundService 创建退款服务
func NewRefundService(
	orderSvc *OrderService,
	refundRepo repository.RefundRequestRepository,
	paymentLogRepo repository.PaymentLogRepository,
	gateway Gateway,
) *RefundService {
	return &RefundService{
		orderSvc:       orderSvc,
		refundRepo:     refundRepo,
		paymentLogRepo: paymentLogRepo,
		gateway:        gateway,
	}
}

// RequestRefund 用户对已支付订单发起退款申请，同一订单至多一条待处理
func (s *RefundService) RequestRefund(orderNo, reason string) (*models.RefundRequest, error) {
	order, err := s.orderSvc.GetByOrderNo(orderNo)
	if err != nil {
		return nil, err
	}
	if order.Status != constants.OrderStatusPaid {
		return nil, ErrOrderStatusInvalid
	}

	var request *models.RefundRequest
	err = models.DB.Transaction(func(tx *gorm.DB) error {
		// 行锁订单，串行化同一订单的 检查+创建，防止并发产生两条待处理申请
		var current models.Order
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&current, order.ID).Error; err != nil {
			return err
		}
		if current.Status != constants.OrderStatusPaid {
			return ErrOrderStatusInvalid
		}
		pending, err := s.refundRepo.WithTx(tx).HasPendingByOrder(order.ID)
		if err != nil {
			return err
		}
		if pending {
			return ErrRefundRequestExists
		}
		request = &models.RefundRequest{
			OrderID:     order.ID,
			Reason:      reason,
			Status:      constants.RefundStatusPending,
			RequestedAt: time.Now(),
		}
		return s.refundRepo.WithTx(tx).Create(request)
	})
	if err != nil {
		return nil, err
	}
	s.appendLog(order.OrderNo, constants.PaymentEventRefundRequest, constants.PaymentResultSuccess, reason)
	return request, nil
}

// ApproveRefund 管理员批准退款：先向网关退款，成功后回滚订单
func (s *RefundService) ApproveRefund(ctx context.Context, requestID uint) error {
	request, err := s.refundRepo.GetByID(requestID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrRefundRequestNotFound
		}
		return err
	}
	if request.Status != constants.RefundStatusPending {
		return ErrRefundRequestNotFound
	}
	order, err := s.orderSvc.GetByID(request.OrderID)
	if err != nil {
		return err
	}

	if err := s.refundViaGateway(ctx, order); err != nil {
		return err
	}
	if err := s.orderSvc.RefundAndRollback(order.ID); err != nil {
		return err
	}

	now := time.Now()
	if _, err := s.refundRepo.UpdateFromPending(request.ID, map[string]interface{}{
		"status":       constants.RefundStatusApproved,
		"processed_at": now,
	}); err != nil {
		return err
	}
	s.appendLog(order.OrderNo, constants.PaymentEventRefundApprove, constants.PaymentResultSuccess, "")
	return nil
}

// RejectRefund 管理员驳回退款申请
func (s *RefundService) RejectRefund(requestID uint) error {
	request, err := s.refundRepo.GetByID(requestID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrRefundRequestNotFound
		}
		return err
	}
	order, err := s.orderSvc.GetByID(request.OrderID)
	if err != nil {
		return err
	}
	now := time.Now()
	affected, err := s.refundRepo.UpdateFromPending(request.ID, map[string]interface{}{
		"status":       constants.RefundStatusRejected,
		"processed_at": now,
	})
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrRefundRequestNotFound
	}
	s.appendLog(order.OrderNo, constants.PaymentEventRefundReject, constants.PaymentResultSuccess, "")
	return nil
}

// DirectRefund 管理员直接退款（无需用户申请）
func (s *RefundService) DirectRefund(ctx context.Context, orderNo string) error {
	order, err := s.orderSvc.GetByOrderNo(orderNo)
	if err != nil {
		return err
	}
	if order.Status != constants.OrderStatusPaid {
		return ErrOrderStatusInvalid
	}
	if err := s.refundViaGateway(ctx, order); err != nil {
		return err
	}
	return s.orderSvc.RefundAndRollback(order.ID)
}

// ListPending 待处理退款申请
func (s *RefundService) ListPending() ([]models.RefundRequest, error) {
	return s.refundRepo.ListPending()
}

// refundViaGateway 调用网关退款。积分全额抵扣的订单没有网关流水，
// 直接视为成功；网关应答“已完成/已退回”按幂等成功对待。
func (s *RefundService) refundViaGateway(ctx context.Context, order *models.Order) error {
	if order.EpayTradeNo == "" && order.Amount.IsZero() {
		return nil
	}
	if s.gateway == nil {
		return ErrGatewayUnavailable
	}
	result, err := s.gateway.Refund(ctx, order.EpayTradeNo, order.Amount.String())
	if err != nil {
		s.appendLog(order.OrderNo, constants.PaymentEventRefundAPI, constants.PaymentResultFail, err.Error())
		return ErrGatewayUnavailable
	}
	if result.Code != 1 && !isRefundSettledMessage(result.Message) {
		s.appendLog(order.OrderNo, constants.PaymentEventRefundAPI, constants.PaymentResultFail, result.Message)
		logger.Warnw("refund_gateway_rejected", "order_no", order.OrderNo, "message", result.Message)
		return ErrRefundRejectedByGW
	}
	s.appendLog(order.OrderNo, constants.PaymentEventRefundAPI, constants.PaymentResultSuccess, result.Message)
	return nil
}

func isRefundSettledMessage(message string) bool {
	for _, marker := range refundSettledMessages {
		if strings.Contains(message, marker) {
			return true
		}
	}
	return false
}

func (s *RefundService) appendLog(orderNo, eventType, result, message string) {
	entry := &models.PaymentLog{
		OrderNo:   orderNo,
		EventType: eventType,
		Result:    result,
		Message:   message,
	}
	if err := s.paymentLogRepo.Append(entry); err != nil {
		logger.Warnw("payment_log_append_failed", "order_no", orderNo, "event", eventType, "error", err)
	}
}
