package public

import (
	"strings"
	"time"

	"github.com/kamicore/internal/constants"
	"github.com/kamicore/internal/http/response"
	"github.com/kamicore/internal/logger"
	"github.com/kamicore/internal/models"
	"github.com/kamicore/internal/queue"
	"github.com/kamicore/internal/service"

	"github.com/gin-gonic/gin"
)

// CreateOrderRequest 创建订单请求
type CreateOrderRequest struct {
	ProductID uint  `json:"product_id" binding:"required"`
	Quantity  int   `json:"quantity" binding:"required"`
	UserID    *uint `json:"user_id"`
	UsePoints int   `json:"use_points"`
}

// OrderDetail 订单详情响应
type OrderDetail struct {
	*models.Order
	DeliveredCards []string `json:"delivered_cards,omitempty"`
	PayURL         string   `json:"pay_url,omitempty"`
}

func newOrderDetail(order *models.Order) OrderDetail {
	detail := OrderDetail{Order: order}
	if order.Status == constants.OrderStatusPaid {
		detail.DeliveredCards = order.DeliveredCardList()
	}
	return detail
}

// CreateOrder 创建订单。
// 待支付订单同时返回网关收银台地址，并注册超时取消任务。
func (h *Handler) CreateOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "bad request", err)
		return
	}

	order, err := h.OrderService.CreateOrder(service.CreateOrderInput{
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		UserID:    req.UserID,
		UsePoints: req.UsePoints,
	})
	if err != nil {
		respondWithMappedError(c, err, orderCreateErrorRules, response.CodeInternal, "failed to create order")
		return
	}

	detail := newOrderDetail(order)
	if order.Status == constants.OrderStatusPending && !order.Amount.IsZero() {
		payURL, payErr := h.PaymentService.CreatePayment(order)
		if payErr != nil {
			logger.Warnw("order_payment_url_failed", "order_no", order.OrderNo, "error", payErr)
		} else {
			detail.PayURL = payURL
		}
		h.scheduleTimeoutCancel(order)
	}

	response.Success(c, detail)
}

// GetOrderByOrderNo 按订单号查询订单。
// 待支付订单先向网关同步一次支付结果再返回。
func (h *Handler) GetOrderByOrderNo(c *gin.Context) {
	orderNo := strings.TrimSpace(c.Param("order_no"))
	if orderNo == "" {
		respondError(c, response.CodeBadRequest, "order_no required", nil)
		return
	}

	order, err := h.PaymentService.SyncOrder(c.Request.Context(), orderNo)
	if err != nil {
		respondWithMappedError(c, err, orderCancelErrorRules, response.CodeInternal, "failed to fetch order")
		return
	}

	response.Success(c, newOrderDetail(order))
}

// CancelOrder 取消待支付订单
func (h *Handler) CancelOrder(c *gin.Context) {
	orderNo := strings.TrimSpace(c.Param("order_no"))
	if orderNo == "" {
		respondError(c, response.CodeBadRequest, "order_no required", nil)
		return
	}

	order, err := h.OrderService.GetByOrderNo(orderNo)
	if err != nil {
		respondWithMappedError(c, err, orderCancelErrorRules, response.CodeInternal, "failed to cancel order")
		return
	}

	if err := h.OrderService.CancelOrder(order.ID); err != nil {
		respondWithMappedError(c, err, orderCancelErrorRules, response.CodeInternal, "failed to cancel order")
		return
	}

	order, err = h.OrderService.GetByID(order.ID)
	if err != nil {
		respondError(c, response.CodeInternal, "failed to fetch order", err)
		return
	}

	response.Success(c, newOrderDetail(order))
}

// scheduleTimeoutCancel 注册支付窗口结束后的兜底取消任务。
// 队列不可用时仅记录日志，周期扫描会兜底。
func (h *Handler) scheduleTimeoutCancel(order *models.Order) {
	if h.QueueClient == nil || !h.QueueClient.Enabled() {
		return
	}
	expireMinutes := h.Config.Order.PaymentExpireMinutes
	if expireMinutes <= 0 {
		expireMinutes = 15
	}
	delay := time.Duration(expireMinutes) * time.Minute
	if err := h.QueueClient.EnqueueOrderTimeoutCancel(queue.OrderTimeoutCancelPayload{OrderID: order.ID}, delay); err != nil {
		logger.Warnw("order_timeout_task_enqueue_failed", "order_no", order.OrderNo, "error", err)
	}
}
