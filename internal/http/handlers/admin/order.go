package admin

import (
	"errors"
	"strconv"
	"strings"

	"github.com/kamicore/internal/http/response"
	"github.com/kamicore/internal/models"
	"github.com/kamicore/internal/repository"
	"github.com/kamicore/internal/service"

	"github.com/gin-gonic/gin"
)

// AdminOrderDetail 管理端订单详情返回
type AdminOrderDetail struct {
	models.Order
	DeliveredCards []string           `json:"delivered_cards,omitempty"`
	PaymentLogs    []models.PaymentLog `json:"payment_logs,omitempty"`
}

// ListOrders 管理端订单列表
func (h *Handler) ListOrders(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	page, pageSize = normalizePagination(page, pageSize)

	status := strings.TrimSpace(c.Query("status"))
	orderNo := strings.TrimSpace(c.Query("order_no"))
	var productID uint
	if raw := strings.TrimSpace(c.Query("product_id")); raw != "" {
		if parsed, err := strconv.ParseUint(raw, 10, 64); err == nil {
			productID = uint(parsed)
		}
	}

	orders, total, err := h.OrderService.List(repository.OrderListFilter{
		Page:      page,
		PageSize:  pageSize,
		Status:    status,
		ProductID: productID,
		OrderNo:   orderNo,
	})
	if err != nil {
		respondError(c, response.CodeInternal, "failed to fetch orders", err)
		return
	}

	pagination := response.Pagination{
		Page:      page,
		PageSize:  pageSize,
		Total:     total,
		TotalPage: (total + int64(pageSize) - 1) / int64(pageSize),
	}
	response.SuccessWithPage(c, orders, pagination)
}

// GetOrder 管理端订单详情，附带卡密与支付事件日志
func (h *Handler) GetOrder(c *gin.Context) {
	orderNo := strings.TrimSpace(c.Param("order_no"))
	if orderNo == "" {
		respondError(c, response.CodeBadRequest, "order_no required", nil)
		return
	}

	order, err := h.OrderService.GetByOrderNo(orderNo)
	if err != nil {
		if errors.Is(err, service.ErrOrderNotFound) {
			respondError(c, response.CodeNotFound, "order not found", nil)
			return
		}
		respondError(c, response.CodeInternal, "failed to fetch order", err)
		return
	}

	logs, err := h.PaymentLogRepo.ListByOrderNo(orderNo)
	if err != nil {
		respondError(c, response.CodeInternal, "failed to fetch order", err)
		return
	}

	response.Success(c, AdminOrderDetail{
		Order:          *order,
		DeliveredCards: order.DeliveredCardList(),
		PaymentLogs:    logs,
	})
}
