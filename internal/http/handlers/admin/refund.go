package admin

import (
	"errors"
	"strconv"

	"github.com/kamicore/internal/http/response"
	"github.com/kamicore/internal/service"

	"github.com/gin-gonic/gin"
)

// ListRefundRequests 待处理退款申请列表
func (h *Handler) ListRefundRequests(c *gin.Context) {
	requests, err := h.RefundService.ListPending()
	if err != nil {
		respondError(c, response.CodeInternal, "failed to fetch refund requests", err)
		return
	}
	response.Success(c, requests)
}

// ApproveRefund 批准退款：先走网关退款，成功后回滚订单
func (h *Handler) ApproveRefund(c *gin.Context) {
	requestID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || requestID == 0 {
		respondError(c, response.CodeBadRequest, "refund request id invalid", nil)
		return
	}

	if err := h.RefundService.ApproveRefund(c.Request.Context(), uint(requestID)); err != nil {
		respondRefundActionError(c, err)
		return
	}

	response.Success(c, nil)
}

// RejectRefund 驳回退款申请
func (h *Handler) RejectRefund(c *gin.Context) {
	requestID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || requestID == 0 {
		respondError(c, response.CodeBadRequest, "refund request id invalid", nil)
		return
	}

	if err := h.RefundService.RejectRefund(uint(requestID)); err != nil {
		respondRefundActionError(c, err)
		return
	}

	response.Success(c, nil)
}

// DirectRefundRequest 管理员直接退款请求
type DirectRefundRequest struct {
	OrderNo string `json:"order_no" binding:"required"`
}

// DirectRefund 管理员对已支付订单直接退款，不经申请流程
func (h *Handler) DirectRefund(c *gin.Context) {
	var req DirectRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "bad request", err)
		return
	}

	if err := h.RefundService.DirectRefund(c.Request.Context(), req.OrderNo); err != nil {
		respondRefundActionError(c, err)
		return
	}

	response.Success(c, nil)
}

func respondRefundActionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrRefundRequestNotFound):
		respondError(c, response.CodeNotFound, "refund request not found", nil)
	case errors.Is(err, service.ErrOrderNotFound):
		respondError(c, response.CodeNotFound, "order not found", nil)
	case errors.Is(err, service.ErrOrderStatusInvalid):
		respondError(c, response.CodeBadRequest, "order is not refundable", nil)
	case errors.Is(err, service.ErrGatewayUnavailable):
		respondError(c, response.CodeInternal, "payment gateway unavailable", err)
	case errors.Is(err, service.ErrRefundRejectedByGW):
		respondError(c, response.CodeBadRequest, "gateway rejected the refund", err)
	default:
		respondError(c, response.CodeInternal, "failed to process refund", err)
	}
}
