package public

import (
	"github.com/kamicore/internal/http/response"

	"github.com/gin-gonic/gin"
)

// RefundRequestInput 申请退款请求
type RefundRequestInput struct {
	OrderNo string `json:"order_no" binding:"required"`
	Reason  string `json:"reason"`
}

// RequestRefund 对已支付订单提交退款申请
func (h *Handler) RequestRefund(c *gin.Context) {
	var req RefundRequestInput
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "bad request", err)
		return
	}

	request, err := h.RefundService.RequestRefund(req.OrderNo, req.Reason)
	if err != nil {
		respondWithMappedError(c, err, refundRequestErrorRules, response.CodeInternal, "failed to request refund")
		return
	}

	response.Success(c, request)
}
