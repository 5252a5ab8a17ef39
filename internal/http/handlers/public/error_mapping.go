package public

import (
	"errors"

	"github.com/kamicore/internal/http/response"
	"github.com/kamicore/internal/logger"
	"github.com/kamicore/internal/service"

	"github.com/gin-gonic/gin"
)

// mappedHandlerError 定义业务错误到接口错误响应的映射关系。
type mappedHandlerError struct {
	target error
	code   int
	msg    string
}

func respondError(c *gin.Context, code int, msg string, err error) {
	if err != nil {
		logger.Warnw("handler_error",
			"path", c.Request.URL.Path,
			"code", code,
			"error", err,
		)
	}
	response.Error(c, code, msg)
}

func respondWithMappedError(c *gin.Context, err error, rules []mappedHandlerError, fallbackCode int, fallbackMsg string) {
	for _, rule := range rules {
		if errors.Is(err, rule.target) {
			respondError(c, rule.code, rule.msg, nil)
			return
		}
	}
	respondError(c, fallbackCode, fallbackMsg, err)
}

var orderCreateErrorRules = []mappedHandlerError{
	{target: service.ErrProductNotFound, code: response.CodeNotFound, msg: "product not found"},
	{target: service.ErrProductNotAvailable, code: response.CodeBadRequest, msg: "product not available"},
	{target: service.ErrInvalidQuantity, code: response.CodeBadRequest, msg: "quantity invalid"},
	{target: service.ErrPurchaseLimit, code: response.CodeBadRequest, msg: "purchase limit exceeded"},
	{target: service.ErrOutOfStock, code: response.CodeBadRequest, msg: "out of stock"},
	{target: service.ErrUserNotFound, code: response.CodeBadRequest, msg: "user not found"},
	{target: service.ErrPointsInsufficient, code: response.CodeBadRequest, msg: "points insufficient"},
}

var orderCancelErrorRules = []mappedHandlerError{
	{target: service.ErrOrderNotFound, code: response.CodeNotFound, msg: "order not found"},
	{target: service.ErrOrderStatusInvalid, code: response.CodeBadRequest, msg: "order cannot be cancelled"},
}

var refundRequestErrorRules = []mappedHandlerError{
	{target: service.ErrOrderNotFound, code: response.CodeNotFound, msg: "order not found"},
	{target: service.ErrOrderStatusInvalid, code: response.CodeBadRequest, msg: "order is not refundable"},
	{target: service.ErrRefundRequestExists, code: response.CodeBadRequest, msg: "refund request already pending"},
}
