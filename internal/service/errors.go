package service

import "errors"

// 业务错误集中定义，handler 层据此映射接口错误码
var (
	ErrProductNotFound     = errors.New("product not found")
	ErrProductNotAvailable = errors.New("product not available")
	ErrInvalidQuantity     = errors.New("invalid quantity")
	ErrPurchaseLimit       = errors.New("purchase limit exceeded")
	ErrOutOfStock          = errors.New("out of stock")

	ErrOrderNotFound      = errors.New("order not found")
	ErrOrderStatusInvalid = errors.New("order status invalid")

	ErrUserNotFound       = errors.New("user not found")
	ErrPointsInsufficient = errors.New("points insufficient")

	ErrGatewaySignatureInvalid = errors.New("gateway signature invalid")
	ErrGatewayAmountMismatch   = errors.New("gateway amount mismatch")
	ErrGatewayUnavailable      = errors.New("gateway unavailable")

	ErrRefundRequestNotFound = errors.New("refund request not found")
	ErrRefundRequestExists   = errors.New("refund request already pending")
	ErrRefundRejectedByGW    = errors.New("refund rejected by gateway")
)
