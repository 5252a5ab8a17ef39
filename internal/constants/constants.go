package constants

// 订单状态常量
const (
	OrderStatusPending   = "pending"
	OrderStatusPaid      = "paid"
	OrderStatusCancelled = "cancelled"
	OrderStatusRefunded  = "refunded"
)

// 退款申请状态常量
const (
	RefundStatusPending  = "pending"
	RefundStatusApproved = "approved"
	RefundStatusRejected = "rejected"
)

// 支付审计事件类型常量
const (
	PaymentEventPayCreate     = "pay_create"
	PaymentEventPayNotify     = "pay_notify"
	PaymentEventPayQuery      = "pay_query"
	PaymentEventRefundRequest = "refund_request"
	PaymentEventRefundApprove = "refund_approve"
	PaymentEventRefundReject  = "refund_reject"
	PaymentEventRefundAPI     = "refund_api"
)

// 支付审计结果常量
const (
	PaymentResultSuccess = "success"
	PaymentResultFail    = "fail"
	PaymentResultIgnore  = "ignore"
)

// 易支付回调常量
const (
	EpayTradeStatusSuccess = "TRADE_SUCCESS"
	EpayCallbackSuccess    = "success"
	EpayCallbackFail       = "fail"
)

// 库存常量
const (
	StockUnlimited = -1
)

// 队列常量
const (
	QueueDefault           = "default"
	TaskOrderTimeoutCancel = "order:timeout_cancel"
)

// 缓存默认配置常量
const (
	RedisPrefixDefault = "km"
)
