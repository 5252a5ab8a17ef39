package models

import "time"

// RefundRequest 退款申请（同一订单至多一条待处理申请）
type RefundRequest struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	OrderID     uint       `gorm:"index;not null" json:"order_id"`
	Reason      string     `gorm:"type:text" json:"reason"`
	Status      string     `gorm:"size:32;index;not null;default:pending" json:"status"`
	RequestedAt time.Time  `json:"requested_at"`
	ProcessedAt *time.Time `json:"processed_at"`
}
