package models

import "time"

// PaymentLog 支付审计日志（只追加，不参与业务控制流）
type PaymentLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	OrderNo   string    `gorm:"size:64;index" json:"order_no"`
	EventType string    `gorm:"size:32;index;not null" json:"event_type"`
	Payload   string    `gorm:"type:text" json:"payload"`
	Result    string    `gorm:"size:16;not null" json:"result"`
	Message   string    `gorm:"type:text" json:"message"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}
