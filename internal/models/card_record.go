package models

import "time"

// CardRecord 卡密记录
//
// 未使用（Used=false）的卡密 OrderID 必须为空；轮询模式商品的卡密
// 永远不会被标记为已使用，内容按付费订单数取模轮流下发。
type CardRecord struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	ProductID uint       `gorm:"index;not null" json:"product_id"`
	Content   string     `gorm:"type:text;not null" json:"content"`
	Used      bool       `gorm:"index;not null;default:false" json:"used"`
	OrderID   *uint      `gorm:"index" json:"order_id"`
	UsedAt    *time.Time `json:"used_at"`
	CreatedAt time.Time  `json:"created_at"`
}
