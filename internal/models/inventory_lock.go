package models

import "time"

// InventoryLock 库存软锁
//
// 一个待支付订单至多持有一条锁；订单离开 pending 状态或锁到期后
// 必须删除。可用库存 = 物理库存 - 未到期锁定数量之和。
type InventoryLock struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	OrderID   uint      `gorm:"uniqueIndex;not null" json:"order_id"`
	ProductID uint      `gorm:"index;not null" json:"product_id"`
	Quantity  int       `gorm:"not null" json:"quantity"`
	ExpiresAt int64     `gorm:"index;not null" json:"expires_at"` // epoch 秒
	CreatedAt time.Time `json:"created_at"`
}
