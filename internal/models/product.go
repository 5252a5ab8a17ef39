package models

import (
	"time"

	"github.com/kamicore/internal/constants"
)

// Product 商品
//
// Stock 仅在非轮询卡密模式下有意义：-1 表示不限量，
// 轮询模式（CardMode=true）下可售数量只受卡密池大小约束。
type Product struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	Name          string    `gorm:"size:255;not null" json:"name"`
	Slug          string    `gorm:"size:255;uniqueIndex;not null" json:"slug"`
	Description   string    `gorm:"type:text" json:"description"`
	Price         Money     `gorm:"type:decimal(12,2);not null" json:"price"`
	Stock         int       `gorm:"not null;default:-1" json:"stock"`
	CardMode      bool      `gorm:"not null;default:false" json:"card_mode"`
	PurchaseLimit int       `gorm:"not null;default:0" json:"purchase_limit"` // 0 表示不限购
	SoldCount     int       `gorm:"not null;default:0" json:"sold_count"`
	IsActive      bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// StockUnlimited 库存是否不限量
func (p *Product) StockUnlimited() bool {
	return p.Stock == constants.StockUnlimited
}
