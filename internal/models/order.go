package models

import (
	"encoding/json"
	"time"
)

// Order 订单
//
// DeliveredCards 在订单转为已支付时一次性写入（JSON 数组），
// 之后不再变更；refunded 仅能从 paid 进入。
type Order struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	OrderNo        string     `gorm:"size:64;uniqueIndex;not null" json:"order_no"`
	UserID         *uint      `gorm:"index" json:"user_id"`
	ProductID      uint       `gorm:"index;not null" json:"product_id"`
	Quantity       int        `gorm:"not null" json:"quantity"`
	Amount         Money      `gorm:"type:decimal(12,2);not null" json:"amount"`
	PointsUsed     int        `gorm:"not null;default:0" json:"points_used"`
	Status         string     `gorm:"size:32;index;not null;default:pending" json:"status"`
	EpayTradeNo    string     `gorm:"size:128" json:"epay_trade_no"`
	DeliveredCards string     `gorm:"type:text" json:"-"`
	CreatedAt      time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	PaidAt         *time.Time `json:"paid_at"`
}

// DeliveredCardList 解析已交付的卡密内容
func (o *Order) DeliveredCardList() []string {
	if o == nil || o.DeliveredCards == "" {
		return nil
	}
	var cards []string
	if err := json.Unmarshal([]byte(o.DeliveredCards), &cards); err != nil {
		return nil
	}
	return cards
}

// SetDeliveredCards 写入交付快照
func (o *Order) SetDeliveredCards(cards []string) error {
	data, err := json.Marshal(cards)
	if err != nil {
		return err
	}
	o.DeliveredCards = string(data)
	return nil
}
