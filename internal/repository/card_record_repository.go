package repository

import (
	"time"

	"github.com/kamicore/internal/models"

	"gorm.io/gorm"
)

// CardRecordRepository 卡密数据访问接口
type CardRecordRepository interface {
	WithTx(tx *gorm.DB) CardRecordRepository
	BatchCreate(cards []models.CardRecord) error
	CountUnused(productID uint) (int64, error)
	CountByProduct(productID uint) (int64, error)
	ListByProduct(productID uint) ([]models.CardRecord, error)
	ListByOrder(orderID uint) ([]models.CardRecord, error)
	OldestUnused(productID uint, limit int) ([]models.CardRecord, error)
	MarkUsed(ids []uint, orderID uint, usedAt time.Time) (int64, error)
	ReleaseByOrder(orderID uint) (int64, error)
}

// GormCardRecordRepository 卡密数据访问实现
type GormCardRecordRepository struct {
	db *gorm.DB
}

// NewCardRecordRepository 创建卡密仓储
func NewCardRecordRepository(db *gorm.DB) *GormCardRecordRepository {
	return &GormCardRecordRepository{db: db}
}

// WithTx 返回绑定事务的仓储
func (r *GormCardRecordRepository) WithTx(tx *gorm.DB) CardRecordRepository {
	if tx == nil {
		return r
	}
	return &GormCardRecordRepository{db: tx}
}

// BatchCreate 批量导入卡密
func (r *GormCardRecordRepository) BatchCreate(cards []models.CardRecord) error {
	if len(cards) == 0 {
		return nil
	}
	return r.db.Create(&cards).Error
}

// CountUnused 统计未使用卡密数量
func (r *GormCardRecordRepository) CountUnused(productID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.CardRecord{}).
		Where("product_id = ? AND used = ?", productID, false).
		Count(&count).Error
	return count, err
}

// CountByProduct 统计商品卡密总量
func (r *GormCardRecordRepository) CountByProduct(productID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.CardRecord{}).
		Where("product_id = ?", productID).
		Count(&count).Error
	return count, err
}

// ListByProduct 按录入顺序返回商品全部卡密（轮询模式按下标取模下发）
func (r *GormCardRecordRepository) ListByProduct(productID uint) ([]models.CardRecord, error) {
	var cards []models.CardRecord
	err := r.db.Where("product_id = ?", productID).
		Order("id asc").
		Find(&cards).Error
	return cards, err
}

// ListByOrder 查询绑定到订单的卡密
func (r *GormCardRecordRepository) ListByOrder(orderID uint) ([]models.CardRecord, error) {
	var cards []models.CardRecord
	err := r.db.Where("order_id = ?", orderID).
		Order("id asc").
		Find(&cards).Error
	return cards, err
}

// OldestUnused 按 FIFO 取最早录入的未使用卡密
func (r *GormCardRecordRepository) OldestUnused(productID uint, limit int) ([]models.CardRecord, error) {
	var cards []models.CardRecord
	err := r.db.Where("product_id = ? AND used = ?", productID, false).
		Order("id asc").
		Limit(limit).
		Find(&cards).Error
	return cards, err
}

// MarkUsed 条件标记卡密为已使用，RowsAffected 小于 len(ids) 说明有并发抢占
func (r *GormCardRecordRepository) MarkUsed(ids []uint, orderID uint, usedAt time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := r.db.Model(&models.CardRecord{}).
		Where("id IN ? AND used = ?", ids, false).
		Updates(map[string]interface{}{
			"used":     true,
			"order_id": orderID,
			"used_at":  usedAt,
		})
	return result.RowsAffected, result.Error
}

// ReleaseByOrder 解绑订单占用的卡密（无绑定时为空操作）
func (r *GormCardRecordRepository) ReleaseByOrder(orderID uint) (int64, error) {
	result := r.db.Model(&models.CardRecord{}).
		Where("order_id = ?", orderID).
		Updates(map[string]interface{}{
			"used":     false,
			"order_id": nil,
			"used_at":  nil,
		})
	return result.RowsAffected, result.Error
}
