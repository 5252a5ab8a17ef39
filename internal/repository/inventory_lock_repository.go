package repository

import (
	"github.com/kamicore/internal/models"

	"gorm.io/gorm"
)

// InventoryLockRepository 库存锁数据访问接口
type InventoryLockRepository interface {
	WithTx(tx *gorm.DB) InventoryLockRepository
	Create(lock *models.InventoryLock) error
	GetByOrder(orderID uint) (*models.InventoryLock, error)
	DeleteByOrder(orderID uint) (int64, error)
	SumActiveByProduct(productID uint, now int64) (int, error)
	ListExpired(now int64) ([]models.InventoryLock, error)
}

// GormInventoryLockRepository 库存锁数据访问实现
type GormInventoryLockRepository struct {
	db *gorm.DB
}

// NewInventoryLockRepository 创建库存锁仓储
func NewInventoryLockRepository(db *gorm.DB) *GormInventoryLockRepository {
	return &GormInventoryLockRepository{db: db}
}

// WithTx 返回绑定事务的仓储
func (r *GormInventoryLockRepository) WithTx(tx *gorm.DB) InventoryLockRepository {
	if tx == nil {
		return r
	}
	return &GormInventoryLockRepository{db: tx}
}

// Create 创建库存锁
func (r *GormInventoryLockRepository) Create(lock *models.InventoryLock) error {
	return r.db.Create(lock).Error
}

// GetByOrder 查询订单持有的库存锁
func (r *GormInventoryLockRepository) GetByOrder(orderID uint) (*models.InventoryLock, error) {
	var lock models.InventoryLock
	if err := r.db.Where("order_id = ?", orderID).First(&lock).Error; err != nil {
		return nil, err
	}
	return &lock, nil
}

// DeleteByOrder 删除订单的库存锁（订单进入任一终态时调用）
func (r *GormInventoryLockRepository) DeleteByOrder(orderID uint) (int64, error) {
	result := r.db.Where("order_id = ?", orderID).Delete(&models.InventoryLock{})
	return result.RowsAffected, result.Error
}

// SumActiveByProduct 统计商品未到期锁定的数量
func (r *GormInventoryLockRepository) SumActiveByProduct(productID uint, now int64) (int, error) {
	var sum *int
	err := r.db.Model(&models.InventoryLock{}).
		Select("SUM(quantity)").
		Where("product_id = ? AND expires_at >= ?", productID, now).
		Scan(&sum).Error
	if err != nil {
		return 0, err
	}
	if sum == nil {
		return 0, nil
	}
	return *sum, nil
}

// ListExpired 查询已到期的库存锁
func (r *GormInventoryLockRepository) ListExpired(now int64) ([]models.InventoryLock, error) {
	var locks []models.InventoryLock
	err := r.db.Where("expires_at < ?", now).
		Order("id asc").
		Find(&locks).Error
	return locks, err
}
