package repository

import (
	"time"

	"github.com/kamicore/internal/constants"
	"github.com/kamicore/internal/models"

	"gorm.io/gorm"
)

// OrderListFilter 订单列表筛选
type OrderListFilter struct {
	Page      int
	PageSize  int
	Status    string
	ProductID uint
	OrderNo   string
}

// OrderRepository 订单数据访问接口
type OrderRepository interface {
	WithTx(tx *gorm.DB) OrderRepository
	Create(order *models.Order) error
	GetByID(id uint) (*models.Order, error)
	GetByOrderNo(orderNo string) (*models.Order, error)
	List(filter OrderListFilter) ([]models.Order, int64, error)
	UpdateFromPending(orderID uint, updates map[string]interface{}) (int64, error)
	UpdateFromPaid(orderID uint, updates map[string]interface{}) (int64, error)
	CountPaidByProduct(productID uint) (int64, error)
	ListPendingBefore(cutoff time.Time) ([]models.Order, error)
}

// GormOrderRepository 订单数据访问实现
type GormOrderRepository struct {
	db *gorm.DB
}

// NewOrderRepository 创建订单仓储
func NewOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

// WithTx 返回绑定事务的仓储
func (r *GormOrderRepository) WithTx(tx *gorm.DB) OrderRepository {
	if tx == nil {
		return r
	}
	return &GormOrderRepository{db: tx}
}

// Create 创建订单
func (r *GormOrderRepository) Create(order *models.Order) error {
	return r.db.Create(order).Error
}

// GetByID 按 ID 查询订单
func (r *GormOrderRepository) GetByID(id uint) (*models.Order, error) {
	var order models.Order
	if err := r.db.First(&order, id).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// GetByOrderNo 按订单号查询订单
func (r *GormOrderRepository) GetByOrderNo(orderNo string) (*models.Order, error) {
	var order models.Order
	if err := r.db.Where("order_no = ?", orderNo).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// List 分页查询订单
func (r *GormOrderRepository) List(filter OrderListFilter) ([]models.Order, int64, error) {
	query := r.db.Model(&models.Order{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.ProductID > 0 {
		query = query.Where("product_id = ?", filter.ProductID)
	}
	if filter.OrderNo != "" {
		query = query.Where("order_no = ?", filter.OrderNo)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := filter.Page
	if page <= 0 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}

	var orders []models.Order
	err := query.Order("id desc").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&orders).Error
	return orders, total, err
}

// UpdateFromPending 以 pending 状态为前置条件的条件更新。
// RowsAffected=0 表示订单已被其他路径处理，调用方按幂等空操作对待。
func (r *GormOrderRepository) UpdateFromPending(orderID uint, updates map[string]interface{}) (int64, error) {
	result := r.db.Model(&models.Order{}).
		Where("id = ? AND status = ?", orderID, constants.OrderStatusPending).
		Updates(updates)
	return result.RowsAffected, result.Error
}

// UpdateFromPaid 以 paid 状态为前置条件的条件更新（退款路径）
func (r *GormOrderRepository) UpdateFromPaid(orderID uint, updates map[string]interface{}) (int64, error) {
	result := r.db.Model(&models.Order{}).
		Where("id = ? AND status = ?", orderID, constants.OrderStatusPaid).
		Updates(updates)
	return result.RowsAffected, result.Error
}

// CountPaidByProduct 统计商品累计付费订单数（轮询卡密的取模基数）
func (r *GormOrderRepository) CountPaidByProduct(productID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.Order{}).
		Where("product_id = ? AND status = ?", productID, constants.OrderStatusPaid).
		Count(&count).Error
	return count, err
}

// ListPendingBefore 查询创建时间早于 cutoff 的待支付订单
func (r *GormOrderRepository) ListPendingBefore(cutoff time.Time) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.Where("status = ? AND created_at < ?", constants.OrderStatusPending, cutoff).
		Order("id asc").
		Find(&orders).Error
	return orders, err
}
