package repository

import (
	"github.com/kamicore/internal/constants"
	"github.com/kamicore/internal/models"

	"gorm.io/gorm"
)

// RefundRequestRepository 退款申请数据访问接口
type RefundRequestRepository interface {
	WithTx(tx *gorm.DB) RefundRequestRepository
	Create(request *models.RefundRequest) error
	GetByID(id uint) (*models.RefundRequest, error)
	HasPendingByOrder(orderID uint) (bool, error)
	ListPending() ([]models.RefundRequest, error)
	UpdateFromPending(id uint, updates map[string]interface{}) (int64, error)
}

// GormRefundRequestRepository 退款申请数据访问实现
type GormRefundRequestRepository struct {
	db *gorm.DB
}

// NewRefundRequestRepository 创建退款申请仓储
func NewRefundRequestRepository(db *gorm.DB) *GormRefundRequestRepository {
	return &GormRefundRequestRepository{db: db}
}

// WithTx 返回绑定事务的仓储
func (r *GormRefundRequestRepository) WithTx(tx *gorm.DB) RefundRequestRepository {
	if tx == nil {
		return r
	}
	return &GormRefundRequestRepository{db: tx}
}

// Create 创建退款申请
func (r *GormRefundRequestRepository) Create(request *models.RefundRequest) error {
	return r.db.Create(request).Error
}

// GetByID 按 ID 查询退款申请
func (r *GormRefundRequestRepository) GetByID(id uint) (*models.RefundRequest, error) {
	var request models.RefundRequest
	if err := r.db.First(&request, id).Error; err != nil {
		return nil, err
	}
	return &request, nil
}

// HasPendingByOrder 判断订单是否已有待处理申请
func (r *GormRefundRequestRepository) HasPendingByOrder(orderID uint) (bool, error) {
	var count int64
	err := r.db.Model(&models.RefundRequest{}).
		Where("order_id = ? AND status = ?", orderID, constants.RefundStatusPending).
		Count(&count).Error
	return count > 0, err
}

// ListPending 查询全部待处理申请
func (r *GormRefundRequestRepository) ListPending() ([]models.RefundRequest, error) {
	var requests []models.RefundRequest
	err := r.db.Where("status = ?", constants.RefundStatusPending).
		Order("id asc").
		Find(&requests).Error
	return requests, err
}

// UpdateFromPending 以 pending 状态为前置条件的条件更新
func (r *GormRefundRequestRepository) UpdateFromPending(id uint, updates map[string]interface{}) (int64, error) {
	result := r.db.Model(&models.RefundRequest{}).
		Where("id = ? AND status = ?", id, constants.RefundStatusPending).
		Updates(updates)
	return result.RowsAffected, result.Error
}
