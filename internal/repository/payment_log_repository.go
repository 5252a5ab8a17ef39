package repository

import (
	"github.com/kamicore/internal/models"

	"gorm.io/gorm"
)

// PaymentLogRepository 支付审计日志数据访问接口
type PaymentLogRepository interface {
	WithTx(tx *gorm.DB) PaymentLogRepository
	Append(log *models.PaymentLog) error
	ListByOrderNo(orderNo string) ([]models.PaymentLog, error)
}

// GormPaymentLogRepository 支付审计日志数据访问实现
type GormPaymentLogRepository struct {
	db *gorm.DB
}

// NewPaymentLogRepository 创建支付审计日志仓储
func NewPaymentLogRepository(db *gorm.DB) *GormPaymentLogRepository {
	return &GormPaymentLogRepository{db: db}
}

// WithTx 返回绑定事务的仓储
func (r *GormPaymentLogRepository) WithTx(tx *gorm.DB) PaymentLogRepository {
	if tx == nil {
		return r
	}
	return &GormPaymentLogRepository{db: tx}
}

// Append 追加审计日志
func (r *GormPaymentLogRepository) Append(log *models.PaymentLog) error {
	return r.db.Create(log).Error
}

// ListByOrderNo 查询订单的审计日志
func (r *GormPaymentLogRepository) ListByOrderNo(orderNo string) ([]models.PaymentLog, error) {
	var logs []models.PaymentLog
	err := r.db.Where("order_no = ?", orderNo).
		Order("id asc").
		Find(&logs).Error
	return logs, err
}
