package repository

import (
	"github.com/kamicore/internal/constants"
	"github.com/kamicore/internal/models"

	"gorm.io/gorm"
)

// ProductRepository 商品数据访问接口
type ProductRepository interface {
	WithTx(tx *gorm.DB) ProductRepository
	Create(product *models.Product) error
	Update(product *models.Product) error
	GetByID(id uint) (*models.Product, error)
	GetBySlug(slug string) (*models.Product, error)
	ListActive() ([]models.Product, error)
	DecrementStock(productID uint, quantity int) (int64, error)
	IncrementStock(productID uint, quantity int) (int64, error)
	IncrementSoldCount(productID uint, quantity int) error
}

// GormProductRepository 商品数据访问实现
type GormProductRepository struct {
	db *gorm.DB
}

// NewProductRepository 创建商品仓储
func NewProductRepository(db *gorm.DB) *GormProductRepository {
	return &GormProductRepository{db: db}
}

// WithTx 返回绑定事务的仓储
func (r *GormProductRepository) WithTx(tx *gorm.DB) ProductRepository {
	if tx == nil {
		return r
	}
	return &GormProductRepository{db: tx}
}

// Create 创建商品
func (r *GormProductRepository) Create(product *models.Product) error {
	return r.db.Create(product).Error
}

// Update 更新商品
func (r *GormProductRepository) Update(product *models.Product) error {
	return r.db.Save(product).Error
}

// GetByID 按 ID 查询商品
func (r *GormProductRepository) GetByID(id uint) (*models.Product, error) {
	var product models.Product
	if err := r.db.First(&product, id).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

// GetBySlug 按 slug 查询商品
func (r *GormProductRepository) GetBySlug(slug string) (*models.Product, error) {
	var product models.Product
	if err := r.db.Where("slug = ?", slug).First(&product).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

// ListActive 查询上架商品
func (r *GormProductRepository) ListActive() ([]models.Product, error) {
	var products []models.Product
	if err := r.db.Where("is_active = ?", true).Order("id asc").Find(&products).Error; err != nil {
		return nil, err
	}
	return products, nil
}

// DecrementStock 条件扣减库存（不限量库存保持 -1 不变）
func (r *GormProductRepository) DecrementStock(productID uint, quantity int) (int64, error) {
	result := r.db.Model(&models.Product{}).
		Where("id = ? AND stock >= ? AND stock != ?", productID, quantity, constants.StockUnlimited).
		UpdateColumn("stock", gorm.Expr("stock - ?", quantity))
	return result.RowsAffected, result.Error
}

// IncrementStock 回补库存（不限量库存不变）
func (r *GormProductRepository) IncrementStock(productID uint, quantity int) (int64, error) {
	result := r.db.Model(&models.Product{}).
		Where("id = ? AND stock != ?", productID, constants.StockUnlimited).
		UpdateColumn("stock", gorm.Expr("stock + ?", quantity))
	return result.RowsAffected, result.Error
}

// IncrementSoldCount 累计销量
func (r *GormProductRepository) IncrementSoldCount(productID uint, quantity int) error {
	return r.db.Model(&models.Product{}).
		Where("id = ?", productID).
		UpdateColumn("sold_count", gorm.Expr("sold_count + ?", quantity)).Error
}
