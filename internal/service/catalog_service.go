package service

import (
	"errors"
	"strings"

	"github.com/kamicore/internal/logger"
	"github.com/kamicore/internal/models"
	"github.com/kamicore/internal/repository"

	"gorm.io/gorm"
)

// CatalogService 商品目录与卡密录入
type CatalogService struct {
	productRepo repository.ProductRepository
	cardRepo    repository.CardRecordRepository
	inventory   *InventoryService
}

// NewCatalogService 创建目录服务
func NewCatalogService(
	productRepo repository.ProductRepository,
	cardRepo repository.CardRecordRepository,
	inventory *InventoryService,
) *CatalogService {
	return &CatalogService{
		productRepo: productRepo,
		cardRepo:    cardRepo,
		inventory:   inventory,
	}
}

// ProductView 商品视图（含可售数量）
type ProductView struct {
	models.Product
	Available int `json:"available"`
}

// ListProducts 上架商品列表
func (s *CatalogService) ListProducts() ([]ProductView, error) {
	products, err := s.productRepo.ListActive()
	if err != nil {
		return nil, err
	}
	views := make([]ProductView, 0, len(products))
	for i := range products {
		product := products[i]
		_, available, err := s.inventory.CheckAvailability(&product, 1)
		if err != nil {
			return nil, err
		}
		views = append(views, ProductView{Product: product, Available: available})
	}
	return views, nil
}

// GetProductBySlug 商品详情
func (s *CatalogService) GetProductBySlug(slug string) (*ProductView, error) {
	product, err := s.productRepo.GetBySlug(slug)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}
	_, available, err := s.inventory.CheckAvailability(product, 1)
	if err != nil {
		return nil, err
	}
	return &ProductView{Product: *product, Available: available}, nil
}

// CreateProduct 创建商品
func (s *CatalogService) CreateProduct(product *models.Product) error {
	return s.productRepo.Create(product)
}

// UpdateProduct 更新商品
func (s *CatalogService) UpdateProduct(product *models.Product) error {
	return s.productRepo.Update(product)
}

// ImportCards 批量录入卡密。消耗模式的有界库存随卡密同步增加，
// 保持“每单位库存恰有一条卡密”的约定。
func (s *CatalogService) ImportCards(productID uint, contents []string) (int, error) {
	product, err := s.productRepo.GetByID(productID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrProductNotFound
		}
		return 0, err
	}
	cards := make([]models.CardRecord, 0, len(contents))
	for _, content := range contents {
		trimmed := strings.TrimSpace(content)
		if trimmed == "" {
			continue
		}
		cards = append(cards, models.CardRecord{
			ProductID: product.ID,
			Content:   trimmed,
		})
	}
	if len(cards) == 0 {
		return 0, nil
	}
	err = models.DB.Transaction(func(tx *gorm.DB) error {
		if err := s.cardRepo.WithTx(tx).BatchCreate(cards); err != nil {
			return err
		}
		if !product.CardMode && !product.StockUnlimited() {
			if _, err := s.productRepo.WithTx(tx).IncrementStock(product.ID, len(cards)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	logger.Infow("cards_imported", "product_id", product.ID, "count", len(cards))
	return len(cards), nil
}
