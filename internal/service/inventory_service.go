package service

import (
	"fmt"
	"time"

	"github.com/kamicore/internal/logger"
	"github.com/kamicore/internal/models"
	"github.com/kamicore/internal/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InventoryService 库存账本：卡密池与库存锁的预占、消耗与回滚
type InventoryService struct {
	productRepo repository.ProductRepository
	cardRepo    repository.CardRecordRepository
	lockRepo    repository.InventoryLockRepository
	orderRepo   repository.OrderRepository
}

// NewInventoryService 创建库存服务
func NewInventoryService(
	productRepo repository.ProductRepository,
	cardRepo repository.CardRecordRepository,
	lockRepo repository.InventoryLockRepository,
	orderRepo repository.OrderRepository,
) *InventoryService {
	return &InventoryService{
		productRepo: productRepo,
		cardRepo:    cardRepo,
		lockRepo:    lockRepo,
		orderRepo:   orderRepo,
	}
}

// CheckAvailability 检查可售数量。
// 轮询模式返回卡密池大小（内容可复用，池非空即可售任意数量）；
// 消耗模式返回未使用卡密数。
func (s *InventoryService) CheckAvailability(product *models.Product, quantity int) (bool, int, error) {
	if product == nil {
		return false, 0, ErrProductNotFound
	}
	if quantity <= 0 {
		return false, 0, ErrInvalidQuantity
	}
	if product.CardMode {
		total, err := s.cardRepo.CountByProduct(product.ID)
		if err != nil {
			return false, 0, err
		}
		return total > 0, int(total), nil
	}
	unused, err := s.cardRepo.CountUnused(product.ID)
	if err != nil {
		return false, 0, err
	}
	return int(unused) >= quantity, int(unused), nil
}

// Reserve 在事务内创建库存锁。
// 仅对有界库存（消耗模式且非不限量）生效；可预占量按
// 物理库存减去未到期锁定量计算，不足则返回 ErrOutOfStock。
func (s *InventoryService) Reserve(tx *gorm.DB, product *models.Product, quantity int, orderID uint, ttl time.Duration) error {
	if product.CardMode || product.StockUnlimited() {
		return nil
	}
	// 行锁住商品，序列化同一商品的 检查+插入，防止并发超卖
	var current models.Product
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&current, product.ID).Error; err != nil {
		return err
	}
	now := time.Now()
	locked, err := s.lockRepo.WithTx(tx).SumActiveByProduct(product.ID, now.Unix())
	if err != nil {
		return err
	}
	if current.Stock-locked < quantity {
		return ErrOutOfStock
	}
	return s.lockRepo.WithTx(tx).Create(&models.InventoryLock{
		OrderID:   orderID,
		ProductID: product.ID,
		Quantity:  quantity,
		ExpiresAt: now.Add(ttl).Unix(),
	})
}

// Consume 在事务内结转库存，返回交付的卡密内容。
//
// 消耗模式：FIFO 取最早录入的未使用卡密标记占用并扣减库存；
// 轮询模式：按商品累计付费订单数取模轮流下发，不占用卡密。
// 调用方必须先在同一事务内完成订单到 paid 的条件更新，
// 轮询模式的取模基数才能把当前订单计入。
func (s *InventoryService) Consume(tx *gorm.DB, order *models.Order, product *models.Product) ([]string, error) {
	if product.CardMode {
		return s.consumeRotating(tx, order, product)
	}
	return s.consumeFIFO(tx, order, product)
}

func (s *InventoryService) consumeRotating(tx *gorm.DB, order *models.Order, product *models.Product) ([]string, error) {
	cards, err := s.cardRepo.WithTx(tx).ListByProduct(product.ID)
	if err != nil {
		return nil, err
	}
	if len(cards) == 0 {
		return nil, ErrOutOfStock
	}
	paidCount, err := s.orderRepo.WithTx(tx).CountPaidByProduct(product.ID)
	if err != nil {
		return nil, err
	}
	contents := make([]string, 0, order.Quantity)
	for i := 0; i < order.Quantity; i++ {
		index := (int(paidCount) - 1 + i) % len(cards)
		contents = append(contents, cards[index].Content)
	}
	return contents, nil
}

func (s *InventoryService) consumeFIFO(tx *gorm.DB, order *models.Order, product *models.Product) ([]string, error) {
	cards, err := s.cardRepo.WithTx(tx).OldestUnused(product.ID, order.Quantity)
	if err != nil {
		return nil, err
	}
	if len(cards) < order.Quantity {
		// 不限量商品没有预占保护，卡密池可能在支付窗口内被并发耗尽。
		// 已收款的订单按实际可用数量交付，缺口由运营补发，
		// 不能让订单卡在 pending。
		logger.Warnw("card_pool_short",
			"order_id", order.ID,
			"product_id", product.ID,
			"want", order.Quantity,
			"got", len(cards),
		)
	}
	if len(cards) == 0 {
		return []string{}, nil
	}
	ids := make([]uint, 0, len(cards))
	contents := make([]string, 0, len(cards))
	for _, card := range cards {
		ids = append(ids, card.ID)
		contents = append(contents, card.Content)
	}
	affected, err := s.cardRepo.WithTx(tx).MarkUsed(ids, order.ID, time.Now())
	if err != nil {
		return nil, err
	}
	if affected != int64(len(ids)) {
		// 同一批卡密被并发占用，整个事务回滚后由调用方重试
		return nil, fmt.Errorf("card records contended: want %d got %d", len(ids), affected)
	}
	if !product.StockUnlimited() {
		if _, err := s.productRepo.WithTx(tx).DecrementStock(product.ID, len(ids)); err != nil {
			return nil, err
		}
	}
	return contents, nil
}

// Release 在事务内回滚 Consume 的效果：解绑卡密并回补库存。
// 未绑定任何卡密时是空操作，可安全重复调用。
func (s *InventoryService) Release(tx *gorm.DB, order *models.Order, product *models.Product) error {
	released, err := s.cardRepo.WithTx(tx).ReleaseByOrder(order.ID)
	if err != nil {
		return err
	}
	if released > 0 && !product.StockUnlimited() {
		if _, err := s.productRepo.WithTx(tx).IncrementStock(product.ID, int(released)); err != nil {
			return err
		}
	}
	return nil
}

// ReleaseLock 删除订单的库存锁（订单进入任一终态时调用）
func (s *InventoryService) ReleaseLock(tx *gorm.DB, orderID uint) error {
	_, err := s.lockRepo.WithTx(tx).DeleteByOrder(orderID)
	return err
}
