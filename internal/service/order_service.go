package service

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/kamicore/internal/constants"
	"github.com/kamicore/internal/logger"
	"github.com/kamicore/internal/models"
	"github.com/kamicore/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	maxOrderQuantity = 100
)

// allowedTransitions 订单状态机
var allowedTransitions = map[string][]string{
	constants.OrderStatusPending: {constants.OrderStatusPaid, constants.OrderStatusCancelled},
	constants.OrderStatusPaid:    {constants.OrderStatusRefunded},
}

func isTransitionAllowed(current, target string) bool {
	for _, allowed := range allowedTransitions[current] {
		if allowed == target {
			return true
		}
	}
	return false
}

// OrderService 订单服务：订单生命周期、积分托管与交付快照
type OrderService struct {
	orderRepo   repository.OrderRepository
	productRepo repository.ProductRepository
	userRepo    repository.UserRepository
	inventory   *InventoryService
	lockTTL     time.Duration
	pointsRatio int
}

// NewOrderService 创建订单服务
func NewOrderService(
	orderRepo repository.OrderRepository,
	productRepo repository.ProductRepository,
	userRepo repository.UserRepository,
	inventory *InventoryService,
	lockTTL time.Duration,
	pointsRatio int,
) *OrderService {
	if lockTTL <= 0 {
		lockTTL = 300 * time.Second
	}
	if pointsRatio <= 0 {
		pointsRatio = 100
	}
	return &OrderService{
		orderRepo:   orderRepo,
		productRepo: productRepo,
		userRepo:    userRepo,
		inventory:   inventory,
		lockTTL:     lockTTL,
		pointsRatio: pointsRatio,
	}
}

// CreateOrderInput 下单入参
type CreateOrderInput struct {
	ProductID uint
	Quantity  int
	UserID    *uint
	UsePoints int
}

// CreateOrder 创建订单。
// 积分在下单时即扣减托管，取消或退款时返还；
// 应付金额被积分抵扣到 0 时订单直接转为已支付，不经过网关。
func (s *OrderService) CreateOrder(input CreateOrderInput) (*models.Order, error) {
	if input.Quantity <= 0 || input.Quantity > maxOrderQuantity {
		return nil, ErrInvalidQuantity
	}
	product, err := s.productRepo.GetByID(input.ProductID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}
	if !product.IsActive {
		return nil, ErrProductNotAvailable
	}
	if product.PurchaseLimit > 0 && input.Quantity > product.PurchaseLimit {
		return nil, ErrPurchaseLimit
	}

	ok, _, err := s.inventory.CheckAvailability(product, input.Quantity)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrOutOfStock
	}

	gross := product.Price.Mul(decimal.NewFromInt(int64(input.Quantity)))
	pointsUsed, payable, err := s.applyPoints(gross, input.UserID, input.UsePoints)
	if err != nil {
		return nil, err
	}

	order := &models.Order{
		OrderNo:    generateOrderNo(),
		UserID:     input.UserID,
		ProductID:  product.ID,
		Quantity:   input.Quantity,
		Amount:     models.NewMoneyFromDecimal(payable),
		PointsUsed: pointsUsed,
		Status:     constants.OrderStatusPending,
	}

	err = models.DB.Transaction(func(tx *gorm.DB) error {
		if pointsUsed > 0 {
			affected, err := s.userRepo.WithTx(tx).DeductPoints(*input.UserID, pointsUsed)
			if err != nil {
				return err
			}
			if affected == 0 {
				return ErrPointsInsufficient
			}
		}
		if err := s.orderRepo.WithTx(tx).Create(order); err != nil {
			return err
		}
		return s.inventory.Reserve(tx, product, input.Quantity, order.ID, s.lockTTL)
	})
	if err != nil {
		return nil, err
	}

	logger.Infow("order_created",
		"order_no", order.OrderNo,
		"product_id", product.ID,
		"quantity", order.Quantity,
		"amount", order.Amount.String(),
		"points_used", order.PointsUsed,
	)

	// 积分全额抵扣：跳过网关直接结转
	if payable.LessThanOrEqual(decimal.Zero) {
		if err := s.MarkPaid(order.ID, ""); err != nil {
			return nil, err
		}
		return s.orderRepo.GetByID(order.ID)
	}
	return order, nil
}

// applyPoints 计算积分抵扣。pointsRatio 个积分抵 1 元。
func (s *OrderService) applyPoints(gross decimal.Decimal, userID *uint, usePoints int) (int, decimal.Decimal, error) {
	if usePoints <= 0 || userID == nil {
		return 0, gross, nil
	}
	user, err := s.userRepo.GetByID(*userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, gross, ErrUserNotFound
		}
		return 0, gross, err
	}
	if usePoints > user.Points {
		return 0, gross, ErrPointsInsufficient
	}
	// 抵扣不超过应付金额对应的积分数
	maxPoints := gross.Mul(decimal.NewFromInt(int64(s.pointsRatio))).IntPart()
	points := int64(usePoints)
	if points > maxPoints {
		points = maxPoints
	}
	discount := decimal.NewFromInt(points).Div(decimal.NewFromInt(int64(s.pointsRatio)))
	return int(points), gross.Sub(discount).Round(2), nil
}

// MarkPaid 幂等地把订单标记为已支付并结转库存。
//
// 以 status=pending 为前置条件的条件更新充当并发闸门：
// 任意触发路径（回调、查单、扫描）重复调用时只有第一次生效，
// 其余调用观察到 RowsAffected=0 即按空操作返回。
func (s *OrderService) MarkPaid(orderID uint, gatewayTradeNo string) error {
	return models.DB.Transaction(func(tx *gorm.DB) error {
		order, err := s.orderRepo.WithTx(tx).GetByID(orderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrOrderNotFound
			}
			return err
		}
		if !isTransitionAllowed(order.Status, constants.OrderStatusPaid) {
			// 重复触发（回调重放、查单与扫描竞争），幂等返回
			return nil
		}
		now := time.Now()
		updates := map[string]interface{}{
			"status":  constants.OrderStatusPaid,
			"paid_at": now,
		}
		if gatewayTradeNo != "" {
			updates["epay_trade_no"] = gatewayTradeNo
		}
		affected, err := s.orderRepo.WithTx(tx).UpdateFromPending(order.ID, updates)
		if err != nil {
			return err
		}
		if affected == 0 {
			// 已被其他路径处理，幂等返回
			return nil
		}

		product, err := s.productRepo.WithTx(tx).GetByID(order.ProductID)
		if err != nil {
			return err
		}
		cards, err := s.inventory.Consume(tx, order, product)
		if err != nil {
			return err
		}
		snapshot := &models.Order{}
		if err := snapshot.SetDeliveredCards(cards); err != nil {
			return err
		}
		if err := tx.Model(&models.Order{}).
			Where("id = ?", order.ID).
			UpdateColumn("delivered_cards", snapshot.DeliveredCards).Error; err != nil {
			return err
		}
		if err := s.productRepo.WithTx(tx).IncrementSoldCount(order.ProductID, order.Quantity); err != nil {
			return err
		}
		if err := s.inventory.ReleaseLock(tx, order.ID); err != nil {
			return err
		}
		logger.Infow("order_marked_paid",
			"order_no", order.OrderNo,
			"trade_no", gatewayTradeNo,
			"cards_delivered", len(cards),
		)
		return nil
	})
}

// CancelOrder 用户主动取消，仅允许从 pending 发起。
func (s *OrderService) CancelOrder(orderID uint) error {
	cancelled, err := s.cancelIfPending(orderID)
	if err != nil {
		return err
	}
	if !cancelled {
		return ErrOrderStatusInvalid
	}
	return nil
}

// CancelIfPending 供扫描路径使用：订单已离开 pending 时按空操作返回。
func (s *OrderService) CancelIfPending(orderID uint) (bool, error) {
	return s.cancelIfPending(orderID)
}

func (s *OrderService) cancelIfPending(orderID uint) (bool, error) {
	var cancelled bool
	err := models.DB.Transaction(func(tx *gorm.DB) error {
		order, err := s.orderRepo.WithTx(tx).GetByID(orderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrOrderNotFound
			}
			return err
		}
		affected, err := s.orderRepo.WithTx(tx).UpdateFromPending(order.ID, map[string]interface{}{
			"status": constants.OrderStatusCancelled,
		})
		if err != nil {
			return err
		}
		if affected == 0 {
			return nil
		}
		cancelled = true
		if err := s.inventory.ReleaseLock(tx, order.ID); err != nil {
			return err
		}
		return s.refundPoints(tx, order)
	})
	if err != nil {
		return false, err
	}
	if cancelled {
		logger.Infow("order_cancelled", "order_id", orderID)
	}
	return cancelled, nil
}

// RefundAndRollback 在网关确认退款成功后把订单转为 refunded，
// 并回滚卡密、库存与积分。仅允许从 paid 发起。
func (s *OrderService) RefundAndRollback(orderID uint) error {
	return models.DB.Transaction(func(tx *gorm.DB) error {
		order, err := s.orderRepo.WithTx(tx).GetByID(orderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrOrderNotFound
			}
			return err
		}
		if !isTransitionAllowed(order.Status, constants.OrderStatusRefunded) {
			return ErrOrderStatusInvalid
		}
		affected, err := s.orderRepo.WithTx(tx).UpdateFromPaid(order.ID, map[string]interface{}{
			"status": constants.OrderStatusRefunded,
		})
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrOrderStatusInvalid
		}
		product, err := s.productRepo.WithTx(tx).GetByID(order.ProductID)
		if err != nil {
			return err
		}
		if err := s.inventory.Release(tx, order, product); err != nil {
			return err
		}
		if err := s.refundPoints(tx, order); err != nil {
			return err
		}
		logger.Infow("order_refunded", "order_no", order.OrderNo)
		return nil
	})
}

func (s *OrderService) refundPoints(tx *gorm.DB, order *models.Order) error {
	if order.PointsUsed <= 0 || order.UserID == nil {
		return nil
	}
	return s.userRepo.WithTx(tx).AddPoints(*order.UserID, order.PointsUsed)
}

// GetByOrderNo 按订单号查询
func (s *OrderService) GetByOrderNo(orderNo string) (*models.Order, error) {
	order, err := s.orderRepo.GetByOrderNo(orderNo)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return order, nil
}

// GetByID 按 ID 查询
func (s *OrderService) GetByID(id uint) (*models.Order, error) {
	order, err := s.orderRepo.GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return order, nil
}

// List 分页查询订单
func (s *OrderService) List(filter repository.OrderListFilter) ([]models.Order, int64, error) {
	return s.orderRepo.List(filter)
}

func generateOrderNo() string {
	return fmt.Sprintf("O%d%s", time.Now().UnixMilli(), randNumeric(6))
}

func randNumeric(length int) string {
	digits := make([]byte, length)
	for i := range digits {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			digits[i] = '0'
			continue
		}
		digits[i] = byte('0' + n.Int64())
	}
	return string(digits)
}
