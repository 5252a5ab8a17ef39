package service

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kamicore/internal/constants"
	"github.com/kamicore/internal/models"
	"github.com/kamicore/internal/repository"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func setupOrderServiceTest(t *testing.T) (*OrderService, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:order_service_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	if err := db.AutoMigrate(
		&models.User{},
		&models.Product{},
		&models.CardRecord{},
		&models.Order{},
		&models.InventoryLock{},
	); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}
	models.DB = db

	productRepo := repository.NewProductRepository(db)
	cardRepo := repository.NewCardRecordRepository(db)
	lockRepo := repository.NewInventoryLockRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	userRepo := repository.NewUserRepository(db)
	inventory := NewInventoryService(productRepo, cardRepo, lockRepo, orderRepo)
	orderSvc := NewOrderService(orderRepo, productRepo, userRepo, inventory, 300*time.Second, 100)
	return orderSvc, db
}

func seedProduct(t *testing.T, db *gorm.DB, stock int, cardMode bool, price string) *models.Product {
	t.Helper()
	amount, err := models.NewMoneyFromString(price)
	if err != nil {
		t.Fatalf("parse price failed: %v", err)
	}
	product := models.Product{
		Name:     "test product",
		Slug:     fmt.Sprintf("test-product-%d", time.Now().UnixNano()),
		Price:    amount,
		Stock:    stock,
		CardMode: cardMode,
		IsActive: true,
	}
	if err := db.Create(&product).Error; err != nil {
		t.Fatalf("create product failed: %v", err)
	}
	return &product
}

func seedCards(t *testing.T, db *gorm.DB, productID uint, contents ...string) {
	t.Helper()
	for _, content := range contents {
		if err := db.Create(&models.CardRecord{ProductID: productID, Content: content}).Error; err != nil {
			t.Fatalf("create card failed: %v", err)
		}
	}
}

func seedUser(t *testing.T, db *gorm.DB, points int) *models.User {
	t.Helper()
	user := models.User{
		Email:  fmt.Sprintf("user_%d@example.com", time.Now().UnixNano()),
		Points: points,
	}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("create user failed: %v", err)
	}
	return &user
}

func TestCreateOrderValidatesInput(t *testing.T) {
	svc, db := setupOrderServiceTest(t)
	product := seedProduct(t, db, 2, false, "10.00")
	seedCards(t, db, product.ID, "C1", "C2")

	if _, err := svc.CreateOrder(CreateOrderInput{ProductID: product.ID, Quantity: 0}); !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("expected ErrInvalidQuantity, got %v", err)
	}
	if _, err := svc.CreateOrder(CreateOrderInput{ProductID: 9999, Quantity: 1}); !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}

	db.Model(product).Update("is_active", false)
	if _, err := svc.CreateOrder(CreateOrderInput{ProductID: product.ID, Quantity: 1}); !errors.Is(err, ErrProductNotAvailable) {
		t.Fatalf("expected ErrProductNotAvailable, got %v", err)
	}
}

func TestCreateOrderRespectsPurchaseLimit(t *testing.T) {
	svc, db := setupOrderServiceTest(t)
	product := seedProduct(t, db, 10, false, "10.00")
	seedCards(t, db, product.ID, "C1", "C2", "C3", "C4", "C5")
	db.Model(product).Update("purchase_limit", 2)

	if _, err := svc.CreateOrder(CreateOrderInput{ProductID: product.ID, Quantity: 3}); !errors.Is(err, ErrPurchaseLimit) {
		t.Fatalf("expected ErrPurchaseLimit, got %v", err)
	}
}

func TestCreateOrderReservesBoundedStock(t *testing.T) {
	svc, db := setupOrderServiceTest(t)
	product := seedProduct(t, db, 2, false, "10.00")
	seedCards(t, db, product.ID, "C1", "C2")

	if _, err := svc.CreateOrder(CreateOrderInput{ProductID: product.ID, Quantity: 1}); err != nil {
		t.Fatalf("first order failed: %v", err)
	}
	if _, err := svc.CreateOrder(CreateOrderInput{ProductID: product.ID, Quantity: 1}); err != nil {
		t.Fatalf("second order failed: %v", err)
	}
	// 物理库存仍有 2，但全部被活动锁占用
	if _, err := svc.CreateOrder(CreateOrderInput{ProductID: product.ID, Quantity: 1}); !errors.Is(err, ErrOutOfStock) {
		t.Fatalf("expected ErrOutOfStock, got %v", err)
	}

	var current models.Product
	if err := db.First(&current, product.ID).Error; err != nil {
		t.Fatalf("reload product failed: %v", err)
	}
	if current.Stock != 2 {
		t.Fatalf("pending orders must not touch physical stock, got %d", current.Stock)
	}
	var lockCount int64
	db.Model(&models.InventoryLock{}).Where("product_id = ?", product.ID).Count(&lockCount)
	if lockCount != 2 {
		t.Fatalf("expected 2 locks, got %d", lockCount)
	}
}

func TestMarkPaidIdempotent(t *testing.T) {
	svc, db := setupOrderServiceTest(t)
	product := seedProduct(t, db, 3, false, "10.00")
	seedCards(t, db, product.ID, "C1", "C2", "C3")

	order, err := svc.CreateOrder(CreateOrderInput{ProductID: product.ID, Quantity: 2})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := svc.MarkPaid(order.ID, "GW123"); err != nil {
			t.Fatalf("mark paid #%d failed: %v", i+1, err)
		}
	}

	reloaded, err := svc.GetByID(order.ID)
	if err != nil {
		t.Fatalf("reload order failed: %v", err)
	}
	if reloaded.Status != constants.OrderStatusPaid {
		t.Fatalf("expected paid, got %s", reloaded.Status)
	}
	if reloaded.PaidAt == nil {
		t.Fatalf("expected paid_at to be set")
	}
	if reloaded.EpayTradeNo != "GW123" {
		t.Fatalf("expected trade no GW123, got %s", reloaded.EpayTradeNo)
	}
	cards := reloaded.DeliveredCardList()
	if len(cards) != 2 || cards[0] != "C1" || cards[1] != "C2" {
		t.Fatalf("expected FIFO delivery [C1 C2], got %v", cards)
	}

	// 重复结转不得重复消耗
	var usedCount int64
	db.Model(&models.CardRecord{}).Where("product_id = ? AND used = ?", product.ID, true).Count(&usedCount)
	if usedCount != 2 {
		t.Fatalf("expected 2 used cards, got %d", usedCount)
	}
	var current models.Product
	db.First(&current, product.ID)
	if current.Stock != 1 {
		t.Fatalf("expected stock 1 after consumption, got %d", current.Stock)
	}
	if current.SoldCount != 2 {
		t.Fatalf("expected sold count 2, got %d", current.SoldCount)
	}
	var lockCount int64
	db.Model(&models.InventoryLock{}).Where("order_id = ?", order.ID).Count(&lockCount)
	if lockCount != 0 {
		t.Fatalf("expected lock released, got %d", lockCount)
	}
}

func TestCancelOrderReleasesLockAndPoints(t *testing.T) {
	svc, db := setupOrderServiceTest(t)
	product := seedProduct(t, db, 5, false, "3.00")
	seedCards(t, db, product.ID, "C1", "C2", "C3", "C4", "C5")
	user := seedUser(t, db, 500)

	order, err := svc.CreateOrder(CreateOrderInput{ProductID: product.ID, Quantity: 1, UserID: &user.ID, UsePoints: 200})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if order.PointsUsed != 200 {
		t.Fatalf("expected 200 points escrowed, got %d", order.PointsUsed)
	}
	if order.Amount.String() != "1.00" {
		t.Fatalf("expected payable 1.00, got %s", order.Amount.String())
	}
	var escrowed models.User
	db.First(&escrowed, user.ID)
	if escrowed.Points != 300 {
		t.Fatalf("expected 300 points after escrow, got %d", escrowed.Points)
	}

	if err := svc.CancelOrder(order.ID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	reloaded, _ := svc.GetByID(order.ID)
	if reloaded.Status != constants.OrderStatusCancelled {
		t.Fatalf("expected cancelled, got %s", reloaded.Status)
	}
	var refunded models.User
	db.First(&refunded, user.ID)
	if refunded.Points != 500 {
		t.Fatalf("expected points returned to 500, got %d", refunded.Points)
	}
	var lockCount int64
	db.Model(&models.InventoryLock{}).Where("order_id = ?", order.ID).Count(&lockCount)
	if lockCount != 0 {
		t.Fatalf("expected lock released, got %d", lockCount)
	}

	// 再次取消是状态机违例
	if err := svc.CancelOrder(order.ID); !errors.Is(err, ErrOrderStatusInvalid) {
		t.Fatalf("expected ErrOrderStatusInvalid, got %v", err)
	}
}

func TestCreateOrderFullPointsDeductionPaysDirectly(t *testing.T) {
	svc, db := setupOrderServiceTest(t)
	product := seedProduct(t, db, 5, false, "2.00")
	seedCards(t, db, product.ID, "C1", "C2", "C3", "C4", "C5")
	user := seedUser(t, db, 500)

	order, err := svc.CreateOrder(CreateOrderInput{ProductID: product.ID, Quantity: 1, UserID: &user.ID, UsePoints: 500})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if order.Status != constants.OrderStatusPaid {
		t.Fatalf("expected direct paid, got %s", order.Status)
	}
	// 抵扣上限是应付金额对应的积分数
	if order.PointsUsed != 200 {
		t.Fatalf("expected 200 points used, got %d", order.PointsUsed)
	}
	if !order.Amount.IsZero() {
		t.Fatalf("expected zero payable, got %s", order.Amount.String())
	}
	if cards := order.DeliveredCardList(); len(cards) != 1 {
		t.Fatalf("expected 1 delivered card, got %v", cards)
	}
	var reloadedUser models.User
	db.First(&reloadedUser, user.ID)
	if reloadedUser.Points != 300 {
		t.Fatalf("expected 300 points left, got %d", reloadedUser.Points)
	}
}

func TestCreateOrderPointsInsufficient(t *testing.T) {
	svc, db := setupOrderServiceTest(t)
	product := seedProduct(t, db, 5, false, "10.00")
	seedCards(t, db, product.ID, "C1", "C2", "C3", "C4", "C5")
	user := seedUser(t, db, 100)

	if _, err := svc.CreateOrder(CreateOrderInput{ProductID: product.ID, Quantity: 1, UserID: &user.ID, UsePoints: 200}); !errors.Is(err, ErrPointsInsufficient) {
		t.Fatalf("expected ErrPointsInsufficient, got %v", err)
	}
	var reloaded models.User
	db.First(&reloaded, user.ID)
	if reloaded.Points != 100 {
		t.Fatalf("failed order must not consume points, got %d", reloaded.Points)
	}
}

func TestRefundRollsBackDelivery(t *testing.T) {
	svc, db := setupOrderServiceTest(t)
	product := seedProduct(t, db, 3, false, "10.00")
	seedCards(t, db, product.ID, "C1", "C2", "C3")
	user := seedUser(t, db, 500)

	order, err := svc.CreateOrder(CreateOrderInput{ProductID: product.ID, Quantity: 2, UserID: &user.ID, UsePoints: 100})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if err := svc.MarkPaid(order.ID, "GW123"); err != nil {
		t.Fatalf("mark paid failed: %v", err)
	}

	if err := svc.RefundAndRollback(order.ID); err != nil {
		t.Fatalf("refund failed: %v", err)
	}

	reloaded, _ := svc.GetByID(order.ID)
	if reloaded.Status != constants.OrderStatusRefunded {
		t.Fatalf("expected refunded, got %s", reloaded.Status)
	}
	var usedCount int64
	db.Model(&models.CardRecord{}).Where("product_id = ? AND used = ?", product.ID, true).Count(&usedCount)
	if usedCount != 0 {
		t.Fatalf("expected cards released, got %d used", usedCount)
	}
	var current models.Product
	db.First(&current, product.ID)
	if current.Stock != 3 {
		t.Fatalf("expected stock restored to 3, got %d", current.Stock)
	}
	var reloadedUser models.User
	db.First(&reloadedUser, user.ID)
	if reloadedUser.Points != 500 {
		t.Fatalf("expected points restored, got %d", reloadedUser.Points)
	}

	// 已退款订单不可再退款或取消
	if err := svc.RefundAndRollback(order.ID); !errors.Is(err, ErrOrderStatusInvalid) {
		t.Fatalf("expected ErrOrderStatusInvalid, got %v", err)
	}
	if err := svc.CancelOrder(order.ID); !errors.Is(err, ErrOrderStatusInvalid) {
		t.Fatalf("expected ErrOrderStatusInvalid, got %v", err)
	}
}

func TestRotatingCardDelivery(t *testing.T) {
	svc, db := setupOrderServiceTest(t)
	product := seedProduct(t, db, -1, true, "9.90")
	seedCards(t, db, product.ID, "A", "B", "C")

	// 轮询池按累计付费订单数取模下发
	want := []string{"A", "B", "C", "A", "B"}
	for i, expected := range want {
		order, err := svc.CreateOrder(CreateOrderInput{ProductID: product.ID, Quantity: 1})
		if err != nil {
			t.Fatalf("create order #%d failed: %v", i+1, err)
		}
		if err := svc.MarkPaid(order.ID, fmt.Sprintf("GW%d", i+1)); err != nil {
			t.Fatalf("mark paid #%d failed: %v", i+1, err)
		}
		reloaded, _ := svc.GetByID(order.ID)
		cards := reloaded.DeliveredCardList()
		if len(cards) != 1 || cards[0] != expected {
			t.Fatalf("order #%d expected card %s, got %v", i+1, expected, cards)
		}
	}

	// 5 个已付订单之后的多数量订单跨越池边界回绕
	order, err := svc.CreateOrder(CreateOrderInput{ProductID: product.ID, Quantity: 2})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if err := svc.MarkPaid(order.ID, "GW6"); err != nil {
		t.Fatalf("mark paid failed: %v", err)
	}
	reloaded, _ := svc.GetByID(order.ID)
	cards := reloaded.DeliveredCardList()
	if len(cards) != 2 || cards[0] != "C" || cards[1] != "A" {
		t.Fatalf("expected [C A], got %v", cards)
	}

	// 轮询模式不占用卡密、不扣库存
	var usedCount int64
	db.Model(&models.CardRecord{}).Where("product_id = ? AND used = ?", product.ID, true).Count(&usedCount)
	if usedCount != 0 {
		t.Fatalf("rotating pool must not consume cards, got %d used", usedCount)
	}
}

func TestApplyPointsCapsAtOrderValue(t *testing.T) {
	svc, db := setupOrderServiceTest(t)
	user := seedUser(t, db, 10000)

	points, payable, err := svc.applyPoints(decimal.NewFromFloat(3.50), &user.ID, 10000)
	if err != nil {
		t.Fatalf("apply points failed: %v", err)
	}
	if points != 350 {
		t.Fatalf("expected 350 points, got %d", points)
	}
	if !payable.IsZero() {
		t.Fatalf("expected zero payable, got %s", payable.String())
	}
}

func TestMarkPaidConcurrentDeliversOnce(t *testing.T) {
	svc, db := setupOrderServiceTest(t)
	product := seedProduct(t, db, 5, false, "10.00")
	seedCards(t, db, product.ID, "C1", "C2", "C3", "C4", "C5")

	order, err := svc.CreateOrder(CreateOrderInput{ProductID: product.ID, Quantity: 2})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	// 回调、查单、扫描三路可能同时收敛到 MarkPaid
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = svc.MarkPaid(order.ID, "GWC1")
		}()
	}
	wg.Wait()

	reloaded, err := svc.GetByID(order.ID)
	if err != nil {
		t.Fatalf("reload order failed: %v", err)
	}
	if reloaded.Status != constants.OrderStatusPaid || reloaded.PaidAt == nil {
		t.Fatalf("expected paid with paid_at, got %+v", reloaded)
	}
	cards := reloaded.DeliveredCardList()
	if len(cards) != 2 || cards[0] != "C1" || cards[1] != "C2" {
		t.Fatalf("expected single FIFO snapshot [C1 C2], got %v", cards)
	}

	var usedCount int64
	db.Model(&models.CardRecord{}).Where("product_id = ? AND used = ?", product.ID, true).Count(&usedCount)
	if usedCount != 2 {
		t.Fatalf("expected exactly 2 used cards, got %d", usedCount)
	}
	var current models.Product
	db.First(&current, product.ID)
	if current.Stock != 3 {
		t.Fatalf("expected stock 3 after one consumption, got %d", current.Stock)
	}
	if current.SoldCount != 2 {
		t.Fatalf("expected sold count 2, got %d", current.SoldCount)
	}
}

func TestConcurrentReservationNeverOversells(t *testing.T) {
	svc, db := setupOrderServiceTest(t)
	product := seedProduct(t, db, 2, false, "10.00")
	seedCards(t, db, product.ID, "A", "B")

	var mu sync.Mutex
	var orders []*models.Order
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			order, err := svc.CreateOrder(CreateOrderInput{ProductID: product.ID, Quantity: 1})
			if err != nil {
				return
			}
			mu.Lock()
			orders = append(orders, order)
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(orders) == 0 || len(orders) > 2 {
		t.Fatalf("expected 1..2 reservations to succeed, got %d", len(orders))
	}
	locked, err := repository.NewInventoryLockRepository(db).SumActiveByProduct(product.ID, time.Now().Unix())
	if err != nil {
		t.Fatalf("sum active failed: %v", err)
	}
	if locked > 2 {
		t.Fatalf("locked quantity exceeds physical stock: %d", locked)
	}

	delivered := make(map[string]bool)
	for _, order := range orders {
		if err := svc.MarkPaid(order.ID, "GW"+order.OrderNo); err != nil {
			t.Fatalf("mark paid failed: %v", err)
		}
		reloaded, err := svc.GetByID(order.ID)
		if err != nil {
			t.Fatalf("reload order failed: %v", err)
		}
		cards := reloaded.DeliveredCardList()
		if len(cards) != 1 {
			t.Fatalf("expected 1 card per order, got %v", cards)
		}
		if delivered[cards[0]] {
			t.Fatalf("card %s assigned to two orders", cards[0])
		}
		delivered[cards[0]] = true
	}

	var current models.Product
	db.First(&current, product.ID)
	if current.Stock != 2-len(orders) {
		t.Fatalf("expected stock %d, got %d", 2-len(orders), current.Stock)
	}
}

func TestMarkPaidDeliversAvailableWhenPoolShort(t *testing.T) {
	svc, db := setupOrderServiceTest(t)
	// 不限量消耗模式：下单不预占，支付窗口内卡密池可能被并发耗尽
	product := seedProduct(t, db, -1, false, "10.00")
	seedCards(t, db, product.ID, "D1", "D2")

	first, err := svc.CreateOrder(CreateOrderInput{ProductID: product.ID, Quantity: 2})
	if err != nil {
		t.Fatalf("first order failed: %v", err)
	}
	second, err := svc.CreateOrder(CreateOrderInput{ProductID: product.ID, Quantity: 1})
	if err != nil {
		t.Fatalf("second order failed: %v", err)
	}

	if err := svc.MarkPaid(second.ID, "GW2"); err != nil {
		t.Fatalf("mark paid second failed: %v", err)
	}
	// 池中只剩 1 张：已收款订单按实际可用数量交付，不能卡在 pending
	if err := svc.MarkPaid(first.ID, "GW1"); err != nil {
		t.Fatalf("mark paid first failed: %v", err)
	}

	reloaded, err := svc.GetByID(first.ID)
	if err != nil {
		t.Fatalf("reload order failed: %v", err)
	}
	if reloaded.Status != constants.OrderStatusPaid {
		t.Fatalf("expected paid, got %s", reloaded.Status)
	}
	cards := reloaded.DeliveredCardList()
	if len(cards) != 1 || cards[0] != "D2" {
		t.Fatalf("expected partial delivery [D2], got %v", cards)
	}
	var usedCount int64
	db.Model(&models.CardRecord{}).Where("product_id = ? AND used = ?", product.ID, true).Count(&usedCount)
	if usedCount != 2 {
		t.Fatalf("expected both cards consumed, got %d", usedCount)
	}
}
