package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kamicore/internal/constants"
	"github.com/kamicore/internal/models"
	"github.com/kamicore/internal/payment/epay"
	"github.com/kamicore/internal/repository"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func setupRefundServiceTest(t *testing.T, gateway Gateway) (*RefundService, *OrderService, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:refund_service_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
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
		&models.RefundRequest{},
		&models.PaymentLog{},
	); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}
	models.DB = db

	productRepo := repository.NewProductRepository(db)
	cardRepo := repository.NewCardRecordRepository(db)
	lockRepo := repository.NewInventoryLockRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	userRepo := repository.NewUserRepository(db)
	refundRepo := repository.NewRefundRequestRepository(db)
	paymentLogRepo := repository.NewPaymentLogRepository(db)
	inventory := NewInventoryService(productRepo, cardRepo, lockRepo, orderRepo)
	orderSvc := NewOrderService(orderRepo, productRepo, userRepo, inventory, 300*time.Second, 100)
	refundSvc := NewRefundService(orderSvc, refundRepo, paymentLogRepo, gateway)
	return refundSvc, orderSvc, db
}

func createPaidOrder(t *testing.T, svc *OrderService, db *gorm.DB) *models.Order {
	t.Helper()
	product := seedProduct(t, db, 5, false, "10.00")
	seedCards(t, db, product.ID, "R1", "R2", "R3", "R4", "R5")
	order, err := svc.CreateOrder(CreateOrderInput{ProductID: product.ID, Quantity: 1})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if err := svc.MarkPaid(order.ID, "GWR1"); err != nil {
		t.Fatalf("mark paid failed: %v", err)
	}
	paid, err := svc.GetByID(order.ID)
	if err != nil {
		t.Fatalf("reload order failed: %v", err)
	}
	return paid
}

func TestRequestRefundOnlyOnPaidOrders(t *testing.T) {
	refundSvc, orderSvc, db := setupRefundServiceTest(t, &stubGateway{})
	order := createPaidOrder(t, orderSvc, db)

	request, err := refundSvc.RequestRefund(order.OrderNo, "商品无法使用")
	if err != nil {
		t.Fatalf("request refund failed: %v", err)
	}
	if request.Status != constants.RefundStatusPending {
		t.Fatalf("expected pending request, got %s", request.Status)
	}

	// 同一订单重复申请被拒
	if _, err := refundSvc.RequestRefund(order.OrderNo, "再来一次"); !errors.Is(err, ErrRefundRequestExists) {
		t.Fatalf("expected ErrRefundRequestExists, got %v", err)
	}

	// 未支付订单不可申请
	product := seedProduct(t, db, 5, false, "10.00")
	seedCards(t, db, product.ID, "X1")
	pending, err := orderSvc.CreateOrder(CreateOrderInput{ProductID: product.ID, Quantity: 1})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if _, err := refundSvc.RequestRefund(pending.OrderNo, "还没付款"); !errors.Is(err, ErrOrderStatusInvalid) {
		t.Fatalf("expected ErrOrderStatusInvalid, got %v", err)
	}
}

func TestApproveRefundRollsBackOrder(t *testing.T) {
	gateway := &stubGateway{refund: &epay.RefundResult{Code: 1, Message: "退款成功"}}
	refundSvc, orderSvc, db := setupRefundServiceTest(t, gateway)
	order := createPaidOrder(t, orderSvc, db)

	request, err := refundSvc.RequestRefund(order.OrderNo, "商品无法使用")
	if err != nil {
		t.Fatalf("request refund failed: %v", err)
	}
	if err := refundSvc.ApproveRefund(context.Background(), request.ID); err != nil {
		t.Fatalf("approve refund failed: %v", err)
	}

	reloaded, _ := orderSvc.GetByID(order.ID)
	if reloaded.Status != constants.OrderStatusRefunded {
		t.Fatalf("expected refunded, got %s", reloaded.Status)
	}
	var updated models.RefundRequest
	if err := db.First(&updated, request.ID).Error; err != nil {
		t.Fatalf("reload request failed: %v", err)
	}
	if updated.Status != constants.RefundStatusApproved || updated.ProcessedAt == nil {
		t.Fatalf("expected approved with processed_at, got %+v", updated)
	}
	var usedCount int64
	db.Model(&models.CardRecord{}).Where("used = ?", true).Count(&usedCount)
	if usedCount != 0 {
		t.Fatalf("expected cards released, got %d used", usedCount)
	}

	// 重复批准同一申请
	if err := refundSvc.ApproveRefund(context.Background(), request.ID); !errors.Is(err, ErrRefundRequestNotFound) {
		t.Fatalf("expected ErrRefundRequestNotFound on replay, got %v", err)
	}
}

func TestApproveRefundKeepsOrderWhenGatewayRejects(t *testing.T) {
	gateway := &stubGateway{refund: &epay.RefundResult{Code: 0, Message: "余额不足"}}
	refundSvc, orderSvc, db := setupRefundServiceTest(t, gateway)
	order := createPaidOrder(t, orderSvc, db)

	request, err := refundSvc.RequestRefund(order.OrderNo, "商品无法使用")
	if err != nil {
		t.Fatalf("request refund failed: %v", err)
	}
	if err := refundSvc.ApproveRefund(context.Background(), request.ID); !errors.Is(err, ErrRefundRejectedByGW) {
		t.Fatalf("expected ErrRefundRejectedByGW, got %v", err)
	}

	// 网关拒绝时不回滚，申请保持待处理可重试
	reloaded, _ := orderSvc.GetByID(order.ID)
	if reloaded.Status != constants.OrderStatusPaid {
		t.Fatalf("expected order stays paid, got %s", reloaded.Status)
	}
	var updated models.RefundRequest
	db.First(&updated, request.ID)
	if updated.Status != constants.RefundStatusPending {
		t.Fatalf("expected request stays pending, got %s", updated.Status)
	}
}

func TestApproveRefundTreatsSettledMessageAsSuccess(t *testing.T) {
	// 重复退款时网关返回 code 0 但文案表明已完成
	gateway := &stubGateway{refund: &epay.RefundResult{Code: 0, Message: "订单已完成退款"}}
	refundSvc, orderSvc, db := setupRefundServiceTest(t, gateway)
	order := createPaidOrder(t, orderSvc, db)

	request, err := refundSvc.RequestRefund(order.OrderNo, "商品无法使用")
	if err != nil {
		t.Fatalf("request refund failed: %v", err)
	}
	if err := refundSvc.ApproveRefund(context.Background(), request.ID); err != nil {
		t.Fatalf("expected settled message to pass, got %v", err)
	}
	reloaded, _ := orderSvc.GetByID(order.ID)
	if reloaded.Status != constants.OrderStatusRefunded {
		t.Fatalf("expected refunded, got %s", reloaded.Status)
	}
}

func TestRejectRefundKeepsOrderPaid(t *testing.T) {
	refundSvc, orderSvc, db := setupRefundServiceTest(t, &stubGateway{})
	order := createPaidOrder(t, orderSvc, db)

	request, err := refundSvc.RequestRefund(order.OrderNo, "商品无法使用")
	if err != nil {
		t.Fatalf("request refund failed: %v", err)
	}
	if err := refundSvc.RejectRefund(request.ID); err != nil {
		t.Fatalf("reject refund failed: %v", err)
	}

	reloaded, _ := orderSvc.GetByID(order.ID)
	if reloaded.Status != constants.OrderStatusPaid {
		t.Fatalf("expected order stays paid, got %s", reloaded.Status)
	}
	var updated models.RefundRequest
	db.First(&updated, request.ID)
	if updated.Status != constants.RefundStatusRejected {
		t.Fatalf("expected rejected, got %s", updated.Status)
	}

	if err := refundSvc.RejectRefund(request.ID); !errors.Is(err, ErrRefundRequestNotFound) {
		t.Fatalf("expected ErrRefundRequestNotFound on replay, got %v", err)
	}
}

func TestDirectRefundSkipsGatewayForPointsOnlyOrders(t *testing.T) {
	// 无网关：积分全额抵扣的订单没有网关流水，退款不应触达网关
	refundSvc, orderSvc, db := setupRefundServiceTest(t, nil)
	user := seedUser(t, db, 500)
	product := seedProduct(t, db, 5, false, "2.00")
	seedCards(t, db, product.ID, "P1", "P2")

	order, err := orderSvc.CreateOrder(CreateOrderInput{
		ProductID: product.ID,
		Quantity:  1,
		UserID:    &user.ID,
		UsePoints: 500,
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if order.Status != constants.OrderStatusPaid {
		t.Fatalf("expected points-only order paid directly, got %s", order.Status)
	}

	if err := refundSvc.DirectRefund(context.Background(), order.OrderNo); err != nil {
		t.Fatalf("direct refund failed: %v", err)
	}
	reloaded, _ := orderSvc.GetByID(order.ID)
	if reloaded.Status != constants.OrderStatusRefunded {
		t.Fatalf("expected refunded, got %s", reloaded.Status)
	}
	var refreshed models.User
	db.First(&refreshed, user.ID)
	if refreshed.Points != 500 {
		t.Fatalf("expected points returned, got %d", refreshed.Points)
	}
}

func TestDirectRefundRequiresGatewayForPaidAmount(t *testing.T) {
	refundSvc, orderSvc, db := setupRefundServiceTest(t, nil)
	order := createPaidOrder(t, orderSvc, db)

	if err := refundSvc.DirectRefund(context.Background(), order.OrderNo); !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
	}
	reloaded, _ := orderSvc.GetByID(order.ID)
	if reloaded.Status != constants.OrderStatusPaid {
		t.Fatalf("expected order stays paid, got %s", reloaded.Status)
	}
}

func TestRequestRefundConcurrentCreatesSinglePending(t *testing.T) {
	refundSvc, orderSvc, db := setupRefundServiceTest(t, &stubGateway{})
	order := createPaidOrder(t, orderSvc, db)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = refundSvc.RequestRefund(order.OrderNo, "商品无法使用")
		}()
	}
	wg.Wait()

	var pendingCount int64
	db.Model(&models.RefundRequest{}).
		Where("order_id = ? AND status = ?", order.ID, constants.RefundStatusPending).
		Count(&pendingCount)
	if pendingCount != 1 {
		t.Fatalf("expected exactly 1 pending request, got %d", pendingCount)
	}
}
