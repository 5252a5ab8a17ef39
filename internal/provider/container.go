package provider

import (
	"strings"
	"time"

	"github.com/kamicore/internal/cache"
	"github.com/kamicore/internal/config"
	"github.com/kamicore/internal/logger"
	"github.com/kamicore/internal/models"
	"github.com/kamicore/internal/payment/epay"
	"github.com/kamicore/internal/queue"
	"github.com/kamicore/internal/repository"
	"github.com/kamicore/internal/service"
)

// Container 依赖注入容器
type Container struct {
	Config      *config.Config
	QueueClient *queue.Client

	// Repositories
	AdminRepo      repository.AdminRepository
	UserRepo       repository.UserRepository
	ProductRepo    repository.ProductRepository
	CardRepo       repository.CardRecordRepository
	LockRepo       repository.InventoryLockRepository
	OrderRepo      repository.OrderRepository
	RefundRepo     repository.RefundRequestRepository
	PaymentLogRepo repository.PaymentLogRepository

	// Services
	AuthService      *service.AuthService
	InventoryService *service.InventoryService
	OrderService     *service.OrderService
	PaymentService   *service.PaymentService
	RefundService    *service.RefundService
	CatalogService   *service.CatalogService
}

// NewContainer 初始化容器
func NewContainer(cfg *config.Config) *Container {
	// 初始化缓存
	if err := cache.InitRedis(&cfg.Redis); err != nil {
		logger.Warnw("provider_init_redis_failed", "error", err)
	}

	// 初始化队列客户端
	var queueClient *queue.Client
	if cfg.Queue.Enabled {
		qc, err := queue.NewClient(&cfg.Queue)
		if err != nil {
			logger.Errorw("provider_init_queue_client_failed", "error", err)
		} else {
			queueClient = qc
		}
	}

	c := &Container{
		Config:      cfg,
		QueueClient: queueClient,
	}

	// 1. 初始化 Repositories
	c.initRepositories()

	// 2. 初始化 Services
	c.initServices()

	return c
}

func (c *Container) initRepositories() {
	db := models.DB
	c.AdminRepo = repository.NewAdminRepository(db)
	c.UserRepo = repository.NewUserRepository(db)
	c.ProductRepo = repository.NewProductRepository(db)
	c.CardRepo = repository.NewCardRecordRepository(db)
	c.LockRepo = repository.NewInventoryLockRepository(db)
	c.OrderRepo = repository.NewOrderRepository(db)
	c.RefundRepo = repository.NewRefundRequestRepository(db)
	c.PaymentLogRepo = repository.NewPaymentLogRepository(db)
}

func (c *Container) initServices() {
	cfg := c.Config

	c.AuthService = service.NewAuthService(c.AdminRepo, cfg.JWT.SecretKey, cfg.JWT.ExpireHours)
	c.InventoryService = service.NewInventoryService(c.ProductRepo, c.CardRepo, c.LockRepo, c.OrderRepo)
	c.OrderService = service.NewOrderService(
		c.OrderRepo,
		c.ProductRepo,
		c.UserRepo,
		c.InventoryService,
		time.Duration(cfg.Order.LockTTLSeconds)*time.Second,
		cfg.Order.PointsRatio,
	)
	c.CatalogService = service.NewCatalogService(c.ProductRepo, c.CardRepo, c.InventoryService)

	gateway := c.buildGateway()
	c.PaymentService = service.NewPaymentService(
		c.OrderService,
		c.ProductRepo,
		c.PaymentLogRepo,
		gateway,
		time.Duration(cfg.Order.PaymentExpireMinutes)*time.Minute,
		time.Duration(cfg.Order.PollRetryDelayMS)*time.Millisecond,
	)
	c.RefundService = service.NewRefundService(c.OrderService, c.RefundRepo, c.PaymentLogRepo, gateway)
}

// buildGateway 构造易支付网关客户端。
// 未配置网关时返回 nil，积分全额抵扣的纯积分商店可以不接网关。
func (c *Container) buildGateway() service.Gateway {
	cfg := c.Config.Epay
	if strings.TrimSpace(cfg.GatewayURL) == "" {
		logger.Warnw("provider_epay_not_configured")
		return nil
	}
	client, err := epay.NewClient(epay.Config{
		GatewayURL:  cfg.GatewayURL,
		MerchantID:  cfg.MerchantID,
		MerchantKey: cfg.MerchantKey,
		NotifyURL:   cfg.NotifyURL,
		ReturnURL:   cfg.ReturnURL,
		Timeout:     time.Duration(cfg.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		logger.Errorw("provider_epay_client_init_failed", "error", err)
		return nil
	}
	return client
}
