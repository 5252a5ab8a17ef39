package main

import (
	"fmt"
	"os"

	"github.com/kamicore/internal/config"
	"github.com/kamicore/internal/logger"
	"github.com/kamicore/internal/models"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
)

func main() {
	// 连接数据库
	cfg := config.Load()
	logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	stdLog := logger.StdLogger()
	if err := models.InitDB(cfg.Database.Driver, cfg.Database.DSN, models.DBPoolConfig{
		MaxOpenConns:           cfg.Database.Pool.MaxOpenConns,
		MaxIdleConns:           cfg.Database.Pool.MaxIdleConns,
		ConnMaxLifetimeSeconds: cfg.Database.Pool.ConnMaxLifetimeSeconds,
		ConnMaxIdleTimeSeconds: cfg.Database.Pool.ConnMaxIdleTimeSeconds,
	}); err != nil {
		stdLog.Fatalf("Failed to connect database: %v", err)
	}

	// 自动迁移
	if err := models.AutoMigrate(); err != nil {
		stdLog.Fatalf("Failed to migrate database: %v", err)
	}

	// 管理员账号
	adminUser := os.Getenv("KM_ADMIN_USERNAME")
	if adminUser == "" {
		adminUser = "admin"
	}
	adminPass := os.Getenv("KM_ADMIN_PASSWORD")
	if adminPass == "" {
		adminPass = "admin123"
		stdLog.Printf("警告: 未设置 KM_ADMIN_PASSWORD，使用默认密码 admin123")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(adminPass), bcrypt.DefaultCost)
	if err != nil {
		stdLog.Fatalf("Failed to hash admin password: %v", err)
	}
	var adminCount int64
	models.DB.Model(&models.Admin{}).Where("username = ?", adminUser).Count(&adminCount)
	if adminCount == 0 {
		if err := models.DB.Create(&models.Admin{Username: adminUser, Password: string(hashed)}).Error; err != nil {
			stdLog.Fatalf("Failed to create admin: %v", err)
		}
		stdLog.Printf("管理员 %s 已创建", adminUser)
	}

	// 消耗模式商品：每单位库存对应一条卡密
	consumable := models.Product{
		Name:        "Steam 充值卡 50",
		Slug:        "steam-gift-50",
		Description: "面值 50 的充值卡，发货后自动核销",
		Price:       models.NewMoneyFromDecimal(decimal.NewFromFloat(48.50)),
		Stock:       5,
		CardMode:    false,
		IsActive:    true,
	}
	if err := upsertProduct(&consumable); err != nil {
		stdLog.Fatalf("Failed to seed product: %v", err)
	}
	for i := 1; i <= 5; i++ {
		card := models.CardRecord{
			ProductID: consumable.ID,
			Content:   fmt.Sprintf("STEAM50-%04d-DEMO", i),
		}
		models.DB.Where(models.CardRecord{ProductID: consumable.ID, Content: card.Content}).FirstOrCreate(&card)
	}

	// 轮询模式商品：卡密池循环复用，不扣库存
	rotating := models.Product{
		Name:        "共享账号月卡",
		Slug:        "shared-account-monthly",
		Description: "轮询发放池内账号，可重复售卖",
		Price:       models.NewMoneyFromDecimal(decimal.NewFromFloat(9.90)),
		Stock:       -1,
		CardMode:    true,
		IsActive:    true,
	}
	if err := upsertProduct(&rotating); err != nil {
		stdLog.Fatalf("Failed to seed product: %v", err)
	}
	for i := 1; i <= 3; i++ {
		card := models.CardRecord{
			ProductID: rotating.ID,
			Content:   fmt.Sprintf("account%d@example.com / pass%d", i, i),
		}
		models.DB.Where(models.CardRecord{ProductID: rotating.ID, Content: card.Content}).FirstOrCreate(&card)
	}

	// 演示用户：带积分余额
	user := models.User{Email: "demo@example.com", Points: 500}
	models.DB.Where(models.User{Email: user.Email}).FirstOrCreate(&user)

	stdLog.Printf("Seed 完成")
}

func upsertProduct(product *models.Product) error {
	var existing models.Product
	err := models.DB.Where("slug = ?", product.Slug).First(&existing).Error
	if err == nil {
		product.ID = existing.ID
		return nil
	}
	return models.DB.Create(product).Error
}
