package admin

import (
	"errors"
	"strconv"
	"strings"

	"github.com/kamicore/internal/http/response"
	"github.com/kamicore/internal/models"
	"github.com/kamicore/internal/service"

	"github.com/gin-gonic/gin"
)

// ProductRequest 创建/更新商品请求
type ProductRequest struct {
	Name          string `json:"name" binding:"required"`
	Slug          string `json:"slug" binding:"required"`
	Description   string `json:"description"`
	Price         string `json:"price" binding:"required"`
	Stock         int    `json:"stock"`
	CardMode      bool   `json:"card_mode"`
	PurchaseLimit int    `json:"purchase_limit"`
	IsActive      bool   `json:"is_active"`
}

// CreateProduct 创建商品
func (h *Handler) CreateProduct(c *gin.Context) {
	var req ProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "bad request", err)
		return
	}

	price, err := models.NewMoneyFromString(req.Price)
	if err != nil {
		respondError(c, response.CodeBadRequest, "price invalid", nil)
		return
	}

	product := models.Product{
		Name:          strings.TrimSpace(req.Name),
		Slug:          strings.TrimSpace(req.Slug),
		Description:   req.Description,
		Price:         price,
		Stock:         req.Stock,
		CardMode:      req.CardMode,
		PurchaseLimit: req.PurchaseLimit,
		IsActive:      req.IsActive,
	}
	if err := h.CatalogService.CreateProduct(&product); err != nil {
		respondError(c, response.CodeInternal, "failed to create product", err)
		return
	}

	response.Success(c, product)
}

// UpdateProduct 更新商品
func (h *Handler) UpdateProduct(c *gin.Context) {
	productID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || productID == 0 {
		respondError(c, response.CodeBadRequest, "product id invalid", nil)
		return
	}

	var req ProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "bad request", err)
		return
	}

	price, err := models.NewMoneyFromString(req.Price)
	if err != nil {
		respondError(c, response.CodeBadRequest, "price invalid", nil)
		return
	}

	product, err := h.ProductRepo.GetByID(uint(productID))
	if err != nil {
		respondError(c, response.CodeNotFound, "product not found", nil)
		return
	}

	product.Name = strings.TrimSpace(req.Name)
	product.Slug = strings.TrimSpace(req.Slug)
	product.Description = req.Description
	product.Price = price
	product.Stock = req.Stock
	product.CardMode = req.CardMode
	product.PurchaseLimit = req.PurchaseLimit
	product.IsActive = req.IsActive

	if err := h.CatalogService.UpdateProduct(product); err != nil {
		respondError(c, response.CodeInternal, "failed to update product", err)
		return
	}

	response.Success(c, product)
}

// ImportCardsRequest 批量导入卡密请求
type ImportCardsRequest struct {
	Contents []string `json:"contents" binding:"required"`
}

// ImportCards 为商品批量导入卡密
func (h *Handler) ImportCards(c *gin.Context) {
	productID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || productID == 0 {
		respondError(c, response.CodeBadRequest, "product id invalid", nil)
		return
	}

	var req ImportCardsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "bad request", err)
		return
	}

	imported, err := h.CatalogService.ImportCards(uint(productID), req.Contents)
	if err != nil {
		if errors.Is(err, service.ErrProductNotFound) {
			respondError(c, response.CodeNotFound, "product not found", nil)
			return
		}
		respondError(c, response.CodeInternal, "failed to import cards", err)
		return
	}

	response.Success(c, gin.H{"imported": imported})
}
