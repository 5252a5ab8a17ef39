package public

import (
	"errors"
	"strings"

	"github.com/kamicore/internal/http/response"
	"github.com/kamicore/internal/service"

	"github.com/gin-gonic/gin"
)

// ListProducts 获取在售商品列表
func (h *Handler) ListProducts(c *gin.Context) {
	products, err := h.CatalogService.ListProducts()
	if err != nil {
		respondError(c, response.CodeInternal, "failed to fetch products", err)
		return
	}
	response.Success(c, products)
}

// GetProduct 按 slug 获取商品详情
func (h *Handler) GetProduct(c *gin.Context) {
	slug := strings.TrimSpace(c.Param("slug"))
	if slug == "" {
		respondError(c, response.CodeBadRequest, "slug required", nil)
		return
	}

	product, err := h.CatalogService.GetProductBySlug(slug)
	if err != nil {
		if errors.Is(err, service.ErrProductNotFound) {
			respondError(c, response.CodeNotFound, "product not found", nil)
			return
		}
		respondError(c, response.CodeInternal, "failed to fetch product", err)
		return
	}

	response.Success(c, product)
}
