package admin

import (
	"github.com/kamicore/internal/http/response"
	"github.com/kamicore/internal/logger"

	"github.com/gin-gonic/gin"
)

const maxPageSize = 100

func respondError(c *gin.Context, code int, msg string, err error) {
	if err != nil {
		logger.Warnw("admin_handler_error",
			"path", c.Request.URL.Path,
			"code", code,
			"error", err,
		)
	}
	response.Error(c, code, msg)
}

func normalizePagination(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}
