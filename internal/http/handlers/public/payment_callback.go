package public

import (
	"strings"

	"github.com/kamicore/internal/constants"
	"github.com/kamicore/internal/logger"

	"github.com/gin-gonic/gin"
)

// EpayNotify 处理易支付异步/同步回调。
// 网关通过 GET 或 POST 送达，应答为纯文本 success/fail。
func (h *Handler) EpayNotify(c *gin.Context) {
	form, err := parseCallbackForm(c)
	if err != nil {
		logger.Warnw("epay_callback_form_parse_failed", "error", err)
		c.String(200, constants.EpayCallbackFail)
		return
	}

	logger.Infow("epay_callback_received",
		"client_ip", c.ClientIP(),
		"out_trade_no", strings.TrimSpace(getFirstValue(form, "out_trade_no")),
		"trade_no", strings.TrimSpace(getFirstValue(form, "trade_no")),
		"trade_status", strings.TrimSpace(getFirstValue(form, "trade_status")),
	)

	ack, err := h.PaymentService.HandleCallback(form)
	if err != nil {
		logger.Warnw("epay_callback_rejected",
			"out_trade_no", strings.TrimSpace(getFirstValue(form, "out_trade_no")),
			"error", err,
		)
	}
	c.String(200, ack)
}

func parseCallbackForm(c *gin.Context) (map[string][]string, error) {
	if err := c.Request.ParseForm(); err != nil {
		return nil, err
	}
	if len(c.Request.PostForm) > 0 {
		return c.Request.PostForm, nil
	}
	return c.Request.Form, nil
}

func getFirstValue(form map[string][]string, key string) string {
	if values, ok := form[key]; ok && len(values) > 0 {
		return values[0]
	}
	return ""
}
