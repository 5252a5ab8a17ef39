package epay

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

const (
	defaultTimeout = 60 * time.Second

	submitPath = "/submit.php"
	apiPath    = "/api.php"
)

var (
	ErrConfigInvalid    = errors.New("epay config invalid")
	ErrRequestFailed    = errors.New("epay request failed")
	ErrResponseInvalid  = errors.New("epay response invalid")
	ErrSignatureInvalid = errors.New("epay signature invalid")
)

// Config 易支付配置
type Config struct {
	GatewayURL  string // 网关地址
	MerchantID  string // 商户号
	MerchantKey string // 商户密钥
	NotifyURL   string // 异步通知地址
	ReturnURL   string // 同步跳转地址
	Timeout     time.Duration
}

// Client 易支付客户端
type Client struct {
	cfg  Config
	http *http.Client
}

// QueryResult 查单结果
type QueryResult struct {
	Paid    bool
	Amount  string
	TradeNo string
	Raw     map[string]interface{}
}

// RefundResult 退款结果
type RefundResult struct {
	Code    int
	Message string
}

// NewClient 创建易支付客户端
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.GatewayURL) == "" {
		return nil, fmt.Errorf("%w: gateway_url is required", ErrConfigInvalid)
	}
	if strings.TrimSpace(cfg.MerchantID) == "" {
		return nil, fmt.Errorf("%w: merchant_id is required", ErrConfigInvalid)
	}
	if strings.TrimSpace(cfg.MerchantKey) == "" {
		return nil, fmt.Errorf("%w: merchant_key is required", ErrConfigInvalid)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
	}, nil
}

// BuildPaymentURL 构造带签名的收银台跳转地址
func (c *Client) BuildPaymentURL(orderNo, amount, subject string) (string, error) {
	if orderNo == "" || amount == "" {
		return "", ErrConfigInvalid
	}
	if subject == "" {
		subject = orderNo
	}
	params := map[string]string{
		"pid":          c.cfg.MerchantID,
		"type":         "alipay",
		"out_trade_no": orderNo,
		"notify_url":   c.cfg.NotifyURL,
		"return_url":   c.cfg.ReturnURL,
		"name":         subject,
		"money":        amount,
	}
	params["sign"] = signMD5(buildSignContent(params) + c.cfg.MerchantKey)
	params["sign_type"] = "MD5"

	values := url.Values{}
	for k, v := range params {
		if v == "" {
			continue
		}
		values.Set(k, v)
	}
	return buildEndpoint(c.cfg.GatewayURL, submitPath) + "?" + values.Encode(), nil
}

// QueryOrder 查询网关侧订单状态
func (c *Client) QueryOrder(ctx context.Context, orderNo string) (*QueryResult, error) {
	values := url.Values{}
	values.Set("act", "order")
	values.Set("pid", c.cfg.MerchantID)
	values.Set("key", c.cfg.MerchantKey)
	values.Set("out_trade_no", orderNo)

	body, err := c.get(ctx, buildEndpoint(c.cfg.GatewayURL, apiPath)+"?"+values.Encode())
	if err != nil {
		return nil, err
	}

	var raw map[string]interface{}
	_ = json.Unmarshal(body, &raw)
	var resp struct {
		Code    int    `json:"code"`
		Msg     string `json:"msg"`
		Status  int    `json:"status"`
		Money   string `json:"money"`
		TradeNo string `json:"trade_no"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, ErrResponseInvalid
	}
	if resp.Code != 1 {
		return nil, fmt.Errorf("%w: %s", ErrResponseInvalid, resp.Msg)
	}
	return &QueryResult{
		Paid:    resp.Status == 1,
		Amount:  strings.TrimSpace(resp.Money),
		TradeNo: strings.TrimSpace(resp.TradeNo),
		Raw:     raw,
	}, nil
}

// Refund 发起网关退款
func (c *Client) Refund(ctx context.Context, tradeNo, amount string) (*RefundResult, error) {
	params := map[string]string{
		"act":      "refund",
		"pid":      c.cfg.MerchantID,
		"key":      c.cfg.MerchantKey,
		"trade_no": tradeNo,
		"money":    amount,
	}
	body, err := c.postForm(ctx, buildEndpoint(c.cfg.GatewayURL, apiPath), params)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, ErrResponseInvalid
	}
	return &RefundResult{Code: resp.Code, Message: resp.Msg}, nil
}

// VerifyCallback 验证异步通知签名
func (c *Client) VerifyCallback(form map[string][]string) error {
	sign := strings.TrimSpace(firstValue(form, "sign"))
	if sign == "" {
		return ErrSignatureInvalid
	}
	params := make(map[string]string, len(form))
	for key, values := range form {
		if len(values) == 0 {
			continue
		}
		params[key] = values[0]
	}
	expected := signMD5(buildSignContent(params) + c.cfg.MerchantKey)
	if !strings.EqualFold(expected, sign) {
		return ErrSignatureInvalid
	}
	return nil
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json, text/plain, */*")
	return c.do(req)
}

func (c *Client) postForm(ctx context.Context, endpoint string, params map[string]string) ([]byte, error) {
	values := url.Values{}
	for k, v := range params {
		if v == "" {
			continue
		}
		values.Set(k, v)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(values.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json, text/plain, */*")
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, ErrRequestFailed
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	return body, nil
}

func buildEndpoint(gatewayURL, apiPath string) string {
	base := strings.TrimRight(strings.TrimSpace(gatewayURL), "/")
	path := strings.TrimSpace(apiPath)
	if path == "" {
		return base
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}

func buildSignContent(params map[string]string) string {
	var keys []string
	for k, v := range params {
		if v == "" {
			continue
		}
		if k == "sign" || k == "sign_type" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%s", k, params[k]))
	}
	return strings.Join(pairs, "&")
}

func signMD5(content string) string {
	sum := md5.Sum([]byte(content))
	return strings.ToLower(hex.EncodeToString(sum[:]))
}

func firstValue(form map[string][]string, key string) string {
	if values, ok := form[key]; ok && len(values) > 0 {
		return values[0]
	}
	return ""
}
