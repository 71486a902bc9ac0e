package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"order-tracker-go/order"
)

// VenueRESTClient 一个可签名的简化客户端；HTTPClient 可注入 httptest，便于离线测试。
// 下单/撤单请求通过 ctx 携带超时；超时只上抛，不猜测结果。
type VenueRESTClient struct {
	BaseURL    string
	APIKey     string
	Secret     string
	HTTPClient *http.Client
	Limiter    RateLimiter
}

// NewDefaultHTTPClient 提供一个带超时的 http.Client。
func NewDefaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

type placeResp struct {
	OrderID string `json:"order_id"`
}

// Place 调用 /v1/order 下单，返回交易所订单号。
func (c *VenueRESTClient) Place(ctx context.Context, o *order.Order) (string, error) {
	if c == nil || c.HTTPClient == nil {
		return "", fmt.Errorf("http client not set")
	}
	params := map[string]string{
		"pair":      o.Pair,
		"side":      strings.ToLower(string(o.Side)),
		"ordertype": strings.ToLower(string(o.Type)),
		"volume":    o.Volume.String(),
	}
	if o.Type.RequiresPrice() {
		params["price"] = o.Price.String()
	}
	if o.ClientOrderID != "" {
		params["client_order_id"] = o.ClientOrderID
	}

	var pr placeResp
	if err := c.do(ctx, http.MethodPost, "/v1/order", params, &pr); err != nil {
		return "", err
	}
	if pr.OrderID == "" {
		return "", fmt.Errorf("place order: empty order_id in response")
	}
	return pr.OrderID, nil
}

// Cancel 调用 /v1/order 取消。
func (c *VenueRESTClient) Cancel(ctx context.Context, venueOrderID string) error {
	if c == nil || c.HTTPClient == nil {
		return fmt.Errorf("http client not set")
	}
	params := map[string]string{"order_id": venueOrderID}
	return c.do(ctx, http.MethodDelete, "/v1/order", params, nil)
}

// OpenOrders 查询全部未完结订单快照。
func (c *VenueRESTClient) OpenOrders(ctx context.Context) ([]OrderSnapshotMsg, error) {
	if c == nil || c.HTTPClient == nil {
		return nil, fmt.Errorf("http client not set")
	}
	var snaps []OrderSnapshotMsg
	if err := c.do(ctx, http.MethodGet, "/v1/openOrders", nil, &snaps); err != nil {
		return nil, err
	}
	return snaps, nil
}

// RecentTrades 查询近期成交记录（用于重连后补齐）。
func (c *VenueRESTClient) RecentTrades(ctx context.Context) ([]FillMsg, error) {
	if c == nil || c.HTTPClient == nil {
		return nil, fmt.Errorf("http client not set")
	}
	var fills []FillMsg
	if err := c.do(ctx, http.MethodGet, "/v1/ownTrades", nil, &fills); err != nil {
		return nil, err
	}
	return fills, nil
}

// do 统一处理限流、签名、请求与解码。
func (c *VenueRESTClient) do(ctx context.Context, method, path string, params map[string]string, out interface{}) error {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return err
		}
	}

	query, sig := c.signParams(params)
	endpoint := c.BaseURL + path
	if query != "" {
		endpoint += "?" + query + "&signature=" + url.QueryEscape(sig)
	} else {
		endpoint += "?signature=" + url.QueryEscape(sig)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request %s %s: %w", method, path, err)
	}
	req.Header.Set("X-API-KEY", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}

// signParams 按键名排序拼接后做 HMAC-SHA256 签名。
func (c *VenueRESTClient) signParams(params map[string]string) (query, signature string) {
	merged := make(map[string]string, len(params)+1)
	for k, v := range params {
		merged[k] = v
	}
	merged["timestamp"] = strconv.FormatInt(time.Now().UnixMilli(), 10)

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := url.Values{}
	for _, k := range keys {
		values.Set(k, merged[k])
	}
	query = values.Encode()

	mac := hmac.New(sha256.New, []byte(c.Secret))
	mac.Write([]byte(query))
	signature = hex.EncodeToString(mac.Sum(nil))
	return query, signature
}
