package alert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"
)

// LogChannel 日志告警通道
type LogChannel struct {
	logger *log.Logger
	name   string
}

// NewLogChannel 创建日志告警通道
func NewLogChannel(name string, output *os.File) *LogChannel {
	if output == nil {
		output = os.Stdout
	}

	return &LogChannel{
		logger: log.New(output, "[ALERT] ", log.LstdFlags),
		name:   name,
	}
}

// Send 发送告警到日志
func (c *LogChannel) Send(alert Alert) error {
	msg := fmt.Sprintf("[%s] %s", alert.Level, alert.Message)

	if len(alert.Fields) > 0 {
		msg += " | Fields: "
		for k, v := range alert.Fields {
			msg += fmt.Sprintf("%s=%v ", k, v)
		}
	}

	c.logger.Println(msg)
	return nil
}

// Name 返回通道名称
func (c *LogChannel) Name() string {
	return c.name
}

// WebhookChannel 以 JSON POST 推送告警到外部 webhook。
type WebhookChannel struct {
	name       string
	url        string
	httpClient *http.Client
}

// NewWebhookChannel 创建 webhook 告警通道
func NewWebhookChannel(name, url string) *WebhookChannel {
	return &WebhookChannel{
		name:       name,
		url:        url,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// Send 推送告警；非 2xx 响应视为失败。
func (c *WebhookChannel) Send(alert Alert) error {
	payload := map[string]interface{}{
		"level":     string(alert.Level),
		"message":   alert.Message,
		"timestamp": alert.Timestamp.UTC().Format(time.RFC3339),
		"fields":    alert.Fields,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	resp, err := c.httpClient.Post(c.url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("post alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Name 返回通道名称
func (c *WebhookChannel) Name() string {
	return c.name
}

// MockChannel 模拟告警通道（用于测试）
type MockChannel struct {
	name      string
	alerts    []Alert
	shouldErr bool
}

// NewMockChannel 创建模拟告警通道
func NewMockChannel(name string) *MockChannel {
	return &MockChannel{
		name:   name,
		alerts: make([]Alert, 0),
	}
}

// Send 记录告警（用于测试验证）
func (c *MockChannel) Send(alert Alert) error {
	if c.shouldErr {
		return fmt.Errorf("mock error")
	}
	c.alerts = append(c.alerts, alert)
	return nil
}

// Name 返回通道名称
func (c *MockChannel) Name() string {
	return c.name
}

// GetAlerts 获取所有接收到的告警
func (c *MockChannel) GetAlerts() []Alert {
	return c.alerts
}

// SetShouldError 设置是否返回错误
func (c *MockChannel) SetShouldError(shouldErr bool) {
	c.shouldErr = shouldErr
}

// Clear 清空告警记录
func (c *MockChannel) Clear() {
	c.alerts = make([]Alert, 0)
}

// Count 返回接收到的告警数量
func (c *MockChannel) Count() int {
	return len(c.alerts)
}
