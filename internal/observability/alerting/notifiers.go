package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"NLMongo-Agent/pkg/logger"
)

// AuditNotifier 把告警写入审计日志,不依赖任何外部服务,
// 告警开启时始终注册为兜底渠道。
type AuditNotifier struct {
	log *slog.Logger
}

// NewAuditNotifier 创建审计日志通知器。log 为 nil 时使用全局审计日志。
func NewAuditNotifier(log *slog.Logger) *AuditNotifier {
	return &AuditNotifier{log: log}
}

// Channel 返回审计渠道。
func (n *AuditNotifier) Channel() Channel { return ChannelAudit }

// Notify 以结构化字段记录告警。消息中的凭据会被打码。
func (n *AuditNotifier) Notify(_ context.Context, event Event) error {
	log := n.log
	if log == nil {
		log = logger.Audit()
	}
	attrs := []any{
		slog.String("task_id", event.TaskID),
		slog.String("code", string(event.Code)),
		slog.String("severity", string(event.Severity)),
		slog.String("message", logger.Mask(event.Message)),
		slog.Int("attempts", event.Attempts),
		slog.Int("max_retries", event.MaxRetries),
	}
	for key, value := range event.Metadata {
		attrs = append(attrs, slog.String(key, logger.Mask(value)))
	}
	log.Warn("任务告警", attrs...)
	return nil
}

// DingTalkNotifier 通过钉钉群机器人 webhook 发送告警。
type DingTalkNotifier struct {
	WebhookURL string
	HTTPClient *http.Client
}

// NewDingTalkNotifier 创建钉钉通知器。
func NewDingTalkNotifier(webhookURL string) *DingTalkNotifier {
	return &DingTalkNotifier{
		WebhookURL: webhookURL,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// Channel 返回钉钉渠道。
func (n *DingTalkNotifier) Channel() Channel { return ChannelDingTalk }

// Notify 发送钉钉文本消息。
func (n *DingTalkNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || strings.TrimSpace(n.WebhookURL) == "" {
		logger.L().Warn("DingTalkNotifier 未配置 webhook,跳过发送", slog.String("task_id", event.TaskID))
		return nil
	}
	payload := map[string]any{
		"msgtype": "text",
		"text":    map[string]string{"content": event.Summary()},
	}
	return postJSON(ctx, n.HTTPClient, n.WebhookURL, payload)
}

// SlackNotifier 通过 Slack incoming webhook 发送告警。
type SlackNotifier struct {
	WebhookURL string
	HTTPClient *http.Client
}

// NewSlackNotifier 创建 Slack 通知器。
func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		WebhookURL: webhookURL,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// Channel 返回 Slack 渠道。
func (n *SlackNotifier) Channel() Channel { return ChannelSlack }

// Notify 发送 Slack 消息。
func (n *SlackNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || strings.TrimSpace(n.WebhookURL) == "" {
		logger.L().Warn("SlackNotifier 未配置 webhook,跳过发送", slog.String("task_id", event.TaskID))
		return nil
	}
	payload := map[string]string{"text": event.Summary()}
	return postJSON(ctx, n.HTTPClient, n.WebhookURL, payload)
}

// postJSON 执行 webhook 推送,非 2xx 状态码视为失败。
func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook 返回 %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return nil
}
