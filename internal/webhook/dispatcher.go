package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// SigningContext 单次投递的签名上下文
type SigningContext struct {
	TerrariumID string
	Metric      string
	Secret      string
	SecretID    string
}

// Dispatcher 出站 webhook 投递器。
// 重试语义：2xx 成功；4xx 不重试；5xx 在剩余次数内退避重试；
// 传输错误在最后一次尝试时向上抛出，否则重试。
type Dispatcher struct {
	client      *resty.Client
	logger      *zap.Logger
	userAgent   string
	maxRetries  int
	baseBackoff time.Duration

	// 测试里替换，生产为带 ctx 取消的定时等待
	sleep func(ctx context.Context, d time.Duration) error
}

// NewDispatcher 创建投递器，maxRetries 是总尝试次数
func NewDispatcher(userAgent string, timeout time.Duration, maxRetries int, logger *zap.Logger) *Dispatcher {
	if maxRetries < 1 {
		maxRetries = 1
	}
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	return &Dispatcher{
		client:      client,
		logger:      logger,
		userAgent:   userAgent,
		maxRetries:  maxRetries,
		baseBackoff: 500 * time.Millisecond,
		sleep:       sleepWithContext,
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Deliver 序列化 payload 并投递到 url。
// 返回值表示是否投递成功；error 仅在最后一次尝试仍是传输错误
// 或 ctx 取消时非空。
func (d *Dispatcher) Deliver(ctx context.Context, url string, payload any, sc SigningContext) (bool, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	backoff := d.baseBackoff
	for attempt := 1; attempt <= d.maxRetries; attempt++ {
		resp, reqErr := d.newRequest(ctx, body, sc).Post(url)

		switch {
		case reqErr != nil:
			if attempt == d.maxRetries {
				d.logger.Error("webhook delivery failed",
					zap.String("url", url),
					zap.Int("attempts", attempt),
					zap.Error(reqErr))
				return false, fmt.Errorf("failed to deliver webhook: %w", reqErr)
			}
			d.logger.Warn("webhook request error, will retry",
				zap.String("url", url),
				zap.Int("attempt", attempt),
				zap.Error(reqErr))

		case resp.StatusCode() >= 200 && resp.StatusCode() < 300:
			d.logger.Info("webhook delivered",
				zap.String("url", url),
				zap.String("terrarium_id", sc.TerrariumID),
				zap.Int("status_code", resp.StatusCode()),
				zap.Int("attempts", attempt))
			return true, nil

		case resp.StatusCode() >= 500:
			if attempt == d.maxRetries {
				d.logger.Error("webhook delivery exhausted retries",
					zap.String("url", url),
					zap.Int("status_code", resp.StatusCode()),
					zap.Int("attempts", attempt))
				return false, nil
			}
			d.logger.Warn("webhook endpoint unavailable, will retry",
				zap.String("url", url),
				zap.Int("status_code", resp.StatusCode()),
				zap.Int("attempt", attempt))

		default:
			// 4xx 是接收端的明确拒绝，重试没有意义
			d.logger.Warn("webhook rejected by endpoint",
				zap.String("url", url),
				zap.Int("status_code", resp.StatusCode()))
			return false, nil
		}

		if err := d.sleep(ctx, backoff); err != nil {
			return false, err
		}
		backoff *= 2
	}
	return false, nil
}

func (d *Dispatcher) newRequest(ctx context.Context, body []byte, sc SigningContext) *resty.Request {
	req := d.client.R().
		SetContext(ctx).
		SetHeader("User-Agent", d.userAgent).
		SetHeader("X-Terrarium-Id", sc.TerrariumID).
		SetBody(body)

	if sc.Metric != "" {
		req.SetHeader("X-Metric", sc.Metric)
	}
	if sc.Secret != "" {
		req.SetHeader("X-Signature", Sign(body, sc.Secret))
	}
	if sc.SecretID != "" {
		req.SetHeader("X-Secret-Id", sc.SecretID)
	}
	return req
}

// Sign 返回 body 的 HMAC-SHA256 十六进制签名
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
