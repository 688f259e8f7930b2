package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BenoitPrmt/terrarium-monitor/internal/config"
	"github.com/BenoitPrmt/terrarium-monitor/internal/ingest"
	"github.com/BenoitPrmt/terrarium-monitor/internal/mqtt"
	"github.com/BenoitPrmt/terrarium-monitor/internal/service"
)

// mqtt 来源没有客户端地址，限流 key 使用固定来源标记
const mqttSource = "mqtt"

type broker interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// envelope MQTT 上报载荷：没有 HTTP 头，设备令牌放在消息体里
type envelope struct {
	Token string `json:"token"`
	ingest.Payload
}

// MQTTConsumer 订阅设备上报主题，走与 HTTP 入口相同的摄入管线
type MQTTConsumer struct {
	cfg    *config.MQTTConfig
	client broker
	svc    *service.IngestService
	logger *zap.Logger
}

func NewMQTTConsumer(cfg *config.MQTTConfig, client broker, svc *service.IngestService, logger *zap.Logger) *MQTTConsumer {
	return &MQTTConsumer{
		cfg:    cfg,
		client: client,
		svc:    svc,
		logger: logger,
	}
}

// Start 订阅主题并阻塞到上下文取消
func (c *MQTTConsumer) Start(ctx context.Context) error {
	if err := c.client.Subscribe(c.cfg.Topic, c.cfg.QoS, c.handleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to record topic: %w", err)
	}

	c.logger.Info("MQTT consumer started",
		zap.String("topic", c.cfg.Topic),
	)

	<-ctx.Done()
	return nil
}

// Stop 取消订阅
func (c *MQTTConsumer) Stop(ctx context.Context) error {
	if err := c.client.Unsubscribe(c.cfg.Topic); err != nil {
		c.logger.Error("Failed to unsubscribe", zap.Error(err))
	}

	c.logger.Info("MQTT consumer stopped")
	return nil
}

// handleMessage 处理一条上报消息
// 主题格式: terrarium/{uuid}/record
func (c *MQTTConsumer) handleMessage(topic string, payload []byte) error {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 {
		return fmt.Errorf("invalid topic format: %s", topic)
	}
	deviceUUID := parts[1]

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return fmt.Errorf("failed to unmarshal record message: %w", err)
	}

	accepted, err := c.svc.Ingest(context.Background(), deviceUUID, env.Token, mqttSource, env.Payload)
	if err != nil {
		c.logger.Warn("mqtt record rejected",
			zap.String("device_uuid", deviceUUID),
			zap.Error(err),
		)
		return fmt.Errorf("record rejected for %s: %w", deviceUUID, err)
	}

	c.logger.Debug("mqtt record accepted",
		zap.String("device_uuid", deviceUUID),
		zap.Int("ingested", accepted),
	)
	return nil
}
