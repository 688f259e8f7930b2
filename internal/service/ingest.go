package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BenoitPrmt/terrarium-monitor/internal/aggregate"
	"github.com/BenoitPrmt/terrarium-monitor/internal/alert"
	"github.com/BenoitPrmt/terrarium-monitor/internal/auth"
	"github.com/BenoitPrmt/terrarium-monitor/internal/ingest"
	"github.com/BenoitPrmt/terrarium-monitor/internal/ratelimit"
	"github.com/BenoitPrmt/terrarium-monitor/internal/repository"
)

var (
	ErrMissingUUID  = errors.New("missing_uuid")
	ErrMissingToken = errors.New("missing_token")
	ErrInvalidToken = errors.New("invalid_token")
	ErrNotFound     = errors.New("not_found")
	ErrRateLimited  = errors.New("rate_limited")
)

// 脱离请求生命周期的后台折叠/评估任务的时限
const backgroundTaskTimeout = 30 * time.Second

// IngestService 摄入编排器：限流、认证、校验、持久化，
// 然后把聚合折叠和告警评估作为后台任务甩出去。
type IngestService struct {
	terrariums    repository.TerrariumRepo
	samples       repository.SampleRepo
	engine        *aggregate.Engine
	evaluator     *alert.Evaluator
	limiter       *ratelimit.Limiter
	ratePerMinute int
	logger        *zap.Logger

	wg  sync.WaitGroup
	now func() time.Time
}

func NewIngestService(
	terrariums repository.TerrariumRepo,
	samples repository.SampleRepo,
	engine *aggregate.Engine,
	evaluator *alert.Evaluator,
	limiter *ratelimit.Limiter,
	ratePerMinute int,
	logger *zap.Logger,
) *IngestService {
	return &IngestService{
		terrariums:    terrariums,
		samples:       samples,
		engine:        engine,
		evaluator:     evaluator,
		limiter:       limiter,
		ratePerMinute: ratePerMinute,
		logger:        logger,
		now:           time.Now,
	}
}

// PayloadDecoder 延迟解码钩子：限流和凭证在场检查通过之后才读取请求体
type PayloadDecoder func(*ingest.Payload) error

// Ingest 处理一条已经解码好的上报，MQTT 桥和测试走这里
func (s *IngestService) Ingest(ctx context.Context, deviceUUID, token, clientIP string, payload ingest.Payload) (int, error) {
	return s.IngestFrom(ctx, deviceUUID, token, clientIP, func(p *ingest.Payload) error {
		*p = payload
		return nil
	})
}

// IngestFrom 处理一次设备上报，返回已接受的样本数。
// 检查顺序固定：uuid、限流、凭证在场、解码、结构校验、设备查找、凭证比对。
// 垃圾请求体同样占用限流配额，所以解码排在限流之后。
// 持久化之前的任何失败都不产生副作用；持久化之后的
// 折叠/评估失败只记日志，不影响响应。
func (s *IngestService) IngestFrom(ctx context.Context, deviceUUID, token, clientIP string, decode PayloadDecoder) (int, error) {
	if deviceUUID == "" {
		return 0, ErrMissingUUID
	}
	if !s.limiter.Allow(deviceUUID+":"+clientIP, s.ratePerMinute, time.Minute) {
		return 0, ErrRateLimited
	}
	if token == "" {
		return 0, ErrMissingToken
	}
	var payload ingest.Payload
	if err := decode(&payload); err != nil {
		return 0, ingest.ErrInvalidPayload
	}
	if err := ingest.ValidatePayload(&payload); err != nil {
		return 0, err
	}

	terrarium, err := s.terrariums.GetByUUID(ctx, deviceUUID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("failed to look up device: %w", err)
	}
	if !auth.VerifyDeviceToken(token, terrarium.DeviceTokenHash) {
		return 0, ErrInvalidToken
	}

	samples, err := ingest.SanitizeBatch(terrarium.ID, &payload, s.now().UTC())
	if err != nil {
		return 0, err
	}

	accepted, err := s.samples.InsertBatch(ctx, samples)
	if err != nil {
		return 0, fmt.Errorf("failed to persist samples: %w", err)
	}

	// 设备恢复上报即复位存活告警，让下一次掉线可以再次触发
	if hc := terrarium.HealthCheck; hc != nil && hc.LastTriggeredAt != nil {
		if err := s.terrariums.ClearHealthCheckTriggeredAt(ctx, terrarium.ID); err != nil {
			s.logger.Warn("failed to reset health check trigger",
				zap.String("terrarium_id", terrarium.ID),
				zap.Error(err))
		}
	}

	s.spawn("aggregate_fold", func(ctx context.Context) error {
		return s.engine.Fold(ctx, samples)
	})
	s.spawn("alert_evaluate", func(ctx context.Context) error {
		return s.evaluator.Evaluate(ctx, terrarium.ID, samples)
	})

	s.logger.Info("batch ingested",
		zap.String("terrarium_id", terrarium.ID),
		zap.String("device_uuid", deviceUUID),
		zap.Int("accepted", accepted))
	return accepted, nil
}

// spawn 起一个有 recover 保护的后台任务，用独立的超时上下文，
// 请求返回后任务继续完成。
func (s *IngestService) spawn(name string, task func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("background task panicked",
					zap.String("task", name),
					zap.Any("panic", r))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), backgroundTaskTimeout)
		defer cancel()
		if err := task(ctx); err != nil {
			s.logger.Error("background task failed",
				zap.String("task", name),
				zap.Error(err))
		}
	}()
}

// Flush 等待所有在途后台任务结束，优雅停机和测试用
func (s *IngestService) Flush() {
	s.wg.Wait()
}

// PruneRateLimiter 清掉过期的限流计数，由调度器周期调用
func (s *IngestService) PruneRateLimiter() {
	s.limiter.Prune()
}
