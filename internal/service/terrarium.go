package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BenoitPrmt/terrarium-monitor/internal/auth"
	"github.com/BenoitPrmt/terrarium-monitor/internal/domain"
	"github.com/BenoitPrmt/terrarium-monitor/internal/repository"
)

// ErrValidation 请求参数不合法
var ErrValidation = errors.New("validation_failed")

const (
	minNameLen = 2
	maxNameLen = 120
)

// TerrariumService 终端生命周期管理：注册、令牌轮换、存活配置、删除
type TerrariumService struct {
	terrariums repository.TerrariumRepo
	logger     *zap.Logger
}

func NewTerrariumService(terrariums repository.TerrariumRepo, logger *zap.Logger) *TerrariumService {
	return &TerrariumService{
		terrariums: terrariums,
		logger:     logger,
	}
}

func validateName(name string) error {
	n := len(strings.TrimSpace(name))
	if n < minNameLen || n > maxNameLen {
		return fmt.Errorf("%w: name must be %d-%d characters", ErrValidation, minNameLen, maxNameLen)
	}
	return nil
}

// Create 注册新终端，明文设备令牌只在这里返回一次
func (s *TerrariumService) Create(ctx context.Context, ownerID, name, location, description string) (*domain.Terrarium, string, error) {
	if err := validateName(name); err != nil {
		return nil, "", err
	}

	plaintext, hash := auth.NewDeviceToken()
	now := time.Now().UTC()
	terrarium := &domain.Terrarium{
		ID:              uuid.New().String(),
		OwnerID:         ownerID,
		Name:            strings.TrimSpace(name),
		Location:        location,
		Description:     description,
		UUID:            uuid.New().String(),
		DeviceTokenHash: hash,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.terrariums.Create(ctx, terrarium); err != nil {
		return nil, "", fmt.Errorf("failed to register terrarium: %w", err)
	}

	s.logger.Info("terrarium registered",
		zap.String("terrarium_id", terrarium.ID),
		zap.String("owner_id", ownerID))
	return terrarium, plaintext, nil
}

func (s *TerrariumService) Get(ctx context.Context, id string) (*domain.Terrarium, error) {
	t, err := s.terrariums.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	return t, err
}

func (s *TerrariumService) ListByOwner(ctx context.Context, ownerID string) ([]domain.Terrarium, error) {
	return s.terrariums.ListByOwner(ctx, ownerID)
}

func (s *TerrariumService) Update(ctx context.Context, id, name, location, description string) (*domain.Terrarium, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	t, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	t.Name = strings.TrimSpace(name)
	t.Location = location
	t.Description = description
	if err := s.terrariums.Update(ctx, t); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to update terrarium: %w", err)
	}
	return s.Get(ctx, id)
}

// RotateToken 生成新设备令牌并失效旧令牌，返回一次性的新明文
func (s *TerrariumService) RotateToken(ctx context.Context, id string) (string, error) {
	t, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}

	plaintext, hash := auth.NewDeviceToken()
	t.DeviceTokenHash = hash
	if err := s.terrariums.Update(ctx, t); err != nil {
		return "", fmt.Errorf("failed to rotate device token: %w", err)
	}

	s.logger.Info("device token rotated", zap.String("terrarium_id", id))
	return plaintext, nil
}

// ConfigureHealthCheck 更新存活监测配置。
// 配置变更会清掉一次性触发标记，新配置从干净状态开始。
func (s *TerrariumService) ConfigureHealthCheck(ctx context.Context, id string, hc *domain.HealthCheckConfig) error {
	if hc != nil && hc.IsEnabled {
		if hc.URL == "" {
			return fmt.Errorf("%w: health check url is required when enabled", ErrValidation)
		}
		if hc.DelayMinutes < domain.HealthCheckMinDelayMinutes || hc.DelayMinutes > domain.HealthCheckMaxDelayMinutes {
			return fmt.Errorf("%w: health check delay must be %d-%d minutes",
				ErrValidation, domain.HealthCheckMinDelayMinutes, domain.HealthCheckMaxDelayMinutes)
		}
	}
	if hc != nil {
		hc.LastTriggeredAt = nil
	}

	err := s.terrariums.UpdateHealthCheck(ctx, id, hc)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// Delete 删除终端，样本、聚合桶和告警规则级联删除
func (s *TerrariumService) Delete(ctx context.Context, id string) error {
	err := s.terrariums.Delete(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete terrarium: %w", err)
	}
	s.logger.Info("terrarium deleted", zap.String("terrarium_id", id))
	return nil
}
