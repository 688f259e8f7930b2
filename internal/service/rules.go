package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BenoitPrmt/terrarium-monitor/internal/alert"
	"github.com/BenoitPrmt/terrarium-monitor/internal/domain"
	"github.com/BenoitPrmt/terrarium-monitor/internal/repository"
)

// RuleParams 告警规则的可编辑字段
type RuleParams struct {
	Name        string
	URL         string
	IsActive    bool
	Metric      domain.MetricType
	Comparator  domain.Comparator
	Threshold   float64
	CooldownSec int
	SecretID    string
}

// RuleService 告警规则管理，增删改后使规则缓存失效
type RuleService struct {
	rules      repository.AlertRuleRepo
	terrariums repository.TerrariumRepo
	cache      *alert.RuleSource
	logger     *zap.Logger
}

func NewRuleService(rules repository.AlertRuleRepo, terrariums repository.TerrariumRepo, cache *alert.RuleSource, logger *zap.Logger) *RuleService {
	return &RuleService{
		rules:      rules,
		terrariums: terrariums,
		cache:      cache,
		logger:     logger,
	}
}

func (s *RuleService) validate(p *RuleParams) error {
	if err := validateName(p.Name); err != nil {
		return err
	}
	if p.URL == "" {
		return fmt.Errorf("%w: url is required", ErrValidation)
	}
	if !p.Metric.Valid() {
		return fmt.Errorf("%w: unknown metric type %q", ErrValidation, p.Metric)
	}
	if !p.Comparator.Valid() {
		return fmt.Errorf("%w: unknown comparator %q", ErrValidation, p.Comparator)
	}
	if p.CooldownSec == 0 {
		p.CooldownSec = domain.CooldownDefaultSec
	}
	if p.CooldownSec < domain.CooldownMinSec || p.CooldownSec > domain.CooldownMaxSec {
		return fmt.Errorf("%w: cooldown must be %d-%d seconds",
			ErrValidation, domain.CooldownMinSec, domain.CooldownMaxSec)
	}
	return nil
}

func (s *RuleService) Create(ctx context.Context, terrariumID string, p RuleParams) (*domain.AlertRule, error) {
	if err := s.validate(&p); err != nil {
		return nil, err
	}
	if _, err := s.terrariums.GetByID(ctx, terrariumID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	now := time.Now().UTC()
	rule := &domain.AlertRule{
		ID:          uuid.New().String(),
		TerrariumID: terrariumID,
		Name:        p.Name,
		URL:         p.URL,
		IsActive:    p.IsActive,
		Metric:      p.Metric,
		Comparator:  p.Comparator,
		Threshold:   p.Threshold,
		CooldownSec: p.CooldownSec,
		SecretID:    p.SecretID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.rules.Create(ctx, rule); err != nil {
		return nil, fmt.Errorf("failed to create alert rule: %w", err)
	}

	s.cache.Invalidate(ctx, terrariumID)
	s.logger.Info("alert rule created",
		zap.String("rule_id", rule.ID),
		zap.String("terrarium_id", terrariumID),
		zap.String("metric", string(rule.Metric)))
	return rule, nil
}

func (s *RuleService) Get(ctx context.Context, id string) (*domain.AlertRule, error) {
	r, err := s.rules.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	return r, err
}

func (s *RuleService) ListByTerrarium(ctx context.Context, terrariumID string) ([]domain.AlertRule, error) {
	return s.rules.ListByTerrarium(ctx, terrariumID)
}

func (s *RuleService) Update(ctx context.Context, id string, p RuleParams) (*domain.AlertRule, error) {
	if err := s.validate(&p); err != nil {
		return nil, err
	}
	rule, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	rule.Name = p.Name
	rule.URL = p.URL
	rule.IsActive = p.IsActive
	rule.Metric = p.Metric
	rule.Comparator = p.Comparator
	rule.Threshold = p.Threshold
	rule.CooldownSec = p.CooldownSec
	rule.SecretID = p.SecretID
	if err := s.rules.Update(ctx, rule); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to update alert rule: %w", err)
	}

	s.cache.Invalidate(ctx, rule.TerrariumID)
	return s.Get(ctx, id)
}

func (s *RuleService) Delete(ctx context.Context, id string) error {
	rule, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.rules.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete alert rule: %w", err)
	}
	s.cache.Invalidate(ctx, rule.TerrariumID)
	return nil
}
