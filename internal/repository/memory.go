package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BenoitPrmt/terrarium-monitor/internal/domain"
)

// 内存版 repo：DB 未就绪时的本地联测后备，也是单元测试的依赖。
// 语义与 PostgreSQL 实现一致（含聚合桶的原子合并与级联删除）。

// MemoryTerrariumRepo TerrariumRepo 的内存实现
type MemoryTerrariumRepo struct {
	mu    sync.RWMutex
	byID  map[string]*domain.Terrarium
	casc  []cascadeTarget
	order []string
}

type cascadeTarget interface {
	deleteByTerrarium(terrariumID string)
}

func NewMemoryTerrariumRepo() *MemoryTerrariumRepo {
	return &MemoryTerrariumRepo{byID: make(map[string]*domain.Terrarium)}
}

var _ TerrariumRepo = (*MemoryTerrariumRepo)(nil)

// AttachCascade 注册级联删除目标（samples/aggregates/rules 的内存 repo）
func (m *MemoryTerrariumRepo) AttachCascade(targets ...cascadeTarget) {
	m.casc = append(m.casc, targets...)
}

func cloneTerrarium(t *domain.Terrarium) *domain.Terrarium {
	cp := *t
	if t.HealthCheck != nil {
		hc := *t.HealthCheck
		if t.HealthCheck.LastTriggeredAt != nil {
			at := *t.HealthCheck.LastTriggeredAt
			hc.LastTriggeredAt = &at
		}
		cp.HealthCheck = &hc
	}
	return &cp
}

func (m *MemoryTerrariumRepo) Create(_ context.Context, t *domain.Terrarium) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[t.ID] = cloneTerrarium(t)
	m.order = append(m.order, t.ID)
	return nil
}

func (m *MemoryTerrariumRepo) GetByID(_ context.Context, id string) (*domain.Terrarium, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneTerrarium(t), nil
}

func (m *MemoryTerrariumRepo) GetByUUID(_ context.Context, uuid string) (*domain.Terrarium, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.byID {
		if t.UUID == uuid {
			return cloneTerrarium(t), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryTerrariumRepo) ListByOwner(_ context.Context, ownerID string) ([]domain.Terrarium, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Terrarium
	for i := len(m.order) - 1; i >= 0; i-- {
		if t, ok := m.byID[m.order[i]]; ok && t.OwnerID == ownerID {
			out = append(out, *cloneTerrarium(t))
		}
	}
	return out, nil
}

func (m *MemoryTerrariumRepo) Update(_ context.Context, t *domain.Terrarium) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.byID[t.ID]
	if !ok {
		return ErrNotFound
	}
	existing.Name = t.Name
	existing.Location = t.Location
	existing.Description = t.Description
	existing.DeviceTokenHash = t.DeviceTokenHash
	existing.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryTerrariumRepo) UpdateHealthCheck(_ context.Context, terrariumID string, hc *domain.HealthCheckConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.byID[terrariumID]
	if !ok {
		return ErrNotFound
	}
	if hc == nil {
		existing.HealthCheck = nil
		return nil
	}
	cp := *hc
	if hc.LastTriggeredAt != nil {
		at := *hc.LastTriggeredAt
		cp.LastTriggeredAt = &at
	}
	existing.HealthCheck = &cp
	existing.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryTerrariumRepo) SetHealthCheckTriggeredAt(_ context.Context, terrariumID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.byID[terrariumID]
	if !ok {
		return ErrNotFound
	}
	if existing.HealthCheck == nil {
		existing.HealthCheck = &domain.HealthCheckConfig{}
	}
	t := at
	existing.HealthCheck.LastTriggeredAt = &t
	return nil
}

func (m *MemoryTerrariumRepo) ClearHealthCheckTriggeredAt(_ context.Context, terrariumID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.byID[terrariumID]
	if !ok {
		return ErrNotFound
	}
	if existing.HealthCheck != nil {
		existing.HealthCheck.LastTriggeredAt = nil
	}
	return nil
}

func (m *MemoryTerrariumRepo) ListHealthCheckCandidates(_ context.Context) ([]domain.Terrarium, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Terrarium
	for _, id := range m.order {
		if t, ok := m.byID[id]; ok && t.HealthCheck.Armed() {
			out = append(out, *cloneTerrarium(t))
		}
	}
	return out, nil
}

func (m *MemoryTerrariumRepo) Delete(_ context.Context, terrariumID string) error {
	m.mu.Lock()
	if _, ok := m.byID[terrariumID]; !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	delete(m.byID, terrariumID)
	for i, id := range m.order {
		if id == terrariumID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	targets := m.casc
	m.mu.Unlock()

	for _, t := range targets {
		t.deleteByTerrarium(terrariumID)
	}
	return nil
}

// MemorySampleRepo SampleRepo 的内存实现
type MemorySampleRepo struct {
	mu      sync.RWMutex
	samples []domain.Sample
	nextID  int64
}

func NewMemorySampleRepo() *MemorySampleRepo {
	return &MemorySampleRepo{nextID: 1}
}

var _ SampleRepo = (*MemorySampleRepo)(nil)

func (m *MemorySampleRepo) InsertBatch(_ context.Context, samples []domain.Sample) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	for _, s := range samples {
		s.ID = m.nextID
		m.nextID++
		s.CreatedAt = now
		m.samples = append(m.samples, s)
	}
	return len(samples), nil
}

func (m *MemorySampleRepo) LastSampleTimes(_ context.Context, terrariumIDs []string) (map[string]time.Time, error) {
	wanted := make(map[string]bool, len(terrariumIDs))
	for _, id := range terrariumIDs {
		wanted[id] = true
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]time.Time)
	for _, s := range m.samples {
		if !wanted[s.TerrariumID] {
			continue
		}
		if last, ok := out[s.TerrariumID]; !ok || s.Ts.After(last) {
			out[s.TerrariumID] = s.Ts
		}
	}
	return out, nil
}

func (m *MemorySampleRepo) ListRaw(_ context.Context, q RawSampleQuery) ([]domain.Sample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.Sample
	for _, s := range m.samples {
		if s.TerrariumID != q.TerrariumID || s.Type != q.Type {
			continue
		}
		if q.From != nil && s.Ts.Before(*q.From) {
			continue
		}
		if q.To != nil && s.Ts.After(*q.To) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ts.Before(out[j].Ts) })

	limit := q.Limit
	if limit <= 0 {
		limit = 500
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemorySampleRepo) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.samples[:0]
	var removed int64
	for _, s := range m.samples {
		if s.Ts.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, s)
	}
	m.samples = kept
	return removed, nil
}

func (m *MemorySampleRepo) deleteByTerrarium(terrariumID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.samples[:0]
	for _, s := range m.samples {
		if s.TerrariumID != terrariumID {
			kept = append(kept, s)
		}
	}
	m.samples = kept
}

type bucketKey struct {
	terrariumID string
	metric      domain.MetricType
	key         string
}

// MemoryAggregateRepo AggregateRepo 的内存实现。
// 每个桶键一条记录，合并在锁内完成，与 SQL upsert 等价。
type MemoryAggregateRepo struct {
	mu        sync.Mutex
	hourly    map[bucketKey]domain.Stats
	daily     map[bucketKey]domain.Stats
	hourOfDay map[bucketKey]domain.Stats
}

func NewMemoryAggregateRepo() *MemoryAggregateRepo {
	return &MemoryAggregateRepo{
		hourly:    make(map[bucketKey]domain.Stats),
		daily:     make(map[bucketKey]domain.Stats),
		hourOfDay: make(map[bucketKey]domain.Stats),
	}
}

var _ AggregateRepo = (*MemoryAggregateRepo)(nil)

func (m *MemoryAggregateRepo) UpsertHourly(_ context.Context, terrariumID string, metric domain.MetricType, hour time.Time, add domain.Stats) error {
	m.upsert(m.hourly, bucketKey{terrariumID, metric, hour.UTC().Format(time.RFC3339)}, add)
	return nil
}

func (m *MemoryAggregateRepo) UpsertDaily(_ context.Context, terrariumID string, metric domain.MetricType, day time.Time, add domain.Stats) error {
	m.upsert(m.daily, bucketKey{terrariumID, metric, day.UTC().Format(time.RFC3339)}, add)
	return nil
}

func (m *MemoryAggregateRepo) UpsertHourOfDay(_ context.Context, terrariumID string, metric domain.MetricType, hourOfDay int, add domain.Stats) error {
	m.upsert(m.hourOfDay, bucketKey{terrariumID, metric, hodKey(hourOfDay)}, add)
	return nil
}

func hodKey(h int) string {
	return time.Date(2000, 1, 1, h, 0, 0, 0, time.UTC).Format("15")
}

func (m *MemoryAggregateRepo) upsert(buckets map[bucketKey]domain.Stats, key bucketKey, add domain.Stats) {
	if add.Count == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	buckets[key] = buckets[key].Merge(add)
}

func (m *MemoryAggregateRepo) ListHourly(_ context.Context, q BucketQuery) ([]domain.HourlyAggregate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.HourlyAggregate
	for k, stats := range m.hourly {
		if k.terrariumID != q.TerrariumID || k.metric != q.Type {
			continue
		}
		hour, _ := time.Parse(time.RFC3339, k.key)
		if q.From != nil && hour.Before(*q.From) {
			continue
		}
		if q.To != nil && hour.After(*q.To) {
			continue
		}
		out = append(out, domain.HourlyAggregate{TerrariumID: k.terrariumID, Type: k.metric, Hour: hour, Stats: stats})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hour.Before(out[j].Hour) })
	return truncateHourly(out, q.Limit), nil
}

func truncateHourly(in []domain.HourlyAggregate, limit int) []domain.HourlyAggregate {
	if limit <= 0 {
		limit = 500
	}
	if len(in) > limit {
		return in[:limit]
	}
	return in
}

func (m *MemoryAggregateRepo) ListDaily(_ context.Context, q BucketQuery) ([]domain.DailyAggregate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.DailyAggregate
	for k, stats := range m.daily {
		if k.terrariumID != q.TerrariumID || k.metric != q.Type {
			continue
		}
		day, _ := time.Parse(time.RFC3339, k.key)
		if q.From != nil && day.Before(*q.From) {
			continue
		}
		if q.To != nil && day.After(*q.To) {
			continue
		}
		out = append(out, domain.DailyAggregate{TerrariumID: k.terrariumID, Type: k.metric, Day: day, Stats: stats})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	limit := q.Limit
	if limit <= 0 {
		limit = 500
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryAggregateRepo) ListHourOfDay(_ context.Context, terrariumID string, metric domain.MetricType, limit int) ([]domain.HourOfDayAggregate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.HourOfDayAggregate
	for k, stats := range m.hourOfDay {
		if k.terrariumID != terrariumID || k.metric != metric {
			continue
		}
		hod, _ := time.Parse("15", k.key)
		out = append(out, domain.HourOfDayAggregate{TerrariumID: k.terrariumID, Type: k.metric, HourOfDay: hod.Hour(), Stats: stats})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HourOfDay < out[j].HourOfDay })
	if limit <= 0 {
		limit = 24
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// BucketCounts 返回各类桶的数量（测试用，验证 upsert 唯一性）
func (m *MemoryAggregateRepo) BucketCounts() (hourly, daily, hourOfDay int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.hourly), len(m.daily), len(m.hourOfDay)
}

func (m *MemoryAggregateRepo) deleteByTerrarium(terrariumID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, buckets := range []map[bucketKey]domain.Stats{m.hourly, m.daily, m.hourOfDay} {
		for k := range buckets {
			if k.terrariumID == terrariumID {
				delete(buckets, k)
			}
		}
	}
}

// MemoryAlertRuleRepo AlertRuleRepo 的内存实现
type MemoryAlertRuleRepo struct {
	mu    sync.RWMutex
	byID  map[string]*domain.AlertRule
	order []string
}

func NewMemoryAlertRuleRepo() *MemoryAlertRuleRepo {
	return &MemoryAlertRuleRepo{byID: make(map[string]*domain.AlertRule)}
}

var _ AlertRuleRepo = (*MemoryAlertRuleRepo)(nil)

func cloneAlertRule(r *domain.AlertRule) *domain.AlertRule {
	cp := *r
	if r.LastTriggeredAt != nil {
		at := *r.LastTriggeredAt
		cp.LastTriggeredAt = &at
	}
	return &cp
}

func (m *MemoryAlertRuleRepo) Create(_ context.Context, r *domain.AlertRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[r.ID] = cloneAlertRule(r)
	m.order = append(m.order, r.ID)
	return nil
}

func (m *MemoryAlertRuleRepo) GetByID(_ context.Context, id string) (*domain.AlertRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAlertRule(r), nil
}

func (m *MemoryAlertRuleRepo) ListByTerrarium(_ context.Context, terrariumID string) ([]domain.AlertRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.AlertRule
	for i := len(m.order) - 1; i >= 0; i-- {
		if r, ok := m.byID[m.order[i]]; ok && r.TerrariumID == terrariumID {
			out = append(out, *cloneAlertRule(r))
		}
	}
	return out, nil
}

func (m *MemoryAlertRuleRepo) ActiveRules(_ context.Context, terrariumID string, metrics []domain.MetricType) ([]domain.AlertRule, error) {
	wanted := make(map[domain.MetricType]bool, len(metrics))
	for _, mt := range metrics {
		wanted[mt] = true
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.AlertRule
	for _, id := range m.order {
		r, ok := m.byID[id]
		if !ok || r.TerrariumID != terrariumID || !r.IsActive || !wanted[r.Metric] {
			continue
		}
		out = append(out, *cloneAlertRule(r))
	}
	return out, nil
}

func (m *MemoryAlertRuleRepo) Update(_ context.Context, r *domain.AlertRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.byID[r.ID]
	if !ok {
		return ErrNotFound
	}
	lastTriggered := existing.LastTriggeredAt
	*existing = *cloneAlertRule(r)
	existing.LastTriggeredAt = lastTriggered
	existing.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryAlertRuleRepo) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[id]; !ok {
		return ErrNotFound
	}
	delete(m.byID, id)
	for i, rid := range m.order {
		if rid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *MemoryAlertRuleRepo) MarkTriggered(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	t := at
	existing.LastTriggeredAt = &t
	return nil
}

func (m *MemoryAlertRuleRepo) deleteByTerrarium(terrariumID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.order[:0]
	for _, id := range m.order {
		if r, ok := m.byID[id]; ok && r.TerrariumID == terrariumID {
			delete(m.byID, id)
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
}
