package alert

import (
	"context"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/BenoitPrmt/terrarium-monitor/internal/repository"
	"github.com/BenoitPrmt/terrarium-monitor/internal/webhook"
)

// DowntimePayload 设备掉线通知体
type DowntimePayload struct {
	TerrariumID      string    `json:"terrariumId"`
	Event            string    `json:"event"`
	Name             string    `json:"name"`
	DownSince        time.Time `json:"downSince"`
	DowntimeMinutes  int       `json:"downtimeMinutes"`
	ThresholdMinutes int       `json:"thresholdMinutes"`
	TriggeredAt      time.Time `json:"triggeredAt"`
}

const downtimeEvent = "HEALTH_CHECK"

// Monitor 存活监测：由外部调度触发的一次性扫描。
// 已触发过的设备不再重复告警，直到设备恢复上报后被摄入路径复位。
type Monitor struct {
	terrariums    repository.TerrariumRepo
	samples       repository.SampleRepo
	dispatcher    Deliverer
	signingSecret string
	logger        *zap.Logger
	now           func() time.Time
}

func NewMonitor(terrariums repository.TerrariumRepo, samples repository.SampleRepo, dispatcher Deliverer, signingSecret string, logger *zap.Logger) *Monitor {
	return &Monitor{
		terrariums:    terrariums,
		samples:       samples,
		dispatcher:    dispatcher,
		signingSecret: signingSecret,
		logger:        logger,
		now:           time.Now,
	}
}

// Sweep 扫描一轮存活检查。
// 候选读取是批量的，投递按设备顺序进行，单设备失败不阻断其余设备。
func (m *Monitor) Sweep(ctx context.Context) (checked, triggered int, err error) {
	candidates, err := m.terrariums.ListHealthCheckCandidates(ctx)
	if err != nil {
		return 0, 0, err
	}
	if len(candidates) == 0 {
		return 0, 0, nil
	}

	ids := make([]string, len(candidates))
	for i, t := range candidates {
		ids[i] = t.ID
	}
	lastSeen, err := m.samples.LastSampleTimes(ctx, ids)
	if err != nil {
		return 0, 0, err
	}

	now := m.now()
	var errs error
	for _, terr := range candidates {
		hc := terr.HealthCheck
		if hc.LastTriggeredAt != nil {
			continue
		}
		last, ok := lastSeen[terr.ID]
		if !ok {
			// 从未上报过的设备不算掉线
			continue
		}
		down := now.Sub(last)
		if down < time.Duration(hc.DelayMinutes)*time.Minute {
			continue
		}

		payload := DowntimePayload{
			TerrariumID:      terr.ID,
			Event:            downtimeEvent,
			Name:             terr.Name,
			DownSince:        last,
			DowntimeMinutes:  int(down.Minutes()),
			ThresholdMinutes: hc.DelayMinutes,
			TriggeredAt:      now,
		}
		delivered, derr := m.dispatcher.Deliver(ctx, hc.URL, payload, webhook.SigningContext{
			TerrariumID: terr.ID,
			Secret:      m.signingSecret,
			SecretID:    hc.SecretID,
		})
		if derr != nil {
			errs = multierr.Append(errs, derr)
			continue
		}
		if !delivered {
			continue
		}

		if err := m.terrariums.SetHealthCheckTriggeredAt(ctx, terr.ID, now); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		triggered++
		m.logger.Info("downtime alert dispatched",
			zap.String("terrarium_id", terr.ID),
			zap.Time("down_since", last),
			zap.Int("downtime_minutes", int(down.Minutes())))
	}

	return len(candidates), triggered, errs
}
