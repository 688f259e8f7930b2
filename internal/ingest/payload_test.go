package ingest_test

import (
	"math"
	"testing"
	"time"

	"github.com/BenoitPrmt/terrarium-monitor/internal/domain"
	"github.com/BenoitPrmt/terrarium-monitor/internal/ingest"

	"github.com/stretchr/testify/require"
)

func validPayload() *ingest.Payload {
	return &ingest.Payload{
		DeviceID: "probe-1",
		Samples: []ingest.RawSample{
			{T: 1_700_000_000, Type: "TEMPERATURE", Value: 21.5, Unit: "C"},
			{T: 1_700_000_060, Type: "HUMIDITY", Value: 55, Unit: "%"},
		},
	}
}

func TestValidatePayload_OK(t *testing.T) {
	require.NoError(t, ingest.ValidatePayload(validPayload()))
}

func TestValidatePayload_BatchSize(t *testing.T) {
	p := &ingest.Payload{}
	require.ErrorIs(t, ingest.ValidatePayload(p), ingest.ErrInvalidPayload)

	p = validPayload()
	p.Samples = make([]ingest.RawSample, 201)
	for i := range p.Samples {
		p.Samples[i] = ingest.RawSample{T: 1, Type: "TEMPERATURE", Value: 1, Unit: "C"}
	}
	require.ErrorIs(t, ingest.ValidatePayload(p), ingest.ErrInvalidPayload)
}

// Unit match invariant: one mismatched unit voids the whole batch.
func TestValidatePayload_UnitMismatchRejectsBatch(t *testing.T) {
	p := validPayload()
	p.Samples[1].Unit = "C" // humidity must be "%"

	require.ErrorIs(t, ingest.ValidatePayload(p), ingest.ErrInvalidPayload)
}

func TestValidatePayload_UnknownMetric(t *testing.T) {
	p := validPayload()
	p.Samples[0].Type = "LUMINOSITY"

	require.ErrorIs(t, ingest.ValidatePayload(p), ingest.ErrInvalidPayload)
}

func TestValidatePayload_NonFiniteValue(t *testing.T) {
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		p := validPayload()
		p.Samples[0].Value = v
		require.ErrorIs(t, ingest.ValidatePayload(p), ingest.ErrInvalidPayload)
	}
}

func TestValidatePayload_DeviceIDTooLong(t *testing.T) {
	p := validPayload()
	p.DeviceID = string(make([]byte, 65))

	require.ErrorIs(t, ingest.ValidatePayload(p), ingest.ErrInvalidPayload)
}

func TestSanitizeBatch_HumidityClamp(t *testing.T) {
	now := time.Unix(1_700_000_500, 0).UTC()
	cases := map[float64]float64{
		-3:    0,
		0:     0,
		55.5:  55.5,
		100:   100,
		150.2: 100,
	}
	for in, want := range cases {
		p := &ingest.Payload{Samples: []ingest.RawSample{
			{T: now.Unix(), Type: "HUMIDITY", Value: in, Unit: "%"},
		}}
		samples, err := ingest.SanitizeBatch("terra-1", p, now)
		require.NoError(t, err)
		require.Equal(t, want, samples[0].Value)
	}
}

func TestSanitizeBatch_OtherMetricsUnclamped(t *testing.T) {
	now := time.Unix(1_700_000_500, 0).UTC()
	p := &ingest.Payload{Samples: []ingest.RawSample{
		{T: now.Unix(), Type: "TEMPERATURE", Value: -80.5, Unit: "C"},
		{T: now.Unix(), Type: "ALTITUDE", Value: 8848, Unit: "m"},
	}}

	samples, err := ingest.SanitizeBatch("terra-1", p, now)
	require.NoError(t, err)
	require.Equal(t, -80.5, samples[0].Value)
	require.Equal(t, float64(8848), samples[1].Value)
}

func TestSanitizeBatch_TimestampClampWindow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	farFuture := now.Add(48 * time.Hour).Unix()
	farPast := now.Add(-48 * time.Hour).Unix()
	inWindow := now.Add(-time.Hour).Unix()

	p := &ingest.Payload{Samples: []ingest.RawSample{
		{T: farFuture, Type: "TEMPERATURE", Value: 1, Unit: "C"},
		{T: farPast, Type: "TEMPERATURE", Value: 2, Unit: "C"},
		{T: inWindow, Type: "TEMPERATURE", Value: 3, Unit: "C"},
	}}

	samples, err := ingest.SanitizeBatch("terra-1", p, now)
	require.NoError(t, err)
	require.Equal(t, now.Add(24*time.Hour), samples[0].Ts)
	require.Equal(t, now.Add(-24*time.Hour), samples[1].Ts)
	require.Equal(t, now.Add(-time.Hour), samples[2].Ts)
}

func TestSanitizeBatch_SentAtDefaultsToNow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()

	p := validPayload()
	p.SentAt = 0
	samples, err := ingest.SanitizeBatch("terra-1", p, now)
	require.NoError(t, err)
	require.Equal(t, now, samples[0].SentAt)

	p = validPayload()
	p.SentAt = 1_699_999_000
	samples, err = ingest.SanitizeBatch("terra-1", p, now)
	require.NoError(t, err)
	require.Equal(t, time.Unix(1_699_999_000, 0).UTC(), samples[0].SentAt)
}

func TestSanitizeBatch_CarriesIdentity(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	p := validPayload()

	samples, err := ingest.SanitizeBatch("terra-9", p, now)
	require.NoError(t, err)
	for _, s := range samples {
		require.Equal(t, "terra-9", s.TerrariumID)
		require.Equal(t, "probe-1", s.DeviceID)
	}
	require.Equal(t, domain.MetricTemperature, samples[0].Type)
	require.Equal(t, domain.MetricHumidity, samples[1].Type)
}
