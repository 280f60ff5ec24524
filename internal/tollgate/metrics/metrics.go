// Package metrics exposes OpenTelemetry counters for credential outcomes.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"errors"
	"fmt"

	"github.com/aussiebroadwan/tollgate/internal/tollgate/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/aussiebroadwan/tollgate"

var ErrNilMeter = errors.New("nil meter")

type Metrics struct {
	issued         metric.Int64Counter
	verified       metric.Int64Counter
	rejected       metric.Int64Counter
	evicted        metric.Int64Counter
	swept          metric.Int64Counter
	deliveryFailed metric.Int64Counter
}

// NewGlobal builds the counters on the globally registered meter provider.
func NewGlobal() (*Metrics, error) {
	return New(otel.GetMeterProvider().Meter(meterName))
}

func New(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}

	m := &Metrics{}
	defs := []struct {
		dst  *metric.Int64Counter
		name string
		help string
	}{
		{&m.issued, "tollgate_credentials_issued_total", "Credentials created, by purpose."},
		{&m.verified, "tollgate_credentials_verified_total", "Successful verifications, by purpose."},
		{&m.rejected, "tollgate_credentials_rejected_total", "Rejected verifications, by purpose and reason."},
		{&m.evicted, "tollgate_refresh_evicted_total", "Refresh tokens revoked by the per-owner cap."},
		{&m.swept, "tollgate_credentials_swept_total", "Records deleted by retention sweeps."},
		{&m.deliveryFailed, "tollgate_delivery_failed_total", "Messages that could not be delivered, by reason."},
	}
	for _, def := range defs {
		c, err := meter.Int64Counter(def.name, metric.WithDescription(def.help))
		if err != nil {
			return nil, fmt.Errorf("create counter %s: %w", def.name, err)
		}
		*def.dst = c
	}
	return m, nil
}

func (m *Metrics) Issued(ctx context.Context, purpose domain.Purpose) {
	if m == nil {
		return
	}
	m.issued.Add(ctx, 1, metric.WithAttributes(attribute.String("purpose", string(purpose))))
}

func (m *Metrics) Verified(ctx context.Context, purpose domain.Purpose) {
	if m == nil {
		return
	}
	m.verified.Add(ctx, 1, metric.WithAttributes(attribute.String("purpose", string(purpose))))
}

// Rejected records a failed verification. reason is the error string of the
// domain sentinel, e.g. "too_many_attempts".
func (m *Metrics) Rejected(ctx context.Context, purpose domain.Purpose, reason string) {
	if m == nil {
		return
	}
	m.rejected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("purpose", string(purpose)),
		attribute.String("reason", reason),
	))
}

func (m *Metrics) Evicted(ctx context.Context, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.evicted.Add(ctx, n)
}

func (m *Metrics) Swept(ctx context.Context, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.swept.Add(ctx, n)
}

func (m *Metrics) DeliveryFailed(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.deliveryFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
