package observe

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baxromumarov/scoped/v2"
)

func TestMetricsCountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "test")

	boom := errors.New("boom")
	err := scoped.Run(context.Background(), func(sp scoped.Spawner) {
		sp.Go("ok-1", func(ctx context.Context) error { return nil })
		sp.Go("ok-2", func(ctx context.Context) error { return nil })
		sp.Go("bad", func(ctx context.Context) error { return boom })
	}, scoped.WithPolicy(scoped.Collect), m.Option())
	require.ErrorIs(t, err, boom)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.started))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.active))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.finished.WithLabelValues("done")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.finished.WithLabelValues("errored")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.violations))

	n, err := testutil.GatherAndCount(reg, "test_task_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "one histogram series per outcome")
}

func TestMetricsCountsViolations(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "test")

	err := scoped.Run(context.Background(), func(sp scoped.Spawner) {
		sp.Go("leaky", func(ctx context.Context) error {
			// Never waited for: ends with the task.
			scoped.New(ctx)
			return nil
		})
	}, m.Option())
	require.ErrorIs(t, err, scoped.ErrStructureViolation)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.violations))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.finished.WithLabelValues("errored")))
}

func TestNewMetricsDuplicatePanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg, "dup")
	assert.Panics(t, func() { NewMetrics(reg, "dup") })
}
