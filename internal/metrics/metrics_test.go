package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterTwiceOnSameRegistryFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	err := Register(reg)
	assert.Error(t, err, "registering the same collectors twice on one registry must fail")
}

func TestObservePhaseSetsOnlyCurrentPhaseToOne(t *testing.T) {
	ObservePhase("draining")

	m := &dto.Metric{}
	require.NoError(t, PhaseGauge.WithLabelValues("draining").Write(m))
	assert.Equal(t, float64(1), m.GetGauge().GetValue())

	require.NoError(t, PhaseGauge.WithLabelValues("running").Write(m))
	assert.Equal(t, float64(0), m.GetGauge().GetValue())
}
