package generator_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridlens/ami-telemetry-worker/internal/db"
	"github.com/gridlens/ami-telemetry-worker/internal/generator"
)

const nominalVoltage = 120.0

func TestReading_DeterministicIsReproducible(t *testing.T) {
	gen := generator.NewGenerator(generator.DeterministicNoise{}, nominalVoltage)
	ts := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	first := gen.Reading("T1", "M1", "F1", ts)
	second := gen.Reading("T1", "M1", "F1", ts)

	require.Equal(t, first, second)
	assert.Equal(t, generator.BaselineKWH(ts), first.KWH)
	assert.Equal(t, nominalVoltage, first.Voltage)
	assert.Equal(t, db.QualityNormal, first.Quality)
	assert.True(t, first.IntervalTS.Equal(ts))
}

func TestBaselineKWH_FollowsDailyCurve(t *testing.T) {
	overnight := generator.BaselineKWH(time.Date(2026, 3, 14, 3, 0, 0, 0, time.UTC))
	morning := generator.BaselineKWH(time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC))
	midday := generator.BaselineKWH(time.Date(2026, 3, 14, 13, 0, 0, 0, time.UTC))
	evening := generator.BaselineKWH(time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC))

	assert.Less(t, overnight, morning)
	assert.Less(t, morning, midday)
	assert.Less(t, midday, evening)
}

func TestReading_StochasticStaysWithinNoiseBand(t *testing.T) {
	gen := generator.NewGenerator(generator.NewStochasticNoise(42), nominalVoltage)
	ts := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	base := generator.BaselineKWH(ts)

	for i := 0; i < 1000; i++ {
		r := gen.Reading("T1", "M1", "F1", ts)

		assert.GreaterOrEqual(t, r.KWH, base*0.85)
		assert.LessOrEqual(t, r.KWH, base*1.15)
		assert.GreaterOrEqual(t, r.Voltage, nominalVoltage*0.98)
		assert.LessOrEqual(t, r.Voltage, nominalVoltage*1.02)
	}
}

func TestStochasticNoise_SameSeedSameSequence(t *testing.T) {
	a := generator.NewStochasticNoise(7)
	b := generator.NewStochasticNoise(7)

	for i := 0; i < 50; i++ {
		require.Equal(t, a.Factor(0.15), b.Factor(0.15))
	}
}
