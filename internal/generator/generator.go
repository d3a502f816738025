package generator

import (
	"time"

	"github.com/gridlens/ami-telemetry-worker/internal/db"
)

// Noise spreads applied to generated values.
const (
	kwhNoiseSpread     = 0.15
	voltageNoiseSpread = 0.02
)

// baselineKWH is the per-interval consumption baseline for each quarter of
// the day: overnight, morning, midday, evening.
var baselineKWH = [4]float64{0.6, 1.1, 1.6, 1.9}

func dayBucket(hour int) int {
	switch {
	case hour < 6:
		return 0
	case hour < 12:
		return 1
	case hour < 18:
		return 2
	default:
		return 3
	}
}

// BaselineKWH returns the hour-of-day baseline consumption for one interval.
func BaselineKWH(t time.Time) float64 {
	return baselineKWH[dayBucket(t.UTC().Hour())]
}

// Generator produces synthetic meter readings for an aligned interval.
type Generator struct {
	noise          NoiseSource
	nominalVoltage float64
}

// NewGenerator creates a generator using the given noise strategy.
func NewGenerator(noise NoiseSource, nominalVoltage float64) *Generator {
	return &Generator{noise: noise, nominalVoltage: nominalVoltage}
}

// Reading produces one sample for (meter, interval). With a deterministic
// noise source the output is a pure function of the inputs.
func (g *Generator) Reading(tenantID, meterID, feederID string, alignedTS time.Time) db.MeterReading {
	return db.MeterReading{
		TenantID:   tenantID,
		MeterID:    meterID,
		FeederID:   feederID,
		KWH:        BaselineKWH(alignedTS) * g.noise.Factor(kwhNoiseSpread),
		Voltage:    g.nominalVoltage * g.noise.Factor(voltageNoiseSpread),
		IntervalTS: alignedTS,
		Quality:    db.QualityNormal,
	}
}
