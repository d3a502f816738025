package generator

import (
	"github.com/gridlens/ami-telemetry-worker/internal/db"
)

// sagBandSpan is the width in volts of the degraded band a voltage sag can
// push a reading into, below the low-voltage threshold.
const sagBandSpan = 10.0

// EffectEngine applies active disruption events to generated readings before
// they leave the emulator.
type EffectEngine struct {
	noise      NoiseSource
	lowVoltage float64
}

// NewEffectEngine creates an effect engine. lowVoltage is the threshold the
// sag band sits below; it must match the anomaly detector's low threshold so
// sagged feeders are re-detected on ingest.
func NewEffectEngine(noise NoiseSource, lowVoltage float64) *EffectEngine {
	return &EffectEngine{noise: noise, lowVoltage: lowVoltage}
}

// Apply runs every active event over the reading in event-creation order.
// The returned bool is false when the reading was dropped (comms outage) and
// must not reach the batch.
func (e *EffectEngine) Apply(r db.MeterReading, events []db.DisruptionEvent) (db.MeterReading, bool) {
	for i := range events {
		ev := &events[i]
		switch ev.Type {
		case db.EventTheft:
			r.KWH *= 1.0 - ev.Severity
		case db.EventCommsOutage:
			// Severity is advisory; an active outage silences the meter.
			return r, false
		case db.EventVoltageSag:
			top := e.lowVoltage
			bottom := top - ev.Severity*sagBandSpan
			v := e.noise.Within(bottom, top)
			if r.Voltage > v {
				r.Voltage = v
			}
		}
	}
	return r, true
}
