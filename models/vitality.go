package models

// VitalityState holds the three pet wellbeing metrics plus the timestamp of
// the last persisted update. Metrics stay within [0,100]; elapsed time since
// LastUpdateMillis is reconciled into decay on every load.
type VitalityState struct {
	Happiness        float64 `json:"happiness"`
	Energy           float64 `json:"energy"`
	Health           float64 `json:"health"`
	LastUpdateMillis int64   `json:"lastUpdateMillis"`
}

// FullVitality returns a fresh (100,100,100) state stamped at the given
// epoch-millis instant. Used on adoption.
func FullVitality(nowMillis int64) VitalityState {
	return VitalityState{Happiness: 100, Energy: 100, Health: 100, LastUpdateMillis: nowMillis}
}

// Active reports whether the pet is still alive — any metric at 0 makes the
// pet inactive until re-adoption.
func (v VitalityState) Active() bool {
	return v.Happiness > 0 && v.Energy > 0 && v.Health > 0
}

func clampMetric(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 100 {
		return 100
	}
	return x
}

// ApplyDecay subtracts the given decay amount from every metric, floored
// at 0.
func (v VitalityState) ApplyDecay(amount float64) VitalityState {
	v.Happiness = clampMetric(v.Happiness - amount)
	v.Energy = clampMetric(v.Energy - amount)
	v.Health = clampMetric(v.Health - amount)
	return v
}

// Feed deltas, capped at 100 per metric.
const (
	FeedHappinessDelta = 5
	FeedEnergyDelta    = 3
	FeedHealthDelta    = 2
)

// ApplyFeed adds the fixed feed deltas, capped at 100.
func (v VitalityState) ApplyFeed() VitalityState {
	v.Happiness = clampMetric(v.Happiness + FeedHappinessDelta)
	v.Energy = clampMetric(v.Energy + FeedEnergyDelta)
	v.Health = clampMetric(v.Health + FeedHealthDelta)
	return v
}
