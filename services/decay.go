package services

// DecayRatePerSecond is how many vitality points each metric loses per second
// of elapsed wall-clock time, whether the loss comes from the live tick or
// from reconciling time the app spent offline.
const DecayRatePerSecond = 1.0

// ComputeDecay maps elapsed seconds to vitality loss. Pure and total; applied
// identically to happiness, energy and health.
func ComputeDecay(elapsedSeconds float64) float64 {
	if elapsedSeconds < 0 {
		return 0
	}
	return elapsedSeconds * DecayRatePerSecond
}
