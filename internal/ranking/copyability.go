package ranking

import "copytrade-engine/internal/domain"

// CopyabilityScore blends the components into a 0..100 score shown to users,
// then applies the risk adjustment and the archetype bonus.
func CopyabilityScore(c Components, arch *domain.Archetype, bonus map[string]float64) float64 {
	score := 35*c.Volume + 25*c.Consistency + 25*c.Pnl + 15*c.Recency

	if arch != nil {
		score += riskAdjustment(arch.RiskLevel)
		score += bonus[arch.Archetype]
	}
	return clamp(score, 0, 100)
}

func riskAdjustment(level domain.RiskLevel) float64 {
	switch level {
	case domain.RiskMedium:
		return 15
	case domain.RiskLow:
		return 5
	case domain.RiskHigh:
		return -10
	}
	return 0
}
