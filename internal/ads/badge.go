package ads

// CTRBadge returns the percentile badge for a click-through rate, or "" when
// the ad does not qualify.
func CTRBadge(ctr float64) string {
	switch {
	case ctr >= 0.05:
		return "Top 1% CTR"
	case ctr >= 0.04:
		return "Top 3% CTR"
	case ctr >= 0.03:
		return "Top 5% CTR"
	case ctr >= 0.02:
		return "Top 10% CTR"
	default:
		return ""
	}
}
