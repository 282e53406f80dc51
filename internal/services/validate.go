package services

import "regexp"

// Generated test cases are expected to tag each case with a category marker,
// e.g. "TC-03 [negative] rejects an expired token".
var testCaseMarker = regexp.MustCompile(`(?i)\[(positive|negative|edge(?:[ -]?case)?)\]`)

// TestCaseStats counts generated test cases by category.
type TestCaseStats struct {
	Total    int
	Positive int
	Negative int
	Edge     int
}

// CountTestCases scans generated output for category markers.
func CountTestCases(content string) TestCaseStats {
	var stats TestCaseStats
	for _, m := range testCaseMarker.FindAllStringSubmatch(content, -1) {
		stats.Total++
		switch m[1][0] {
		case 'p', 'P':
			stats.Positive++
		case 'n', 'N':
			stats.Negative++
		default:
			stats.Edge++
		}
	}
	return stats
}

// ValidationRules are the minimum-count and category-distribution
// requirements for generated test suites.
type ValidationRules struct {
	MinCases         int
	MinPositiveRatio float64
	MinNegativeRatio float64
	MinEdgeRatio     float64
}

// DefaultValidationRules returns the standard distribution: at least 8 cases,
// >=30% positive, >=20% negative, >=20% edge.
func DefaultValidationRules() ValidationRules {
	return ValidationRules{
		MinCases:         8,
		MinPositiveRatio: 0.30,
		MinNegativeRatio: 0.20,
		MinEdgeRatio:     0.20,
	}
}

// Evaluate scores the stats against the rules. passed means every rule was
// satisfied; score in [0,1] ranks partial attempts so the best one can be
// returned even when none fully validates.
func (r ValidationRules) Evaluate(stats TestCaseStats) (passed bool, score float64) {
	if stats.Total == 0 {
		return false, 0
	}
	total := float64(stats.Total)
	score += 0.4 * ratioScore(total/float64(r.MinCases))
	score += 0.2 * ratioScore(float64(stats.Positive)/total/r.MinPositiveRatio)
	score += 0.2 * ratioScore(float64(stats.Negative)/total/r.MinNegativeRatio)
	score += 0.2 * ratioScore(float64(stats.Edge)/total/r.MinEdgeRatio)

	passed = stats.Total >= r.MinCases &&
		float64(stats.Positive)/total >= r.MinPositiveRatio &&
		float64(stats.Negative)/total >= r.MinNegativeRatio &&
		float64(stats.Edge)/total >= r.MinEdgeRatio
	return passed, score
}

func ratioScore(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}
