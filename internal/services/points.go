package services

import (
	"math"
	"strings"
)

const (
	defaultCategoryBase     = 10
	defaultConditionPercent = 50
	pointsMultiplier        = 3
)

var categoryBasePoints = map[string]int{
	"coats":       20,
	"jackets":     15,
	"dresses":     15,
	"footwear":    10,
	"tops":        8,
	"bottoms":     8,
	"accessories": 5,
	"activewear":  8,
	"formal":      18,
	"sleepwear":   5,
}

var conditionPercent = map[string]int{
	"like new":  100,
	"excellent": 85,
	"very good": 70,
	"good":      55,
	"fair":      40,
}

// EstimatePoints suggests a point cost for an item from its category and
// condition. Unknown values use the defaults.
func EstimatePoints(category, condition string) int {
	base, ok := categoryBasePoints[normalizeLabel(category)]
	if !ok {
		base = defaultCategoryBase
	}
	percent, ok := conditionPercent[normalizeLabel(condition)]
	if !ok {
		percent = defaultConditionPercent
	}
	return int(math.Round(float64(base) * float64(percent) / 100 * pointsMultiplier))
}

func normalizeLabel(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
