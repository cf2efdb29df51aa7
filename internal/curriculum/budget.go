package curriculum

import "math"

// BudgetCurve maps a difficulty target to a per-trial resource budget.
// Every curve must be monotonically non-decreasing in the target and
// bounded within [min, max].
type BudgetCurve func(target int) int

// PowerCurve scales the budget from min at the initial target to max at
// the ceiling with diminishing increases (exponent 0.85), so early levels
// get proportionally more budget per new step than later levels.
func PowerCurve(initialTarget, maxTarget, minBudget, maxBudget int) BudgetCurve {
	return func(target int) int {
		if target <= initialTarget {
			return minBudget
		}
		if target > maxTarget {
			target = maxTarget
		}
		ratio := float64(target-initialTarget) / float64(maxTarget-initialTarget)
		b := minBudget + int(float64(maxBudget-minBudget)*math.Pow(ratio, 0.85))
		return clamp(b, minBudget, maxBudget)
	}
}

// LinearCurve scales the budget proportionally with the target.
func LinearCurve(initialTarget, maxTarget, minBudget, maxBudget int) BudgetCurve {
	return func(target int) int {
		if target <= initialTarget {
			return minBudget
		}
		if target > maxTarget {
			target = maxTarget
		}
		ratio := float64(target-initialTarget) / float64(maxTarget-initialTarget)
		b := minBudget + int(float64(maxBudget-minBudget)*ratio)
		return clamp(b, minBudget, maxBudget)
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
