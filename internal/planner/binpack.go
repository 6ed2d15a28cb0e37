package planner

import "sort"

// firstFitDecreasing packs items (by descending weight) into n bins,
// always choosing the bin with the current minimum total weight
// (spec.md §9: "first-fit-decreasing by weight is sufficient"). It
// returns, for each item index in the input order, the bin index it was
// assigned to.
func firstFitDecreasing(weights []int, n int) []int {
	type item struct {
		idx    int
		weight int
	}
	items := make([]item, len(weights))
	for i, w := range weights {
		items[i] = item{idx: i, weight: w}
	}
	sort.SliceStable(items, func(a, b int) bool {
		return items[a].weight > items[b].weight
	})

	binTotals := make([]int, n)
	assignment := make([]int, len(weights))
	for _, it := range items {
		best := 0
		for b := 1; b < n; b++ {
			if binTotals[b] < binTotals[best] {
				best = b
			}
		}
		assignment[it.idx] = best
		binTotals[best] += it.weight
	}
	return assignment
}
