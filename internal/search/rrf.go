// Package search provides keyword search over threads.
package search

import "sort"

// Ranked pairs a thread ID with a fused search score.
type Ranked struct {
	ID    string
	Score float64
}

// RRF fuses ranked lists using Reciprocal Rank Fusion (k=60). Each input
// list must be sorted best first. The first list receives double weight;
// ranks 0-2 receive a small top-rank bonus so exact title hits stay ahead of
// diffuse summary matches. Duplicate IDs accumulate score.
func RRF(lists ...[]string) []Ranked {
	scores := make(map[string]float64)
	var order []string

	for listIdx, list := range lists {
		weight := 1.0
		if listIdx == 0 {
			weight = 2.0
		}
		for rank, id := range list {
			bonus := 0.0
			if rank == 0 {
				bonus = 0.05
			} else if rank <= 2 {
				bonus = 0.02
			}
			if _, seen := scores[id]; !seen {
				order = append(order, id)
			}
			scores[id] += weight/(60.0+float64(rank)+1) + bonus
		}
	}

	result := make([]Ranked, 0, len(scores))
	for _, id := range order {
		result = append(result, Ranked{ID: id, Score: scores[id]})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Score > result[j].Score
	})
	return result
}
