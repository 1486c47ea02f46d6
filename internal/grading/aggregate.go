package grading

import (
	"github.com/pavelanni/classwork/internal/model"
	"github.com/pavelanni/classwork/internal/penalty"
)

// AggregatePolicy selects how the grader's reported total and the
// per-question sum combine into one raw score.
type AggregatePolicy string

const (
	// PolicyMaxOfTotals takes the larger of the reported total and the
	// per-question sum. Either source may under-report when part of
	// the grading text is lost, so the attempt gets the benefit of the
	// doubt. Preserved from observed behavior; isolated here so the
	// rule can change without touching the parser.
	PolicyMaxOfTotals AggregatePolicy = "max_of_totals"
	// PolicySumOnly trusts only the arithmetic sum of per-question
	// scores, ignoring the grader's stated total.
	PolicySumOnly AggregatePolicy = "sum_only"
)

// Aggregator combines parsed scores and the late penalty into the
// final score, clamped to [0, MaxScore] after every arithmetic step.
type Aggregator struct {
	Policy AggregatePolicy
}

// Final computes the final score from a parse result and an optional
// late penalty.
func (a Aggregator) Final(parsed Result, p *model.LatePenalty) float64 {
	var sum float64
	for _, ga := range parsed.PerQuestion {
		sum += ga.Score
	}

	raw := sum
	if a.Policy != PolicySumOnly && parsed.ReportedTotal != nil && *parsed.ReportedTotal > sum {
		raw = *parsed.ReportedTotal
	}
	raw = clamp(raw)

	return clamp(penalty.Apply(raw, p))
}

func clamp(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > model.MaxScore {
		return model.MaxScore
	}
	return score
}
