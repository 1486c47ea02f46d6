// Package penalty computes deterministic late-submission deductions.
package penalty

import (
	"time"

	"github.com/pavelanni/classwork/internal/model"
)

// Tiered bands over whole minutes late. Lower bound inclusive, upper
// bound exclusive; the top tier is open-ended.
const (
	minorBandMinutes = 30  // 1-30 min late
	majorBandMinutes = 60  // 31-60 min late
	minorPoints      = 0.5 // fixed deduction for the minor band
	majorPoints      = 2.0 // fixed deduction for the major band
	overduePercent   = 50.0
)

// Compute maps a deadline and a submission time to a late penalty.
// Nil means no penalty: the submission was on time, or late by under a
// whole minute, which is deliberately forgiven so clock skew alone
// never costs points.
func Compute(deadline *time.Time, submittedAt time.Time) *model.LatePenalty {
	if deadline == nil || !submittedAt.After(*deadline) {
		return nil
	}

	minutesLate := int(submittedAt.Sub(*deadline).Minutes())
	if minutesLate == 0 {
		return nil
	}

	switch {
	case minutesLate <= minorBandMinutes:
		return &model.LatePenalty{MinutesLate: minutesLate, Kind: model.PenaltyFixed, Amount: minorPoints}
	case minutesLate <= majorBandMinutes:
		return &model.LatePenalty{MinutesLate: minutesLate, Kind: model.PenaltyFixed, Amount: majorPoints}
	default:
		return &model.LatePenalty{MinutesLate: minutesLate, Kind: model.PenaltyPercentage, Amount: overduePercent}
	}
}

// Apply deducts the penalty from a score: fixed penalties subtract
// points, percentage penalties scale the score down. The result is not
// clamped here; the aggregator clamps after every arithmetic step.
func Apply(score float64, p *model.LatePenalty) float64 {
	if p == nil {
		return score
	}
	switch p.Kind {
	case model.PenaltyPercentage:
		return score * (1 - p.Amount/100)
	default:
		return score - p.Amount
	}
}
