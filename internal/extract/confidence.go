package extract

// PatternClass identifies a regex pattern family. Confidence is a fixed
// constant per class: a regex match is binary, so the score encodes how
// trustworthy the pattern class is in general, not per-instance certainty.
type PatternClass int

const (
	PatternEmail PatternClass = iota
	PatternPhone
	PatternExplicitDate
	PatternCurrency
	PatternBankName
	PatternAddress
	PatternLabeledName
	PatternAccountNumber
)

// patternConfidence maps each pattern class to its trust score. Kept as an
// explicit table so the scores are independently testable and tunable.
var patternConfidence = map[PatternClass]int{
	PatternEmail:         95,
	PatternPhone:         90,
	PatternExplicitDate:  95,
	PatternCurrency:      85,
	PatternBankName:      90,
	PatternAddress:       70,
	PatternLabeledName:   85,
	PatternAccountNumber: 80,
}

// Confidence returns the fixed trust score for the pattern class.
func (p PatternClass) Confidence() int {
	return patternConfidence[p]
}

// Review thresholds. These drive the needs-review flag and the UI tiers and
// must stay in sync with client expectations.
const (
	// ReviewThreshold: results with overall confidence below this always
	// need human review.
	ReviewThreshold = 85

	// FieldThreshold: any required field below this forces review
	// regardless of the overall score.
	FieldThreshold = 60
)
