package scan

// StageLimits are the software position limits (SOFTWARE_POS_LIMIT in
// spec.md §4.7) that any generated FOV coordinate must fall within; any
// coordinate outside is silently dropped rather than erroring, matching
// the spec's "Rejection" clause.
type StageLimits struct {
	XNegMm, XPosMm float64
	YNegMm, YPosMm float64
}

// DefaultStageLimits is a permissive default for callers that have not
// configured hardware-specific limits yet.
func DefaultStageLimits() StageLimits {
	return StageLimits{XNegMm: -100, XPosMm: 100, YNegMm: -100, YPosMm: 100}
}

// Contains reports whether (x, y) falls within the limits, inclusive.
func (l StageLimits) Contains(xMm, yMm float64) bool {
	return xMm >= l.XNegMm && xMm <= l.XPosMm && yMm >= l.YNegMm && yMm <= l.YPosMm
}
