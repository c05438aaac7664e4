package triage

import "github.com/divvychat/divvychat/pkg/models"

// Route maps classifier output to a capability tier. Rules are evaluated in
// fixed priority order; the first match wins.
//
// Under representative traffic this lands roughly 70/25/5 across
// low/mid/high. That distribution is a property to watch in metrics, not a
// guarantee for any single request.
func Route(s Signals, priorMidConfusion bool) models.Tier {
	// Cheap tier for anything trivially answerable.
	if s.Score <= 3 || s.IsGreeting || s.IsSimpleConfirmation || s.IsBasicCalculation {
		return models.TierLow
	}

	// Full capability for genuinely hard requests, domain escalations, and
	// conversations where the mid tier already reported confusion.
	if s.Score >= 8 || s.IsHighlyComplex || s.IsDomainEscalation || priorMidConfusion {
		return models.TierHigh
	}

	return models.TierMid
}
