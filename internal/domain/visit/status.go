package visit

// DeriveStatus recomputes a visit's status after any flag change.
//
// All three flags set means completed. A completed visit that loses a flag
// falls back to pending_all. Anything else keeps its prior status: the
// narrowed pending_* states chosen at item selection persist until the visit
// completes, and dashboards read the flags for what is still outstanding.
func DeriveStatus(lab, pharmacy, doctor bool, prior Status) Status {
	if lab && pharmacy && doctor {
		return StatusCompleted
	}
	if prior == StatusCompleted {
		return StatusPendingAll
	}
	return prior
}

// SelectionStatus is the initial status of a doctor-directed visit once the
// doctor has chosen which lab tests and drugs it needs.
func SelectionStatus(hasLab, hasDrugs bool) Status {
	switch {
	case hasLab && hasDrugs:
		return StatusPendingAll
	case hasLab:
		return StatusPendingLab
	case hasDrugs:
		return StatusPendingPharmacy
	default:
		return StatusPendingDoctor
	}
}

// completionKindFor is the kind recorded alongside a derived status.
func completionKindFor(s Status) CompletionKind {
	if s == StatusCompleted {
		return CompletionDerived
	}
	return CompletionNone
}
