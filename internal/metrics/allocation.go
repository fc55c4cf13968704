package metrics

// Allocation outcome labels
const (
	ResultSelected   = "selected"
	ResultNoEligible = "no_eligible"
	ResultInvalid    = "invalid_config"
	ResultReserved   = "reserved"
	ResultConflict   = "conflict"
)

// AccountSelected records a selection outcome for a platform.
func AccountSelected(platform, result string) {
	AllocationsTotal.WithLabelValues(platform, result).Inc()
}

// SlotsReserved records the outcome of one atomic reservation attempt.
func SlotsReserved(ok bool) {
	if ok {
		SlotReservationsTotal.WithLabelValues(ResultReserved).Inc()
		return
	}
	SlotReservationsTotal.WithLabelValues(ResultConflict).Inc()
}

// SlotsReleased records slots returned to the pool.
func SlotsReleased(n int) {
	if n > 0 {
		SlotsReleasedTotal.Add(float64(n))
	}
}

// SubscriptionTransitioned records a status change.
func SubscriptionTransitioned(to string) {
	SubscriptionTransitionsTotal.WithLabelValues(to).Inc()
}

// Renewed records how a renewal found (or failed to find) capacity.
func Renewed(result string) {
	RenewalsTotal.WithLabelValues(result).Inc()
}
