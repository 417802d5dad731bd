package ledger

// transitions is the directed graph of legal status moves. Expired keeps one
// administrative edge: the owner may still void a lapsed record, without
// payout. No target is reachable twice for the same record.
var transitions = map[Status][]Status{
	StatusActive:  {StatusVoided, StatusRedeemed, StatusExpired, StatusCancelled},
	StatusExpired: {StatusVoided},
}

// ValidTransition reports whether from -> to is a legal status move.
func ValidTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a record in the given status has no way out.
func Terminal(s Status) bool {
	return len(transitions[s]) == 0
}

// Unpaid reports whether a record in the given status may still hold
// custodied value. Settlement (redeem, cancel, check-in) zeroes value in the
// same update that leaves the active state; void and expiry keep it, since
// neither pays out. The sum of value over all records must reconcile with the
// custody account balance at all times.
func Unpaid(s Status) bool {
	return s != StatusRedeemed && s != StatusCancelled
}
