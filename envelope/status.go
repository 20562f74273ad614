package envelope

// Status is the provider-independent envelope state.
type Status string

const (
	StatusSent            Status = "SENT"
	StatusViewed          Status = "VIEWED"
	StatusPartiallySigned Status = "PARTIALLY_SIGNED"
	StatusCompleted       Status = "COMPLETED"
	StatusDeclined        Status = "DECLINED"
	StatusVoided          Status = "VOIDED"
	StatusError           Status = "ERROR"
)

// statusRank orders statuses by progress. All terminal states share the top
// rank so a late terminal report can still land after partial progress.
var statusRank = map[Status]int{
	StatusSent:            1,
	StatusViewed:          2,
	StatusPartiallySigned: 3,
	StatusCompleted:       4,
	StatusDeclined:        4,
	StatusVoided:          4,
	StatusError:           4,
}

// Rank returns the numeric progress rank; unknown statuses rank 0 and can
// never overwrite a stored state.
func (s Status) Rank() int { return statusRank[s] }

// Terminal reports whether no further automatic transition is expected.
func (s Status) Terminal() bool { return s.Rank() == 4 }

// Valid reports whether the value belongs to the canonical status set.
func (s Status) Valid() bool { return s.Rank() > 0 }

// ApplyTransition decides whether a reported status replaces the stored one.
// Webhook deliveries arrive out of order and duplicated, so the rule is
// monotonic: a new status lands only if its rank is at least the current
// rank. A different terminal may overwrite a stored terminal (the provider
// correcting itself) with one exception: COMPLETED, once recorded, is final
// and cannot be downgraded by any later report.
func ApplyTransition(current, next Status) (Status, bool) {
	if !next.Valid() || next == current {
		return current, false
	}
	if current == StatusCompleted {
		return current, false
	}
	if next.Rank() >= current.Rank() {
		return next, true
	}
	return current, false
}
