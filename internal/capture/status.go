package capture

import "strings"

// Status is the lifecycle state of a capture.
type Status string

const (
	StatusPending           Status = "pending"
	StatusHashed            Status = "hashed"
	StatusStaged            Status = "staged"
	StatusExporting         Status = "exporting"
	StatusExported          Status = "exported"
	StatusDuplicateSkip     Status = "duplicate_skip"
	StatusError             Status = "error"
	StatusPermanentlyFailed Status = "permanently_failed"
	StatusQuarantined       Status = "quarantined"
)

var allStatuses = []Status{
	StatusPending,
	StatusHashed,
	StatusStaged,
	StatusExporting,
	StatusExported,
	StatusDuplicateSkip,
	StatusError,
	StatusPermanentlyFailed,
	StatusQuarantined,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var terminalStatuses = map[Status]struct{}{
	StatusExported:          {},
	StatusDuplicateSkip:     {},
	StatusPermanentlyFailed: {},
	StatusQuarantined:       {},
}

// transitions lists every declared edge. Anything else is rejected.
//
// exporting -> staged exists only for crash recovery of captures orphaned
// mid-export; the collision check makes the re-attempt safe.
var transitions = map[Status][]Status{
	StatusPending:   {StatusHashed, StatusStaged},
	StatusHashed:    {StatusStaged},
	StatusStaged:    {StatusExporting},
	StatusExporting: {StatusExported, StatusDuplicateSkip, StatusError, StatusPermanentlyFailed, StatusQuarantined, StatusStaged},
	StatusError:     {StatusStaged},
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether no further status change is allowed.
func (s Status) IsTerminal() bool {
	_, ok := terminalStatuses[s]
	return ok
}

// CanTransition reports whether from -> to is a declared edge.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextStatuses returns the statuses reachable from s in one step.
func NextStatuses(s Status) []Status {
	next := transitions[s]
	cp := make([]Status, len(next))
	copy(cp, next)
	return cp
}
