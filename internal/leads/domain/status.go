// Package domain provides core business rules for the leads bounded context.
package domain

// Lead offer statuses. An offer moves forward through the funnel and never
// backward; delivered, disqualified, and expired are terminal.
const (
	StatusNew            = "new"
	StatusContacted      = "contacted"
	StatusInConversation = "in_conversation"
	StatusQualified      = "qualified"
	StatusReady          = "ready"
	StatusDelivered      = "delivered"
	StatusDisqualified   = "disqualified"
	StatusExpired        = "expired"
)

// Funnel stages aggregate statuses for reporting.
const (
	StageCaptured  = "captured"
	StageEngaging  = "engaging"
	StageQualified = "qualified"
	StageDelivered = "delivered"
	StageLost      = "lost"
)

var terminalStatuses = map[string]bool{
	StatusDelivered:    true,
	StatusDisqualified: true,
	StatusExpired:      true,
}

// allowedTransitions is the forward-only funnel graph. Qualification can
// arrive at any pre-qualified status because Chatwoot attribute updates and
// message events race.
var allowedTransitions = map[string]map[string]bool{
	StatusNew: {
		StatusContacted:      true,
		StatusInConversation: true,
		StatusQualified:      true,
		StatusReady:          true,
		StatusDisqualified:   true,
		StatusExpired:        true,
	},
	StatusContacted: {
		StatusInConversation: true,
		StatusQualified:      true,
		StatusReady:          true,
		StatusDisqualified:   true,
		StatusExpired:        true,
	},
	StatusInConversation: {
		StatusQualified:    true,
		StatusReady:        true,
		StatusDisqualified: true,
		StatusExpired:      true,
	},
	StatusQualified: {
		StatusReady:        true,
		StatusDisqualified: true,
		StatusExpired:      true,
	},
	StatusReady: {
		StatusDelivered:    true,
		StatusDisqualified: true,
	},
}

// IsKnownStatus reports whether status is a recognized lead offer status.
func IsKnownStatus(status string) bool {
	if terminalStatuses[status] {
		return true
	}
	_, ok := allowedTransitions[status]
	return ok
}

// IsTerminal reports whether an offer in this status must not change again.
func IsTerminal(status string) bool {
	return terminalStatuses[status]
}

// CanTransition reports whether the funnel permits moving from one status to
// another. Terminal statuses permit nothing; a status never transitions to
// itself.
func CanTransition(from, to string) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// Stage maps a status onto its funnel stage for reporting. Unknown statuses
// map to the empty string.
func Stage(status string) string {
	switch status {
	case StatusNew:
		return StageCaptured
	case StatusContacted, StatusInConversation:
		return StageEngaging
	case StatusQualified, StatusReady:
		return StageQualified
	case StatusDelivered:
		return StageDelivered
	case StatusDisqualified, StatusExpired:
		return StageLost
	default:
		return ""
	}
}

// ExpirableStatuses are the statuses the stale sweep may move to expired.
// Ready offers are excluded: once ready, the delivery pipeline owns the
// offer's fate.
func ExpirableStatuses() []string {
	return []string{StatusNew, StatusContacted, StatusInConversation, StatusQualified}
}
