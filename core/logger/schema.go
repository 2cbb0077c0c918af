package logger

import "strings"

// knownOutcome lists the values kept for the "outcome" field; anything else is dropped.
var knownOutcome = set(
	"ok", "fail", "cancelled", "rate_limited",

	// check cycle
	"valid", "invalid", "expired", "recoverable_error", "demoted",

	// admission
	"monitoring", "limit_reached", "invalid_input", "service_unavailable", "deferred", "check_failed",

	// error resolution
	"error_not_found", "error_resolved", "all_errors_resolved", "all_errors_resolved_and_resumed",

	// identity correction
	"updated", "noop", "not_found",
)

func set(values ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(values))
	for _, v := range values {
		m[v] = struct{}{}
	}
	return m
}

func normalizeStatus(status string) string {
	return strings.ToLower(strings.TrimSpace(status))
}

func normalizeOutcome(outcome string) (string, bool) {
	outcome = strings.ToLower(strings.TrimSpace(outcome))
	_, ok := knownOutcome[outcome]
	return outcome, ok
}
