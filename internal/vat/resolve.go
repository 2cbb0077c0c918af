package vat

// ResolveOutcome is the result of clearing a single errored request.
type ResolveOutcome string

const (
	// ResolveNotFound means no errored request with the given id exists.
	ResolveNotFound ResolveOutcome = "error_not_found"
	// ResolveErrorResolved means one error was cleared but others remain for the identity.
	ResolveErrorResolved ResolveOutcome = "error_resolved"
	// ResolveAllResolved means the last error was cleared and monitoring was already active.
	ResolveAllResolved ResolveOutcome = "all_errors_resolved"
	// ResolveAllResolvedAndResumed means the last error was cleared and monitoring was restored.
	ResolveAllResolvedAndResumed ResolveOutcome = "all_errors_resolved_and_resumed"
)

// Found reports whether the resolution touched an existing error.
func (o ResolveOutcome) Found() bool {
	return o != "" && o != ResolveNotFound
}

// ResolveResult carries the outcome and the request the error belonged to.
type ResolveResult struct {
	Outcome ResolveOutcome
	Request *PendingRequest
}
