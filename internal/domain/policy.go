package domain

// FailurePolicy names how a class of failure is handled. It appears in log lines so an
// operator can tell a retried failure from a skipped or fatal one.
type FailurePolicy string

const (
	// PolicyRetryForever: token acquisition waits and repeats the identical request.
	PolicyRetryForever FailurePolicy = "retry-forever"

	// PolicyAbort: a pagination or precondition failure ends the run.
	PolicyAbort FailurePolicy = "abort"

	// PolicySkipItem: a failed product download is recorded and the batch moves on.
	PolicySkipItem FailurePolicy = "skip-item"
)
