package scrobbler

// Outcome classifies the result of a single submission attempt against the
// remote service. Every attempt resolves to exactly one outcome, and each
// outcome has a distinct propagation strategy: retry locally, escalate to
// the auth layer, or give up quietly.
type Outcome int

const (
	// OutcomeSuccess means the service accepted the scrobble. The record is
	// removed and the daily counter incremented.
	OutcomeSuccess Outcome = iota

	// OutcomeTemporary means a transport failure or a known-retryable
	// service error. The record is rescheduled with linear backoff.
	OutcomeTemporary

	// OutcomeInvalidSession means the session key is invalid or expired.
	// Processing halts and the auth-invalidation callback fires once.
	OutcomeInvalidSession

	// OutcomeOther means a permanent service rejection unrelated to session
	// validity. The record is kept unchanged and never retried more
	// aggressively.
	OutcomeOther
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeTemporary:
		return "temporary-error"
	case OutcomeInvalidSession:
		return "invalid-session"
	case OutcomeOther:
		return "other-error"
	default:
		return "unknown"
	}
}
