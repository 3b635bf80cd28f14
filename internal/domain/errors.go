package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("validation error")
	ErrInvalidStatus     = fmt.Errorf("%w: invalid status", ErrValidation)
	ErrPolicyDenied      = fmt.Errorf("%w: issuance policy denied", ErrValidation)
	ErrUnauthorized      = errors.New("unauthorized")
	ErrForbidden         = errors.New("forbidden")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrAlreadyInProgress = errors.New("issuance already in progress")
	ErrTerminalState     = errors.New("request is in a terminal state")
	ErrInvalidTransition = errors.New("invalid transition")
)

// Pipeline failure kinds surfaced to callers.
var (
	ErrProcessingFailed = errors.New("processing failed")
	ErrStoreFailed      = errors.New("content store failed")
	ErrLedgerRejected   = errors.New("ledger rejected")
	ErrLedgerTimeout    = errors.New("ledger confirmation timed out")
)

// Collaborator errors.
var (
	ErrUnsupportedFormat = errors.New("unsupported document format")
	ErrMalformedDocument = errors.New("malformed document")
	ErrPayloadTooLarge   = errors.New("verification payload too large")
	ErrStoreUnavailable  = errors.New("content store unavailable")
	ErrQuotaExceeded     = errors.New("content store quota exceeded")
	ErrLedgerUnavailable = errors.New("ledger unavailable")
)

// QuotaExceeded and LedgerUnavailable are recorded under their own names so
// callers can tell a full store from a flaky one, and a node outage before
// broadcast from an on-chain rejection.
var kindNames = map[error]string{
	ErrProcessingFailed:  "ProcessingFailed",
	ErrStoreFailed:       "StoreFailed",
	ErrQuotaExceeded:     "QuotaExceeded",
	ErrLedgerUnavailable: "LedgerUnavailable",
	ErrLedgerRejected:    "LedgerRejected",
	ErrLedgerTimeout:     "LedgerTimeout",
}

// IssuanceError reports a failed pipeline step. errors.Is matches both
// the failure kind and the underlying cause.
type IssuanceError struct {
	Kind error
	Step IssuanceStep
	Err  error
}

func (e *IssuanceError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%s at %s", e.Kind, e.Step)
	}
	return fmt.Sprintf("%s at %s: %v", e.Kind, e.Step, e.Err)
}

func (e *IssuanceError) Unwrap() []error {
	if e == nil {
		return nil
	}
	out := []error{e.Kind}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// KindName is the persisted name of the failure kind.
func (e *IssuanceError) KindName() string {
	if e == nil {
		return ""
	}
	return KindName(e.Kind)
}

func KindName(kind error) string {
	return kindNames[kind]
}

func KindFromName(name string) error {
	for kind, n := range kindNames {
		if n == name {
			return kind
		}
	}
	return nil
}

func AsIssuanceError(err error) (*IssuanceError, bool) {
	var issuanceErr *IssuanceError
	if errors.As(err, &issuanceErr) {
		return issuanceErr, true
	}
	return nil, false
}
