package reconcile

import (
	"errors"
	"fmt"
)

// ErrReject is matched by every *RejectError.
var ErrReject = errors.New("reconcile: mutation rejected")

// Reason classifies a rejection.
type Reason string

// Rejection reasons.
const (
	ReasonExists        Reason = "exists"
	ReasonMissing       Reason = "missing"
	ReasonModelMismatch Reason = "model_mismatch"
	ReasonGap           Reason = "gap"
	ReasonReplay        Reason = "replay"
	ReasonInvalid       Reason = "invalid"
)

// RejectError describes why a mutation could not be applied.
type RejectError struct {
	Reason Reason
	ID     string
	Detail string
}

func (e *RejectError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("reconcile: %s rejected (%s)", e.ID, e.Reason)
	}
	return fmt.Sprintf("reconcile: %s rejected (%s): %s", e.ID, e.Reason, e.Detail)
}

// Unwrap lets errors.Is(err, ErrReject) match.
func (e *RejectError) Unwrap() error {
	return ErrReject
}

func reject(reason Reason, id, format string, args ...any) *RejectError {
	return &RejectError{Reason: reason, ID: id, Detail: fmt.Sprintf(format, args...)}
}
