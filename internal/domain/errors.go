package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrLockHeld         = errors.New("lock already held")
	ErrInvalidInput     = errors.New("invalid input")
	ErrDeployerUnfunded = errors.New("deployer account is not funded")
	ErrExpiryInPast     = errors.New("expiry date is not in the future")
	ErrEpochNotCreated  = errors.New("epoch has not been created")
	ErrRejected         = errors.New("rejected by ledger")
	ErrPermissionDenied = errors.New("permission denied")
)

// ReasonRejectedByContract is the LedgerError reason of a transaction the
// application logic refused, typically a failed assert.
const ReasonRejectedByContract = "rejected by contract"

// LedgerError is returned by the network adapter when the node accepts the
// request but refuses the transaction. Op names the call that was refused.
type LedgerError struct {
	Op     string
	Reason string
	Err    error
}

func (e *LedgerError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Reason, e.Err)
}

func (e *LedgerError) Unwrap() error { return e.Err }

// Is reports every LedgerError as ErrRejected so callers do not need to know
// the concrete wrapped cause.
func (e *LedgerError) Is(target error) bool {
	return target == ErrRejected
}

// IsContractRejection reports whether err carries a LedgerError refused by
// application logic.
func IsContractRejection(err error) bool {
	var le *LedgerError
	return errors.As(err, &le) && le.Reason == ReasonRejectedByContract
}
