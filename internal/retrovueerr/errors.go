// Package retrovueerr is the control plane's error taxonomy: sentinel
// errors, a tagged CodedError wrapper, and Is* predicates, mirroring the
// shape of the service framework's ServiceError/ConfigError family.
package retrovueerr

import (
	"errors"
	"fmt"
)

// Code tags a CodedError with the taxonomy kind from the specification's
// error handling design, plus the specific invariant tags used by
// ExecutionWindowStore.
type Code string

const (
	CodePlanValidation        Code = "plan_validation_error"
	CodeDerivationViolation   Code = "derivation_violation"
	CodeHorizonExtension      Code = "horizon_extension_failure"
	CodeAssetIneligible       Code = "asset_ineligible"
	CodeBoundaryTransition    Code = "boundary_transition_violation"
	CodeStartupInfeasibility  Code = "startup_infeasibility"
	CodeSpoolFull             Code = "spool_full"
	CodeClockAuthority        Code = "clock_authority_violation"
	CodeEvidenceSequenceGap   Code = "evidence_sequence_gap"
	CodeInvDerivedFromTransLog Code = "INV-EXECUTIONENTRY-DERIVED-FROM-TRANSMISSIONLOG-001-VIOLATED"
	CodeInvNoGaps              Code = "INV-EXECUTIONENTRY-NO-GAPS-001-VIOLATED"
	CodeInvSingleAuthority      Code = "INV-EXECUTIONENTRY-SINGLE-AUTHORITY-AT-TIME-001-VIOLATED"
)

// Standard sentinel errors, matched via errors.Is through CodedError.Unwrap.
var (
	ErrPlanValidation       = errors.New("plan validation error")
	ErrDerivationViolation  = errors.New("execution entry derivation violation")
	ErrHorizonExtension     = errors.New("horizon extension failure")
	ErrAssetIneligible      = errors.New("asset ineligible")
	ErrBoundaryTransition   = errors.New("boundary transition violation")
	ErrStartupInfeasibility = errors.New("startup infeasibility")
	ErrSpoolFull            = errors.New("evidence spool full")
	ErrClockAuthority       = errors.New("clock authority violation")
	ErrEvidenceSequenceGap  = errors.New("evidence sequence gap")
	ErrNoGaps               = errors.New("execution entry contiguity violation")
	ErrSingleAuthority      = errors.New("execution entry overlap violation")
)

var sentinelByCode = map[Code]error{
	CodePlanValidation:         ErrPlanValidation,
	CodeDerivationViolation:    ErrDerivationViolation,
	CodeHorizonExtension:       ErrHorizonExtension,
	CodeAssetIneligible:        ErrAssetIneligible,
	CodeBoundaryTransition:     ErrBoundaryTransition,
	CodeStartupInfeasibility:   ErrStartupInfeasibility,
	CodeSpoolFull:              ErrSpoolFull,
	CodeClockAuthority:         ErrClockAuthority,
	CodeEvidenceSequenceGap:    ErrEvidenceSequenceGap,
	CodeInvDerivedFromTransLog: ErrDerivationViolation,
	CodeInvNoGaps:              ErrNoGaps,
	CodeInvSingleAuthority:     ErrSingleAuthority,
}

// CodedError wraps an error with a taxonomy code and structured detail.
type CodedError struct {
	Code    Code
	Op      string
	Message string

	// OffendingIDs and OffendingInterval carry plan_validation_error
	// structured detail: {code, message, offending_ids, offending_interval}.
	OffendingIDs      []string
	OffendingInterval string

	Err error
}

func (e *CodedError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap lets errors.Is match against the taxonomy sentinel for this code,
// or against a wrapped underlying error if one was attached.
func (e *CodedError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return sentinelByCode[e.Code]
}

// New constructs a CodedError.
func New(code Code, op, message string) *CodedError {
	return &CodedError{Code: code, Op: op, Message: message}
}

// Wrap constructs a CodedError around an underlying error.
func Wrap(code Code, op string, err error) *CodedError {
	if err == nil {
		return nil
	}
	return &CodedError{Code: code, Op: op, Message: err.Error(), Err: err}
}

// WithOffending attaches structured plan_validation_error detail.
func (e *CodedError) WithOffending(ids []string, interval string) *CodedError {
	e.OffendingIDs = ids
	e.OffendingInterval = interval
	return e
}

// Is* helpers mirror the framework's IsServiceNotReady/IsTimeout family.

func IsPlanValidation(err error) bool     { return errors.Is(err, ErrPlanValidation) }
func IsDerivationViolation(err error) bool { return errors.Is(err, ErrDerivationViolation) }
func IsAssetIneligible(err error) bool     { return errors.Is(err, ErrAssetIneligible) }
func IsBoundaryTransition(err error) bool  { return errors.Is(err, ErrBoundaryTransition) }
func IsClockAuthority(err error) bool      { return errors.Is(err, ErrClockAuthority) }
func IsSpoolFull(err error) bool           { return errors.Is(err, ErrSpoolFull) }

// CodeOf extracts the Code from err if it (or something it wraps) is a
// *CodedError.
func CodeOf(err error) (Code, bool) {
	var ce *CodedError
	if errors.As(err, &ce) {
		return ce.Code, true
	}
	return "", false
}
