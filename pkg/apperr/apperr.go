// Package apperr defines the error taxonomy used across the core.
//
// Errors carry a Kind so callers can distinguish a caller fault
// (Validation), an absent entity (NotFound), a lifecycle violation (State),
// and the gate verdicts (ComplianceBlock, FraudBlock) without string
// matching. Wrapping preserves the cause for errors.Is / errors.As.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error.
type Kind uint8

// Error kinds. The set is closed; handlers switch exhaustively.
const (
	// Unknown is the zero Kind, used for errors from outside the taxonomy.
	Unknown Kind = iota

	// Validation: caller-supplied data violates a stated precondition.
	Validation

	// NotFound: the addressed entity does not exist.
	NotFound

	// State: the operation is incompatible with the entity's current state.
	State

	// Policy: password policy, role deletion with assignees, amount limit,
	// or permission denied.
	Policy

	// Auth: invalid credentials, inactive or locked account, expired session.
	Auth

	// ComplianceBlock: the compliance gate returned BLOCK.
	ComplianceBlock

	// FraudBlock: the fraud scorer returned BLOCK.
	FraudBlock

	// Ledger: unbalanced entry, double post, missing ledger account.
	Ledger

	// Storage: the storage backend is unavailable.
	Storage

	// External: an external collaborator (fraud service, broker) failed.
	// Normally handled by fallback policy rather than surfaced.
	External
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case NotFound:
		return "not_found"
	case State:
		return "state"
	case Policy:
		return "policy"
	case Auth:
		return "auth"
	case ComplianceBlock:
		return "compliance_block"
	case FraudBlock:
		return "fraud_block"
	case Ledger:
		return "ledger"
	case Storage:
		return "storage"
	case External:
		return "external"
	default:
		return "unknown"
	}
}

// Error is a kinded error with an operation tag and optional cause.
type Error struct {
	Kind Kind
	Op   string // e.g. "processor.Process"
	Msg  string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Msg != "":
		if e.Op == "" {
			return e.Msg
		}
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return e.Op
	}
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Message returns the bare message without operation prefix. This is the
// text persisted on a FAILED transaction record.
func (e *Error) Message() string {
	if e.Msg != "" {
		return e.Msg
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Op
}

// E creates a new kinded error.
func E(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Ef creates a new kinded error with a formatted message.
func Ef(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap wraps a cause with a kind and operation tag.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// WrapMsg wraps a cause with a kind, operation tag, and message.
func WrapMsg(kind Kind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

// KindOf returns the Kind of err, walking the wrap chain.
// Returns Unknown for errors outside the taxonomy.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// IsKind reports whether err (or any wrapped cause) has the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// MessageOf returns the bare message of a kinded error, or err.Error()
// for errors outside the taxonomy.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message()
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
