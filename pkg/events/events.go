// Package events defines the domain event catalog and the in-process
// dispatcher. Events are used for audit visibility and for bridging onto
// external topics; they are never a substitute for the storage write path.
package events

import (
	"time"
)

// Kind identifies the kind of a domain event. The set is closed.
type Kind string

// Transaction lifecycle events.
const (
	TransactionCreated  Kind = "transaction.created"
	TransactionPosted   Kind = "transaction.posted"
	TransactionFailed   Kind = "transaction.failed"
	TransactionReversed Kind = "transaction.reversed"
)

// Account lifecycle events.
const (
	AccountCreated Kind = "account.created"
	AccountUpdated Kind = "account.updated"
	AccountClosed  Kind = "account.closed"
)

// Customer lifecycle events.
const (
	CustomerCreated    Kind = "customer.created"
	CustomerUpdated    Kind = "customer.updated"
	CustomerKYCChanged Kind = "customer.kyc_changed"
)

// Loan lifecycle events.
const (
	LoanOriginated Kind = "loan.originated"
	LoanDisbursed  Kind = "loan.disbursed"
	LoanPayment    Kind = "loan.payment"
	LoanPaidOff    Kind = "loan.paid_off"
	LoanDefaulted  Kind = "loan.defaulted"
)

// Credit product events.
const (
	CreditStatement Kind = "credit.statement"
	CreditPayment   Kind = "credit.payment"
)

// Collection case events.
const (
	CollectionCaseCreated   Kind = "collection.case_created"
	CollectionCaseEscalated Kind = "collection.case_escalated"
	CollectionCaseResolved  Kind = "collection.case_resolved"
)

// Compliance events.
const (
	ComplianceAlert      Kind = "compliance.alert"
	ComplianceSuspicious Kind = "compliance.suspicious"
)

// Workflow events.
const (
	WorkflowStepCompleted Kind = "workflow.step_completed"
	WorkflowCompleted     Kind = "workflow.completed"
	WorkflowRejected      Kind = "workflow.rejected"
)

// Event is the in-process domain event payload.
type Event struct {
	// ID uniquely identifies this event occurrence.
	ID string

	// Kind is the domain event kind.
	Kind Kind

	// EntityType names the entity the event concerns ("transaction",
	// "account", "customer", ...).
	EntityType string

	// EntityID is the id of that entity.
	EntityID string

	// Data carries structured event data. Money amounts are always
	// string-encoded decimals, never floats.
	Data map[string]any

	// Timestamp is when the event was published (UTC).
	Timestamp time.Time
}
