package processor

import (
	"time"

	"nexum/pkg/money"
)

// Type is the transaction type. The set is closed.
type Type string

// Transaction types.
const (
	Deposit          Type = "DEPOSIT"
	Withdrawal       Type = "WITHDRAWAL"
	TransferInternal Type = "TRANSFER_INTERNAL"
	Payment          Type = "PAYMENT"
	Fee              Type = "FEE"
	InterestCredit   Type = "INTEREST_CREDIT"
	InterestDebit    Type = "INTEREST_DEBIT"
	Reversal         Type = "REVERSAL"
)

// State is the transaction lifecycle state.
type State string

// States. COMPLETED may transition to REVERSED exactly once; every
// other terminal state is final.
const (
	Pending    State = "PENDING"
	Processing State = "PROCESSING"
	Completed  State = "COMPLETED"
	Failed     State = "FAILED"
	Reversed   State = "REVERSED"
)

// Channel identifies where the transaction originated. SYSTEM channel
// transactions skip compliance and fraud screening.
type Channel string

// Channels.
const (
	ChannelBranch Channel = "BRANCH"
	ChannelATM    Channel = "ATM"
	ChannelOnline Channel = "ONLINE"
	ChannelMobile Channel = "MOBILE"
	ChannelSystem Channel = "SYSTEM"
)

// Transaction is the persisted transaction record. Its state is owned
// by the processor; nothing else mutates it.
type Transaction struct {
	ID   string `msgpack:"id"`
	Type Type   `msgpack:"type"`

	// At least one of From/To is set; which ones depends on the type.
	FromAccountID string `msgpack:"from_account_id,omitempty"`
	ToAccountID   string `msgpack:"to_account_id,omitempty"`

	Amount      money.Money    `msgpack:"amount"`
	Currency    money.Currency `msgpack:"currency"`
	Description string         `msgpack:"description,omitempty"`
	Reference   string         `msgpack:"reference,omitempty"`

	// IdempotencyKey is unique across all transactions.
	IdempotencyKey string `msgpack:"idempotency_key"`

	Channel Channel `msgpack:"channel"`
	State   State   `msgpack:"state"`

	// JournalEntryID links the posted entry once COMPLETED.
	JournalEntryID string `msgpack:"journal_entry_id,omitempty"`

	// ReversalTransactionID is set on the original once reversed.
	ReversalTransactionID string `msgpack:"reversal_transaction_id,omitempty"`

	// OriginalTransactionID is set on REVERSAL transactions.
	OriginalTransactionID string `msgpack:"original_transaction_id,omitempty"`

	ProcessedAt  *time.Time `msgpack:"processed_at,omitempty"`
	ErrorMessage string     `msgpack:"error_message,omitempty"`

	ComplianceChecked bool     `msgpack:"compliance_checked"`
	ComplianceAction  string   `msgpack:"compliance_action,omitempty"`
	ComplianceNotes   []string `msgpack:"compliance_notes,omitempty"`

	// FraudMetadata carries the scorer's output: fraud_score,
	// fraud_decision, fraud_risk_level, fraud_reasons, fraud_latency_ms,
	// needs_review.
	FraudMetadata map[string]string `msgpack:"fraud_metadata,omitempty"`

	// Metadata is caller-supplied.
	Metadata map[string]string `msgpack:"metadata,omitempty"`

	CreatedAt time.Time `msgpack:"created_at"`
	UpdatedAt time.Time `msgpack:"updated_at"`
}

// requiresFrom reports whether the type debits a caller account.
func (t Type) requiresFrom() bool {
	switch t {
	case Withdrawal, TransferInternal, Payment, Fee, InterestDebit:
		return true
	}
	return false
}

// requiresTo reports whether the type credits a caller account.
func (t Type) requiresTo() bool {
	switch t {
	case Deposit, TransferInternal, InterestCredit:
		return true
	}
	return false
}

// reversible reports whether the type supports reversal. Restricting
// reversals to money-movement types is intended policy, not a gap.
func (t Type) reversible() bool {
	switch t {
	case Deposit, Withdrawal, TransferInternal, Payment:
		return true
	}
	return false
}

// CreateRequest carries the fields for a new transaction.
type CreateRequest struct {
	Type        Type
	Amount      money.Money
	Description string
	Channel     Channel

	FromAccountID string
	ToAccountID   string
	Reference     string

	// IdempotencyKey is optional; when absent the processor derives one
	// deterministically from the payload.
	IdempotencyKey string

	Metadata map[string]string
}
