package ledger

import (
	"time"

	"nexum/pkg/money"
)

// Class determines an account's normal side. Assets and expenses are
// debit-normal; liabilities, equity, and income are credit-normal.
type Class string

// Account classes.
const (
	ClassAsset     Class = "ASSET"
	ClassLiability Class = "LIABILITY"
	ClassEquity    Class = "EQUITY"
	ClassIncome    Class = "INCOME"
	ClassExpense   Class = "EXPENSE"
)

// DebitNormal reports whether debits increase the balance of this class.
func (c Class) DebitNormal() bool {
	return c == ClassAsset || c == ClassExpense
}

// AccountStatus is the lifecycle state of a ledger account.
type AccountStatus string

// Account statuses. A frozen account can still receive credits but
// cannot be debited.
const (
	AccountActive AccountStatus = "ACTIVE"
	AccountFrozen AccountStatus = "FROZEN"
	AccountClosed AccountStatus = "CLOSED"
)

// Product identifies the banking product behind a customer account.
type Product string

// Products. System bookkeeping accounts carry ProductSystem.
const (
	ProductChecking Product = "checking"
	ProductSavings  Product = "savings"
	ProductLoan     Product = "loan"
	ProductSystem   Product = "system"
)

// Account is a ledger account. Balances are always derived from posted
// journal lines, never stored as truth of record.
//
// Customer deposit accounts are debit-normal in this ledger: the book
// balance reads as the customer position, so a deposit (Dr account)
// increases it.
type Account struct {
	ID         string         `msgpack:"id"`
	CustomerID string         `msgpack:"customer_id"`
	Name       string         `msgpack:"name"`
	Product    Product        `msgpack:"product"`
	Class      Class          `msgpack:"class"`
	Currency   money.Currency `msgpack:"currency"` // immutable after creation
	Status     AccountStatus  `msgpack:"status"`
	System     bool           `msgpack:"system"`

	// Hold is the amount currently held against the account; available
	// balance is book balance minus this. Nil means no hold.
	Hold *money.Money `msgpack:"hold,omitempty"`

	// CreditLimit caps the outstanding balance of a loan account.
	// Nil for non-loan accounts.
	CreditLimit *money.Money `msgpack:"credit_limit,omitempty"`

	CreatedAt time.Time `msgpack:"created_at"`
}

// CanDebit reports whether funds may leave this account.
func (a *Account) CanDebit() bool {
	return a.Status == AccountActive
}

// CanCredit reports whether funds may enter this account.
func (a *Account) CanCredit() bool {
	return a.Status == AccountActive || a.Status == AccountFrozen
}

// JournalEntryLine is a single debit or credit against one account.
// Exactly one of Debit/Credit is non-zero; both carry the entry currency.
type JournalEntryLine struct {
	EntryID     string      `msgpack:"entry_id"`
	Seq         int         `msgpack:"seq"`
	AccountID   string      `msgpack:"account_id"`
	Description string      `msgpack:"description"`
	Debit       money.Money `msgpack:"debit"`
	Credit      money.Money `msgpack:"credit"`
}

// JournalEntry is an atomic, currency-balanced set of lines. Once posted
// an entry is immutable and visible to balance queries.
type JournalEntry struct {
	ID          string     `msgpack:"id"`
	Reference   string     `msgpack:"reference"`
	Description string     `msgpack:"description"`
	CreatedAt   time.Time  `msgpack:"created_at"`
	PostedAt    *time.Time `msgpack:"posted_at,omitempty"`
	LineCount   int        `msgpack:"line_count"`

	// Lines are persisted as individual rows; this slice is populated on
	// load for callers' convenience.
	Lines []JournalEntryLine `msgpack:"-"`
}

// Posted reports whether the entry has been posted.
func (e *JournalEntry) Posted() bool {
	return e.PostedAt != nil
}

// DebitLine builds a debit line for the given account and amount.
func DebitLine(accountID, description string, amount money.Money) JournalEntryLine {
	return JournalEntryLine{
		AccountID:   accountID,
		Description: description,
		Debit:       amount,
		Credit:      money.Zero(amount.Currency),
	}
}

// CreditLine builds a credit line for the given account and amount.
func CreditLine(accountID, description string, amount money.Money) JournalEntryLine {
	return JournalEntryLine{
		AccountID:   accountID,
		Description: description,
		Debit:       money.Zero(amount.Currency),
		Credit:      amount,
	}
}
