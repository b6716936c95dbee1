package ledger

import (
	"nexum/pkg/money"
)

// System bookkeeping account ids. These close double-entry postings whose
// real counterparty lies outside the core. The ids are an internal fixed
// configuration table, kept stable for ledger continuity; they are not a
// public contract with external ledgers.
const (
	SystemExternalDeposits    = "EXT_DEP_001"
	SystemExternalWithdrawals = "EXT_WDR_001"
	SystemExternalPayments    = "EXT_PAY_001"
	SystemFeeIncome           = "FEE_INC_001"
	SystemInterestExpense     = "INT_EXP_001"
	SystemInterestIncome      = "INT_INC_001"
)

// systemAccountDefs is the seed table for system accounts.
var systemAccountDefs = []struct {
	id    string
	name  string
	class Class
}{
	{SystemExternalDeposits, "External Deposits Clearing", ClassLiability},
	{SystemExternalWithdrawals, "External Withdrawals Clearing", ClassAsset},
	{SystemExternalPayments, "External Payments Clearing", ClassAsset},
	{SystemFeeIncome, "Fee Income", ClassIncome},
	{SystemInterestExpense, "Interest Expense", ClassExpense},
	{SystemInterestIncome, "Interest Income", ClassIncome},
}

// systemAccount builds the seed record for one system account.
// System accounts are currency-neutral counterparties; they are created
// in the base currency but accept postings in any entry currency.
func systemAccount(id, name string, class Class, base money.Currency) Account {
	return Account{
		ID:       id,
		Name:     name,
		Product:  ProductSystem,
		Class:    class,
		Currency: base,
		Status:   AccountActive,
		System:   true,
	}
}
