// Package ledger records balanced double-entry journal entries and derives
// account balances from posted lines. Entries are immutable once posted;
// the ledger imposes a total order on posted entries by post time.
package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"nexum/internal/storage"
	"nexum/pkg/apperr"
	"nexum/pkg/clock"
	"nexum/pkg/money"
)

// Service is the ledger engine.
type Service struct {
	store  storage.Storage
	clock  clock.Clock
	logger *zap.Logger
}

// NewService creates a ledger Service.
func NewService(store storage.Storage, clk clock.Clock, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, clock: clk, logger: logger}
}

// WithStorage returns a Service bound to a different storage view,
// typically the transactional view inside an Atomic region.
func (s *Service) WithStorage(store storage.Storage) *Service {
	return &Service{store: store, clock: s.clock, logger: s.logger}
}

// SeedSystemAccounts creates the fixed system bookkeeping accounts if
// they do not exist yet. Idempotent; call at startup.
func (s *Service) SeedSystemAccounts(ctx context.Context, base money.Currency) error {
	for _, def := range systemAccountDefs {
		ok, err := s.store.Exists(ctx, storage.TableAccounts, def.id)
		if err != nil {
			return err
		}
		if ok {
			continue
		}
		acct := systemAccount(def.id, def.name, def.class, base)
		acct.CreatedAt = s.clock.Now()
		if err := s.store.Save(ctx, storage.TableAccounts, acct.ID, acct); err != nil {
			return err
		}
	}
	return nil
}

// RegisterAccount adds an account to the chart.
func (s *Service) RegisterAccount(ctx context.Context, acct Account) error {
	const op = "ledger.RegisterAccount"
	if acct.ID == "" {
		return apperr.E(apperr.Validation, op, "account id is required")
	}
	if _, err := money.ParseCurrency(string(acct.Currency)); err != nil {
		return apperr.WrapMsg(apperr.Validation, op, "invalid currency", err)
	}
	ok, err := s.store.Exists(ctx, storage.TableAccounts, acct.ID)
	if err != nil {
		return err
	}
	if ok {
		return apperr.Ef(apperr.State, op, "account %s already exists", acct.ID)
	}
	if acct.CreatedAt.IsZero() {
		acct.CreatedAt = s.clock.Now()
	}
	return s.store.Save(ctx, storage.TableAccounts, acct.ID, acct)
}

// GetAccount loads an account from the chart.
func (s *Service) GetAccount(ctx context.Context, id string) (*Account, error) {
	var acct Account
	if err := s.store.Load(ctx, storage.TableAccounts, id, &acct); err != nil {
		return nil, err
	}
	return &acct, nil
}

// UpdateAccount persists account mutations (status, holds).
// Currency is immutable after creation.
func (s *Service) UpdateAccount(ctx context.Context, acct Account) error {
	const op = "ledger.UpdateAccount"
	existing, err := s.GetAccount(ctx, acct.ID)
	if err != nil {
		return err
	}
	if existing.Currency != acct.Currency {
		return apperr.E(apperr.Validation, op, "account currency is immutable")
	}
	return s.store.Save(ctx, storage.TableAccounts, acct.ID, acct)
}

// CreateJournalEntry validates and persists an unposted entry.
//
// Fails with a Ledger error on: fewer than two lines, a line with both or
// neither side set, negative amounts, currency mismatch within the entry,
// a missing account, an unbalanced entry, or a zero total.
func (s *Service) CreateJournalEntry(ctx context.Context, reference, description string, lines []JournalEntryLine) (*JournalEntry, error) {
	const op = "ledger.CreateJournalEntry"

	if len(lines) < 2 {
		return nil, apperr.E(apperr.Ledger, op, "journal entry requires at least two lines")
	}

	currency := lines[0].currency()
	totalDebit := money.Zero(currency)
	totalCredit := money.Zero(currency)

	for i, line := range lines {
		if err := line.validate(); err != nil {
			return nil, apperr.WrapMsg(apperr.Ledger, op, fmt.Sprintf("line %d", i), err)
		}
		if line.currency() != currency {
			return nil, apperr.Ef(apperr.Ledger, op,
				"currency mismatch within entry: %s vs %s", line.currency(), currency)
		}
		if _, err := s.GetAccount(ctx, line.AccountID); err != nil {
			if apperr.IsKind(err, apperr.NotFound) {
				return nil, apperr.Ef(apperr.Ledger, op, "account %s not found", line.AccountID)
			}
			return nil, err
		}
		var err error
		if totalDebit, err = totalDebit.Add(line.Debit); err != nil {
			return nil, apperr.Wrap(apperr.Ledger, op, err)
		}
		if totalCredit, err = totalCredit.Add(line.Credit); err != nil {
			return nil, apperr.Wrap(apperr.Ledger, op, err)
		}
	}

	if !totalDebit.Equal(totalCredit) {
		return nil, apperr.Ef(apperr.Ledger, op,
			"unbalanced entry: debits %s, credits %s", totalDebit, totalCredit)
	}
	if totalDebit.IsZero() {
		return nil, apperr.E(apperr.Ledger, op, "entry total amount is zero")
	}

	entry := &JournalEntry{
		ID:          uuid.NewString(),
		Reference:   reference,
		Description: description,
		CreatedAt:   s.clock.Now(),
		LineCount:   len(lines),
	}
	for i := range lines {
		lines[i].EntryID = entry.ID
		lines[i].Seq = i
	}

	if err := s.store.Save(ctx, storage.TableJournalEntries, entry.ID, entry); err != nil {
		return nil, err
	}
	for _, line := range lines {
		if err := s.store.Save(ctx, storage.TableJournalEntryLines, lineKey(line), line); err != nil {
			return nil, err
		}
	}
	entry.Lines = lines
	return entry, nil
}

// PostJournalEntry marks an entry posted, making it immutable and visible
// to balance queries. Re-posting an already-posted entry fails.
func (s *Service) PostJournalEntry(ctx context.Context, id string) (*JournalEntry, error) {
	const op = "ledger.PostJournalEntry"

	var entry JournalEntry
	if err := s.store.Load(ctx, storage.TableJournalEntries, id, &entry); err != nil {
		if apperr.IsKind(err, apperr.NotFound) {
			return nil, apperr.Ef(apperr.Ledger, op, "journal entry %s not found", id)
		}
		return nil, err
	}
	if entry.Posted() {
		return nil, apperr.Ef(apperr.Ledger, op, "journal entry %s is already posted", id)
	}

	now := s.clock.Now()
	entry.PostedAt = &now
	if err := s.store.Save(ctx, storage.TableJournalEntries, entry.ID, entry); err != nil {
		return nil, err
	}

	lines, err := s.entryLines(ctx, entry.ID)
	if err != nil {
		return nil, err
	}
	entry.Lines = lines

	s.logger.Debug("journal entry posted",
		zap.String("entry_id", entry.ID),
		zap.String("reference", entry.Reference),
		zap.Int("lines", entry.LineCount))
	return &entry, nil
}

// GetJournalEntry loads an entry with its lines.
func (s *Service) GetJournalEntry(ctx context.Context, id string) (*JournalEntry, error) {
	var entry JournalEntry
	if err := s.store.Load(ctx, storage.TableJournalEntries, id, &entry); err != nil {
		return nil, err
	}
	lines, err := s.entryLines(ctx, id)
	if err != nil {
		return nil, err
	}
	entry.Lines = lines
	return &entry, nil
}

// BookBalance computes the signed sum of posted lines referencing the
// account, with the sign convention of the account's normal side. The
// balance is denominated in the account's currency: lines posted in any
// other currency are excluded from the sum. System accounts accept such
// lines (they are currency-neutral on the credit side) but their book
// balance likewise reads only the lines matching their own currency.
func (s *Service) BookBalance(ctx context.Context, accountID string) (money.Money, error) {
	acct, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return money.Money{}, err
	}

	posted, err := s.postedEntryIDs(ctx)
	if err != nil {
		return money.Money{}, err
	}

	balance := money.Zero(acct.Currency)
	lines, err := s.accountLines(ctx, accountID)
	if err != nil {
		return money.Money{}, err
	}
	for _, line := range lines {
		if !posted[line.EntryID] {
			continue
		}
		if line.currency() != acct.Currency {
			continue
		}
		signed := line.Debit.Amount.Sub(line.Credit.Amount)
		if !acct.Class.DebitNormal() {
			signed = signed.Neg()
		}
		balance.Amount = balance.Amount.Add(signed)
	}
	return balance, nil
}

// AvailableBalance is the book balance minus holds.
func (s *Service) AvailableBalance(ctx context.Context, accountID string) (money.Money, error) {
	book, err := s.BookBalance(ctx, accountID)
	if err != nil {
		return money.Money{}, err
	}
	acct, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return money.Money{}, err
	}
	if acct.Hold == nil || acct.Hold.IsZero() {
		return book, nil
	}
	return book.Sub(*acct.Hold)
}

func (s *Service) entryLines(ctx context.Context, entryID string) ([]JournalEntryLine, error) {
	rows, err := s.store.Find(ctx, storage.TableJournalEntryLines, func(row storage.Row) bool {
		var line JournalEntryLine
		if err := row.Decode(&line); err != nil {
			return false
		}
		return line.EntryID == entryID
	})
	if err != nil {
		return nil, err
	}
	return decodeLines(rows)
}

func (s *Service) accountLines(ctx context.Context, accountID string) ([]JournalEntryLine, error) {
	rows, err := s.store.Find(ctx, storage.TableJournalEntryLines, func(row storage.Row) bool {
		var line JournalEntryLine
		if err := row.Decode(&line); err != nil {
			return false
		}
		return line.AccountID == accountID
	})
	if err != nil {
		return nil, err
	}
	return decodeLines(rows)
}

func (s *Service) postedEntryIDs(ctx context.Context) (map[string]bool, error) {
	rows, err := s.store.LoadAll(ctx, storage.TableJournalEntries)
	if err != nil {
		return nil, err
	}
	posted := make(map[string]bool, len(rows))
	for _, row := range rows {
		var entry JournalEntry
		if err := row.Decode(&entry); err != nil {
			return nil, err
		}
		if entry.Posted() {
			posted[entry.ID] = true
		}
	}
	return posted, nil
}

func decodeLines(rows []storage.Row) ([]JournalEntryLine, error) {
	lines := make([]JournalEntryLine, 0, len(rows))
	for _, row := range rows {
		var line JournalEntryLine
		if err := row.Decode(&line); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func lineKey(line JournalEntryLine) string {
	return fmt.Sprintf("%s:%04d", line.EntryID, line.Seq)
}

// currency returns the line's currency, taken from whichever side is set.
func (l JournalEntryLine) currency() money.Currency {
	if !l.Debit.IsZero() {
		return l.Debit.Currency
	}
	return l.Credit.Currency
}

// validate enforces the one-sided, non-negative line invariant.
func (l JournalEntryLine) validate() error {
	if l.AccountID == "" {
		return fmt.Errorf("line has no account id")
	}
	if l.Debit.IsNegative() || l.Credit.IsNegative() {
		return fmt.Errorf("line amounts must not be negative")
	}
	debitSet := !l.Debit.IsZero()
	creditSet := !l.Credit.IsZero()
	if debitSet == creditSet {
		return fmt.Errorf("exactly one of debit/credit must be non-zero")
	}
	if l.Debit.Currency != l.Credit.Currency {
		return fmt.Errorf("debit and credit sides carry different currencies")
	}
	return nil
}
