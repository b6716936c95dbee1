// Package processor is the transaction state machine: idempotent
// creation, atomic multi-step processing through the compliance and
// fraud gates onto the ledger, and reversal semantics.
package processor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"nexum/internal/audit"
	"nexum/internal/compliance"
	"nexum/internal/fraud"
	"nexum/internal/ledger"
	"nexum/internal/storage"
	"nexum/pkg/apperr"
	"nexum/pkg/clock"
	"nexum/pkg/events"
	"nexum/pkg/money"
)

// Block messages are part of the behavioural contract.
const (
	msgComplianceBlocked = "Blocked by compliance rules"
	msgFraudBlocked      = "Blocked by fraud detection"
	msgAccountUnavail    = "Account is not available"
	msgInsufficientFunds = "Insufficient funds"
)

// Processor owns the transaction lifecycle.
type Processor struct {
	store      storage.Storage
	ledger     *ledger.Service
	gate       compliance.Gate
	scorer     fraud.Scorer
	dispatcher events.Dispatcher
	trail      audit.Recorder
	clock      clock.Clock
	logger     *zap.Logger
}

// New creates a Processor. Nil gate, scorer, dispatcher, or logger are
// replaced with inert implementations.
func New(store storage.Storage, ledgerSvc *ledger.Service, gate compliance.Gate, scorer fraud.Scorer, dispatcher events.Dispatcher, trail audit.Recorder, clk clock.Clock, logger *zap.Logger) *Processor {
	if gate == nil {
		gate = compliance.AllowAll{}
	}
	if dispatcher == nil {
		dispatcher = events.Noop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		store:      store,
		ledger:     ledgerSvc,
		gate:       gate,
		scorer:     scorer,
		dispatcher: dispatcher,
		trail:      trail,
		clock:      clk,
		logger:     logger,
	}
}

// Create validates and persists a new PENDING transaction.
//
// Idempotency contract: a retry carrying the same idempotency key and
// an identical payload returns the already-persisted record unchanged;
// the same key with a conflicting payload is a state error.
func (p *Processor) Create(ctx context.Context, req CreateRequest) (*Transaction, error) {
	const op = "processor.Create"

	if !req.Amount.IsPositive() {
		return nil, apperr.E(apperr.Validation, op, "amount must be strictly positive")
	}
	if req.FromAccountID == "" && req.ToAccountID == "" {
		return nil, apperr.E(apperr.Validation, op, "at least one of from/to account is required")
	}
	if req.Type.requiresFrom() && req.FromAccountID == "" {
		return nil, apperr.Ef(apperr.Validation, op, "%s requires a from account", req.Type)
	}
	if req.Type.requiresTo() && req.ToAccountID == "" {
		return nil, apperr.Ef(apperr.Validation, op, "%s requires a to account", req.Type)
	}
	if req.Channel == "" {
		req.Channel = ChannelOnline
	}

	// Mixed-currency transfers fail before any persistence. Both legs
	// must resolve here; other types resolve at process time.
	if req.Type == TransferInternal {
		from, err := p.ledger.GetAccount(ctx, req.FromAccountID)
		if err != nil {
			return nil, err
		}
		to, err := p.ledger.GetAccount(ctx, req.ToAccountID)
		if err != nil {
			return nil, err
		}
		if from.Currency != to.Currency {
			return nil, apperr.Ef(apperr.Validation, op,
				"mixed-currency transfer: %s to %s", from.Currency, to.Currency)
		}
	}

	// Amount-vs-account currency is checked up front for every account
	// that resolves. Accounts missing at create time still fail at
	// process time.
	for _, id := range []string{req.FromAccountID, req.ToAccountID} {
		if id == "" {
			continue
		}
		acct, err := p.ledger.GetAccount(ctx, id)
		if err != nil {
			if apperr.IsKind(err, apperr.NotFound) {
				continue
			}
			return nil, err
		}
		if acct.System {
			continue
		}
		if acct.Currency != req.Amount.Currency {
			return nil, apperr.Ef(apperr.Validation, op,
				"amount currency %s does not match account currency %s",
				req.Amount.Currency, acct.Currency)
		}
	}

	now := p.clock.Now()
	key := req.IdempotencyKey
	if key == "" {
		key = deriveIdempotencyKey(req, now)
	}

	// Lookup and insert run in one atomic region so two racing creates
	// with the same key cannot both persist.
	var txn *Transaction
	var created bool
	err := p.store.Atomic(ctx, func(ctx context.Context, tx storage.Storage) error {
		existing, err := p.findByIdempotencyKey(ctx, tx, key)
		if err != nil {
			return err
		}
		if existing != nil {
			if !existing.samePayload(req) {
				return apperr.Ef(apperr.State, op,
					"idempotency key %s was used with a different payload", key)
			}
			txn = existing
			return nil
		}
		t := Transaction{
			ID:             uuid.NewString(),
			Type:           req.Type,
			FromAccountID:  req.FromAccountID,
			ToAccountID:    req.ToAccountID,
			Amount:         req.Amount,
			Currency:       req.Amount.Currency,
			Description:    req.Description,
			Reference:      req.Reference,
			IdempotencyKey: key,
			Channel:        req.Channel,
			State:          Pending,
			Metadata:       req.Metadata,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.Save(ctx, storage.TableTransactions, t.ID, t); err != nil {
			return err
		}
		txn = &t
		created = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !created {
		return txn, nil
	}

	p.publish(events.TransactionCreated, txn)
	p.audit(ctx, "transaction.created", txn.ID, string(txn.Channel), map[string]string{
		"type":   string(txn.Type),
		"amount": txn.Amount.String(),
	})
	return txn, nil
}

// deriveIdempotencyKey hashes the effect-identifying payload fields.
func deriveIdempotencyKey(req CreateRequest, createdAt time.Time) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%s|%s|%d",
		req.Type, req.FromAccountID, req.ToAccountID,
		req.Amount.StringAmount(), req.Amount.Currency,
		createdAt.UnixNano())))
	return hex.EncodeToString(h[:])
}

// samePayload reports whether a retry matches the persisted record.
func (t *Transaction) samePayload(req CreateRequest) bool {
	return t.Type == req.Type &&
		t.FromAccountID == req.FromAccountID &&
		t.ToAccountID == req.ToAccountID &&
		t.Amount.Equal(req.Amount)
}

func (p *Processor) findByIdempotencyKey(ctx context.Context, store storage.Storage, key string) (*Transaction, error) {
	rows, err := store.Find(ctx, storage.TableTransactions, func(row storage.Row) bool {
		var t Transaction
		if err := row.Decode(&t); err != nil {
			return false
		}
		return t.IdempotencyKey == key
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	var t Transaction
	if err := rows[0].Decode(&t); err != nil {
		return nil, err
	}
	return &t, nil
}

// Process runs a PENDING transaction through the gates and posts it.
//
// Everything up to COMPLETED runs inside one storage atomic scope; any
// failure rolls back those writes and the record is then marked FAILED
// outside the rolled-back scope.
func (p *Processor) Process(ctx context.Context, id string) (*Transaction, error) {
	const op = "processor.Process"

	txn, err := p.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if txn.State != Pending {
		return nil, apperr.Ef(apperr.State, op,
			"transaction %s is %s, not PENDING", id, txn.State)
	}

	procErr := p.store.Atomic(ctx, func(ctx context.Context, tx storage.Storage) error {
		return p.processInside(ctx, tx, txn)
	})

	if procErr != nil {
		now := p.clock.Now()
		txn.State = Failed
		txn.ErrorMessage = apperr.MessageOf(procErr)
		txn.UpdatedAt = now
		if err := p.store.Save(ctx, storage.TableTransactions, txn.ID, txn); err != nil {
			return nil, err
		}
		p.publish(events.TransactionFailed, txn)
		p.audit(ctx, "transaction.failed", txn.ID, string(txn.Channel), map[string]string{
			"error": txn.ErrorMessage,
		})
		return txn, procErr
	}

	p.publish(events.TransactionPosted, txn)
	p.audit(ctx, "transaction.posted", txn.ID, string(txn.Channel), map[string]string{
		"journal_entry_id": txn.JournalEntryID,
		"amount":           txn.Amount.String(),
	})
	return txn, nil
}

// processInside is the ordered sequence inside the atomic scope. It
// mutates txn in place so the caller sees the final record after commit.
func (p *Processor) processInside(ctx context.Context, tx storage.Storage, txn *Transaction) error {
	const op = "processor.Process"
	led := p.ledger.WithStorage(tx)

	txn.State = Processing
	txn.UpdatedAt = p.clock.Now()
	if err := tx.Save(ctx, storage.TableTransactions, txn.ID, txn); err != nil {
		return err
	}

	screened := txn.Channel != ChannelSystem && txn.Type != Reversal

	if screened {
		customerID, err := p.customerFor(ctx, led, txn)
		if err != nil {
			return err
		}
		result, err := p.gate.CheckTransaction(ctx, customerID, txn.primaryAccount(), txn.Amount, string(txn.Type), txn.ID)
		if err != nil {
			return err
		}
		txn.ComplianceChecked = true
		txn.ComplianceAction = string(result.Action)
		txn.ComplianceNotes = result.Violations
		if err := tx.Save(ctx, storage.TableTransactions, txn.ID, txn); err != nil {
			return err
		}
		if result.Action == compliance.Block {
			return apperr.E(apperr.ComplianceBlock, op, msgComplianceBlocked)
		}

		if p.scorer != nil {
			score := p.scorer.Score(ctx, fraud.Request{
				TransactionID: txn.ID,
				CustomerID:    customerID,
				Amount:        txn.Amount,
				Channel:       string(txn.Channel),
				Timestamp:     txn.CreatedAt,
				Metadata:      txn.Metadata,
			})
			txn.recordFraud(score)
			if err := tx.Save(ctx, storage.TableTransactions, txn.ID, txn); err != nil {
				return err
			}
			if score.Decision == fraud.Block {
				return apperr.E(apperr.FraudBlock, op, msgFraudBlocked)
			}
		}
	}

	lines, err := p.validateAndBuildLines(ctx, tx, led, txn)
	if err != nil {
		return err
	}

	entry, err := led.CreateJournalEntry(ctx, txn.ID, txn.Description, lines)
	if err != nil {
		return err
	}
	if _, err := led.PostJournalEntry(ctx, entry.ID); err != nil {
		return err
	}

	now := p.clock.Now()
	txn.JournalEntryID = entry.ID
	txn.State = Completed
	txn.ProcessedAt = &now
	txn.UpdatedAt = now
	return tx.Save(ctx, storage.TableTransactions, txn.ID, txn)
}

// recordFraud stores the scorer output on the transaction metadata.
func (t *Transaction) recordFraud(score fraud.Score) {
	if t.FraudMetadata == nil {
		t.FraudMetadata = make(map[string]string)
	}
	t.FraudMetadata["fraud_score"] = fmt.Sprintf("%.4f", score.Score)
	t.FraudMetadata["fraud_decision"] = string(score.Decision)
	t.FraudMetadata["fraud_risk_level"] = string(score.RiskLevel)
	t.FraudMetadata["fraud_reasons"] = fmt.Sprintf("%v", score.Reasons)
	t.FraudMetadata["fraud_latency_ms"] = fmt.Sprintf("%d", score.Latency.Milliseconds())
	if score.Decision == fraud.Review {
		t.FraudMetadata["needs_review"] = "true"
	}
}

// primaryAccount is the account compliance screening keys on.
func (t *Transaction) primaryAccount() string {
	if t.FromAccountID != "" {
		return t.FromAccountID
	}
	return t.ToAccountID
}

// customerFor resolves the customer behind the screened account.
func (p *Processor) customerFor(ctx context.Context, led *ledger.Service, txn *Transaction) (string, error) {
	acct, err := led.GetAccount(ctx, txn.primaryAccount())
	if err != nil {
		return "", err
	}
	return acct.CustomerID, nil
}

// validateAndBuildLines resolves the accounts, enforces debitability,
// creditability, funds, and the loan cap rule, and returns the journal
// lines per the posting table.
func (p *Processor) validateAndBuildLines(ctx context.Context, tx storage.Storage, led *ledger.Service, txn *Transaction) ([]ledger.JournalEntryLine, error) {
	const op = "processor.Process"
	amount := txn.Amount
	desc := txn.Description

	var from, to *ledger.Account
	var err error
	if txn.FromAccountID != "" {
		if from, err = led.GetAccount(ctx, txn.FromAccountID); err != nil {
			return nil, err
		}
		if !from.CanDebit() {
			return nil, apperr.E(apperr.Validation, op, msgAccountUnavail)
		}
		if from.Currency != amount.Currency {
			return nil, apperr.Ef(apperr.Validation, op,
				"amount currency %s does not match account currency %s",
				amount.Currency, from.Currency)
		}
	}
	if txn.ToAccountID != "" {
		if to, err = led.GetAccount(ctx, txn.ToAccountID); err != nil {
			return nil, err
		}
		if !to.CanCredit() {
			return nil, apperr.E(apperr.Validation, op, msgAccountUnavail)
		}
		if to.Currency != amount.Currency && !to.System {
			return nil, apperr.Ef(apperr.Validation, op,
				"amount currency %s does not match account currency %s",
				amount.Currency, to.Currency)
		}
	}

	if from != nil && txn.Type != Reversal {
		if from.Product == ledger.ProductLoan {
			if err := p.checkLoanCap(ctx, led, from, amount); err != nil {
				return nil, err
			}
		} else {
			available, err := led.AvailableBalance(ctx, from.ID)
			if err != nil {
				return nil, err
			}
			if cmp, err := available.Cmp(amount); err != nil {
				return nil, apperr.Wrap(apperr.Validation, op, err)
			} else if cmp < 0 {
				return nil, apperr.Ef(apperr.Validation, op,
					"%s: available %s, requested %s", msgInsufficientFunds, available, amount)
			}
		}
	}

	switch txn.Type {
	case Deposit:
		return []ledger.JournalEntryLine{
			ledger.DebitLine(txn.ToAccountID, desc, amount),
			ledger.CreditLine(ledger.SystemExternalDeposits, desc, amount),
		}, nil
	case Withdrawal:
		return []ledger.JournalEntryLine{
			ledger.DebitLine(ledger.SystemExternalWithdrawals, desc, amount),
			ledger.CreditLine(txn.FromAccountID, desc, amount),
		}, nil
	case TransferInternal:
		return []ledger.JournalEntryLine{
			ledger.DebitLine(txn.ToAccountID, desc, amount),
			ledger.CreditLine(txn.FromAccountID, desc, amount),
		}, nil
	case Payment:
		return []ledger.JournalEntryLine{
			ledger.DebitLine(ledger.SystemExternalPayments, desc, amount),
			ledger.CreditLine(txn.FromAccountID, desc, amount),
		}, nil
	case Fee:
		return []ledger.JournalEntryLine{
			ledger.DebitLine(ledger.SystemFeeIncome, desc, amount),
			ledger.CreditLine(txn.FromAccountID, desc, amount),
		}, nil
	case InterestCredit:
		return []ledger.JournalEntryLine{
			ledger.DebitLine(txn.ToAccountID, desc, amount),
			ledger.CreditLine(ledger.SystemInterestExpense, desc, amount),
		}, nil
	case InterestDebit:
		return []ledger.JournalEntryLine{
			ledger.DebitLine(ledger.SystemInterestIncome, desc, amount),
			ledger.CreditLine(txn.FromAccountID, desc, amount),
		}, nil
	case Reversal:
		return p.reversalLines(ctx, tx, led, txn)
	default:
		return nil, apperr.Ef(apperr.Validation, op, "unknown transaction type %q", txn.Type)
	}
}

// checkLoanCap applies the disbursement cap: the loan's outstanding
// amount after the debit must not exceed its credit limit. Loan
// accounts are credit-normal, so outstanding is the negated book
// balance.
func (p *Processor) checkLoanCap(ctx context.Context, led *ledger.Service, loan *ledger.Account, amount money.Money) error {
	const op = "processor.Process"
	if loan.CreditLimit == nil {
		return apperr.Ef(apperr.Validation, op, "loan account %s has no credit limit", loan.ID)
	}
	book, err := led.BookBalance(ctx, loan.ID)
	if err != nil {
		return err
	}
	outstanding, err := book.Neg().Add(amount)
	if err != nil {
		return apperr.Wrap(apperr.Validation, op, err)
	}
	if cmp, err := outstanding.Cmp(*loan.CreditLimit); err != nil {
		return apperr.Wrap(apperr.Validation, op, err)
	} else if cmp > 0 {
		return apperr.Ef(apperr.Validation, op,
			"disbursement would exceed credit limit: outstanding %s, limit %s",
			outstanding, loan.CreditLimit)
	}
	return nil
}

// reversalLines loads the original entry and swaps every line's sides:
// the reversal debits what the original credited and vice versa.
// Reads go through the transactional view; the atomic region already
// holds the store lock.
func (p *Processor) reversalLines(ctx context.Context, tx storage.Storage, led *ledger.Service, txn *Transaction) ([]ledger.JournalEntryLine, error) {
	const op = "processor.Process"
	if txn.OriginalTransactionID == "" {
		return nil, apperr.E(apperr.Validation, op, "reversal has no original transaction")
	}
	original, err := p.getWith(ctx, tx, txn.OriginalTransactionID)
	if err != nil {
		return nil, err
	}
	entry, err := led.GetJournalEntry(ctx, original.JournalEntryID)
	if err != nil {
		return nil, err
	}

	lines := make([]ledger.JournalEntryLine, 0, len(entry.Lines))
	for _, line := range entry.Lines {
		if line.Debit.IsZero() {
			lines = append(lines, ledger.DebitLine(line.AccountID, txn.Description, line.Credit))
		} else {
			lines = append(lines, ledger.CreditLine(line.AccountID, txn.Description, line.Debit))
		}
	}
	return lines, nil
}

// Reverse creates and processes a REVERSAL for a COMPLETED transaction,
// then transitions the original to REVERSED and links the pair.
//
// The reversal key is derived from the original's id, so a retry after
// a transient failure finds the earlier attempt: a FAILED attempt left
// no postings behind and is rearmed and re-run under the same key, a
// PENDING one is resumed, and a COMPLETED one short-circuits to the
// linking step.
func (p *Processor) Reverse(ctx context.Context, originalID, reason string, channel Channel) (*Transaction, error) {
	const op = "processor.Reverse"

	original, err := p.Get(ctx, originalID)
	if err != nil {
		return nil, err
	}
	if original.State != Completed {
		return nil, apperr.Ef(apperr.State, op,
			"transaction %s is %s, only COMPLETED transactions can be reversed", originalID, original.State)
	}
	if original.ReversalTransactionID != "" {
		return nil, apperr.Ef(apperr.State, op,
			"transaction %s is already reversed by %s", originalID, original.ReversalTransactionID)
	}
	if !original.Type.reversible() {
		return nil, apperr.Ef(apperr.Validation, op,
			"reversal is not supported for %s transactions", original.Type)
	}
	if channel == "" {
		channel = ChannelSystem
	}

	now := p.clock.Now()
	reversal := Transaction{
		ID:                    uuid.NewString(),
		Type:                  Reversal,
		FromAccountID:         original.ToAccountID,
		ToAccountID:           original.FromAccountID,
		Amount:                original.Amount,
		Currency:              original.Currency,
		Description:           reason,
		Reference:             original.Reference,
		IdempotencyKey:        "reversal:" + original.ID,
		Channel:               channel,
		State:                 Pending,
		OriginalTransactionID: original.ID,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	var created bool
	err = p.store.Atomic(ctx, func(ctx context.Context, tx storage.Storage) error {
		existing, err := p.findByIdempotencyKey(ctx, tx, reversal.IdempotencyKey)
		if err != nil {
			return err
		}
		switch {
		case existing == nil:
			created = true
			return tx.Save(ctx, storage.TableTransactions, reversal.ID, reversal)
		case existing.State == Failed:
			existing.State = Pending
			existing.ErrorMessage = ""
			existing.UpdatedAt = now
			if err := tx.Save(ctx, storage.TableTransactions, existing.ID, existing); err != nil {
				return err
			}
			reversal = *existing
			return nil
		case existing.State == Pending || existing.State == Completed:
			reversal = *existing
			return nil
		default:
			return apperr.Ef(apperr.State, op,
				"reversal %s of %s is %s", existing.ID, originalID, existing.State)
		}
	})
	if err != nil {
		return nil, err
	}
	if created {
		p.publish(events.TransactionCreated, &reversal)
		p.audit(ctx, "transaction.created", reversal.ID, string(channel), map[string]string{
			"type":     string(Reversal),
			"original": original.ID,
		})
	}

	processed := &reversal
	if reversal.State != Completed {
		if processed, err = p.Process(ctx, reversal.ID); err != nil {
			return processed, err
		}
	}

	original.State = Reversed
	original.ReversalTransactionID = processed.ID
	original.UpdatedAt = p.clock.Now()
	if err := p.store.Save(ctx, storage.TableTransactions, original.ID, original); err != nil {
		return nil, err
	}
	p.publish(events.TransactionReversed, original)
	p.audit(ctx, "transaction.reversed", original.ID, string(channel), map[string]string{
		"reversal_id": processed.ID,
		"reason":      reason,
	})
	return processed, nil
}

// --- Convenience wrappers ---

// DepositFunds creates a DEPOSIT into the account.
func (p *Processor) DepositFunds(ctx context.Context, accountID string, amount money.Money, channel Channel, idempotencyKey string) (*Transaction, error) {
	return p.Create(ctx, CreateRequest{
		Type:           Deposit,
		ToAccountID:    accountID,
		Amount:         amount,
		Description:    "Deposit",
		Channel:        channel,
		IdempotencyKey: idempotencyKey,
	})
}

// WithdrawFunds creates a WITHDRAWAL from the account.
func (p *Processor) WithdrawFunds(ctx context.Context, accountID string, amount money.Money, channel Channel, idempotencyKey string) (*Transaction, error) {
	return p.Create(ctx, CreateRequest{
		Type:           Withdrawal,
		FromAccountID:  accountID,
		Amount:         amount,
		Description:    "Withdrawal",
		Channel:        channel,
		IdempotencyKey: idempotencyKey,
	})
}

// TransferFunds creates an internal transfer between two accounts.
func (p *Processor) TransferFunds(ctx context.Context, fromID, toID string, amount money.Money, channel Channel, idempotencyKey string) (*Transaction, error) {
	return p.Create(ctx, CreateRequest{
		Type:           TransferInternal,
		FromAccountID:  fromID,
		ToAccountID:    toID,
		Amount:         amount,
		Description:    "Internal transfer",
		Channel:        channel,
		IdempotencyKey: idempotencyKey,
	})
}

// --- Queries ---

// Get loads one transaction.
func (p *Processor) Get(ctx context.Context, id string) (*Transaction, error) {
	return p.getWith(ctx, p.store, id)
}

func (p *Processor) getWith(ctx context.Context, store storage.Storage, id string) (*Transaction, error) {
	var txn Transaction
	if err := store.Load(ctx, storage.TableTransactions, id, &txn); err != nil {
		return nil, err
	}
	return &txn, nil
}

// AccountTransactions returns every transaction touching the account.
func (p *Processor) AccountTransactions(ctx context.Context, accountID string) ([]Transaction, error) {
	rows, err := p.store.Find(ctx, storage.TableTransactions, func(row storage.Row) bool {
		var t Transaction
		if err := row.Decode(&t); err != nil {
			return false
		}
		return t.FromAccountID == accountID || t.ToAccountID == accountID
	})
	if err != nil {
		return nil, err
	}
	txns := make([]Transaction, 0, len(rows))
	for _, row := range rows {
		var t Transaction
		if err := row.Decode(&t); err != nil {
			return nil, err
		}
		txns = append(txns, t)
	}
	return txns, nil
}

// --- Event and audit plumbing ---

func (p *Processor) publish(kind events.Kind, txn *Transaction) {
	p.dispatcher.Publish(events.Event{
		ID:         uuid.NewString(),
		Kind:       kind,
		EntityType: "transaction",
		EntityID:   txn.ID,
		Data: map[string]any{
			"type":            string(txn.Type),
			"state":           string(txn.State),
			"amount":          txn.Amount.StringAmount(),
			"currency":        string(txn.Currency),
			"from_account_id": txn.FromAccountID,
			"to_account_id":   txn.ToAccountID,
			"channel":         string(txn.Channel),
		},
		Timestamp: p.clock.Now(),
	})
}

func (p *Processor) audit(ctx context.Context, eventType, txnID, actor string, meta map[string]string) {
	if p.trail == nil {
		return
	}
	err := p.trail.Record(ctx, audit.Event{
		EventType:  eventType,
		EntityType: "transaction",
		EntityID:   txnID,
		Actor:      actor,
		Metadata:   meta,
	})
	if err != nil {
		p.logger.Error("audit write failed",
			zap.String("event_type", eventType),
			zap.String("transaction_id", txnID),
			zap.Error(err))
	}
}
