package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketsettle-backend/internal/catalog"
	"github.com/angelmondragon/marketsettle-backend/pkg/db/models"
	"github.com/angelmondragon/marketsettle-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketsettle-backend/pkg/errors"
	"github.com/angelmondragon/marketsettle-backend/pkg/logger"
	"github.com/angelmondragon/marketsettle-backend/pkg/metrics"
	"github.com/angelmondragon/marketsettle-backend/pkg/outbox"
	"github.com/angelmondragon/marketsettle-backend/pkg/types"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
	// snapshots written before integer money may be off by one unit
	snapshotTolerance = 1
)

// DebitPolicy decides what happens when a debit exceeds the balance.
type DebitPolicy int

const (
	// DebitStrict rejects the debit.
	DebitStrict DebitPolicy = iota
	// DebitClamp debits what is available and records the rest as a pending shortfall.
	DebitClamp
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// EntryInput describes one balance movement. Amount is the magnitude moved.
type EntryInput struct {
	SellerID      uuid.UUID
	ShopID        uuid.UUID
	Type          enums.LedgerEntryType
	Amount        int64
	Gross         int64
	PlatformFee   int64
	FeeRate       decimal.Decimal
	OrderID       *uuid.UUID
	ReturnID      *uuid.UUID
	WithdrawalRef *string
	ReversalOfID  *uuid.UUID
	Description   string
	Metadata      types.JSONMap
	Policy        DebitPolicy
}

// DebitResult reports how much of a requested debit was applied.
type DebitResult struct {
	Entry     *models.SellerLedgerEntry
	Shortfall *models.SellerLedgerEntry
	Requested int64
	Debited   int64
	Uncovered int64
}

// ReverseResult pairs a reversed credit with its compensating debit.
type ReverseResult struct {
	Original *models.SellerLedgerEntry
	Reversal *DebitResult
}

// ReconcileReport compares the stored balance with the replayed ledger.
type ReconcileReport struct {
	SellerID          uuid.UUID   `json:"seller_id"`
	StoredBalance     int64       `json:"stored_balance"`
	LedgerBalance     int64       `json:"ledger_balance"`
	Drift             int64       `json:"drift"`
	EntriesChecked    int         `json:"entries_checked"`
	SnapshotMismatch  []uuid.UUID `json:"snapshot_mismatch,omitempty"`
	PendingShortfalls int64       `json:"pending_shortfalls"`
}

// Consistent reports whether the balance and every snapshot check out.
func (r *ReconcileReport) Consistent() bool {
	return r.Drift == 0 && len(r.SnapshotMismatch) == 0
}

// ServiceParams wires the ledger service.
type ServiceParams struct {
	Repository Repository
	Accounts   catalog.Repository
	DB         txRunner
	Outbox     outboxPublisher
	Logger     *logger.Logger
	Metrics    *metrics.SettlementMetrics
	Now        func() time.Time
}

// Service records seller balance movements. Every mutation locks the seller
// account row inside the caller's transaction.
type Service struct {
	repo     Repository
	accounts catalog.Repository
	db       txRunner
	outbox   outboxPublisher
	logg     *logger.Logger
	metrics  *metrics.SettlementMetrics
	now      func() time.Time
}

// NewService wires a ledger service with the provided dependencies.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if params.Accounts == nil {
		return nil, fmt.Errorf("account repository required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:     params.Repository,
		accounts: params.Accounts,
		db:       params.DB,
		outbox:   params.Outbox,
		logg:     params.Logger,
		metrics:  params.Metrics,
		now:      now,
	}, nil
}

func (s *Service) validate(input EntryInput) error {
	if input.SellerID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "seller id is required")
	}
	if input.ShopID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "shop id is required")
	}
	if !input.Type.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid ledger entry type %q", input.Type))
	}
	if input.Amount < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must not be negative")
	}
	return nil
}

func (s *Service) lockSeller(ctx context.Context, tx *gorm.DB, sellerID uuid.UUID) (*models.Account, error) {
	account, err := s.accounts.WithTx(tx).LockAccount(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	if account.Role != enums.AccountRoleSeller {
		return nil, pkgerrors.New(pkgerrors.CodeDataIntegrity, "ledger account is not a seller").
			WithDetails(map[string]any{"account_id": sellerID, "role": account.Role})
	}
	return account, nil
}

func (s *Service) newEntry(input EntryInput, status enums.LedgerEntryStatus, net, before, after int64) *models.SellerLedgerEntry {
	processed := s.now().UTC()
	gross := input.Gross
	if gross == 0 {
		gross = input.Amount
	}
	return &models.SellerLedgerEntry{
		Code:          entryCode(input.Type),
		SellerID:      input.SellerID,
		ShopID:        input.ShopID,
		Type:          input.Type,
		Status:        status,
		OrderID:       input.OrderID,
		ReturnID:      input.ReturnID,
		WithdrawalRef: input.WithdrawalRef,
		ReversalOfID:  input.ReversalOfID,
		Gross:         gross,
		PlatformFee:   input.PlatformFee,
		FeeRate:       input.FeeRate,
		Net:           net,
		BalanceBefore: before,
		BalanceAfter:  after,
		Description:   input.Description,
		Metadata:      input.Metadata,
		ProcessedAt:   &processed,
	}
}

// Credit adds input.Amount to the seller balance inside tx, then recovers
// pending shortfalls the new balance covers in full.
func (s *Service) Credit(ctx context.Context, tx *gorm.DB, input EntryInput) (*models.SellerLedgerEntry, error) {
	if err := s.validate(input); err != nil {
		return nil, err
	}
	if !input.Type.IsCredit() && input.Type != enums.LedgerEntryAdjustment {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("%s is not a credit type", input.Type))
	}
	account, err := s.lockSeller(ctx, tx, input.SellerID)
	if err != nil {
		return nil, err
	}

	repo := s.repo.WithTx(tx)
	before := account.Balance
	balance := before + input.Amount
	entry := s.newEntry(input, enums.LedgerEntryStatusCompleted, input.Amount, before, balance)
	if err := repo.Create(ctx, entry); err != nil {
		return nil, fmt.Errorf("create ledger entry: %w", err)
	}

	balance, err = s.recoverShortfalls(ctx, repo, input.SellerID, balance)
	if err != nil {
		return nil, err
	}
	if err := s.accounts.WithTx(tx).UpdateAccountBalance(ctx, input.SellerID, balance); err != nil {
		return nil, fmt.Errorf("update seller balance: %w", err)
	}

	logCtx := s.logg.WithFields(s.logg.WithSellerID(ctx, input.SellerID.String()), map[string]any{
		"entry_id":      entry.ID.String(),
		"entry_type":    entry.Type,
		"amount":        input.Amount,
		"balance_after": balance,
	})
	s.logg.Info(logCtx, "seller ledger credited")
	return entry, nil
}

func (s *Service) recoverShortfalls(ctx context.Context, repo Repository, sellerID uuid.UUID, balance int64) (int64, error) {
	pending, err := repo.ListPendingShortfalls(ctx, sellerID)
	if err != nil {
		return balance, fmt.Errorf("list pending shortfalls: %w", err)
	}
	for _, shortfall := range pending {
		owed := -shortfall.Net
		if owed > balance {
			break
		}
		after := balance - owed
		now := s.now().UTC()
		err := repo.TransitionStatus(ctx, shortfall.ID, enums.LedgerEntryStatusPending, enums.LedgerEntryStatusCompleted, now, map[string]any{
			"balance_before": balance,
			"balance_after":  after,
			"processed_at":   now,
		})
		if err != nil {
			return balance, fmt.Errorf("recover shortfall %s: %w", shortfall.ID, err)
		}
		logCtx := s.logg.WithFields(s.logg.WithSellerID(ctx, sellerID.String()), map[string]any{
			"entry_id": shortfall.ID.String(),
			"amount":   owed,
		})
		s.logg.Info(logCtx, "pending shortfall recovered")
		balance = after
	}
	return balance, nil
}

// Debit subtracts input.Amount from the seller balance inside tx using input.Policy.
func (s *Service) Debit(ctx context.Context, tx *gorm.DB, input EntryInput) (*DebitResult, error) {
	if err := s.validate(input); err != nil {
		return nil, err
	}
	if !input.Type.IsDebit() && input.Type != enums.LedgerEntryAdjustment {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("%s is not a debit type", input.Type))
	}
	if input.Amount == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "debit amount must be positive")
	}
	account, err := s.lockSeller(ctx, tx, input.SellerID)
	if err != nil {
		return nil, err
	}

	before := account.Balance
	result := &DebitResult{Requested: input.Amount, Debited: input.Amount}
	if before < input.Amount {
		if input.Policy == DebitStrict {
			return nil, pkgerrors.New(pkgerrors.CodeInsufficientSellerBalance, "insufficient seller balance").
				WithDetails(map[string]any{"requested": input.Amount, "available": before})
		}
		result.Debited = before
		result.Uncovered = input.Amount - before
	}

	if result.Uncovered > 0 {
		meta := types.JSONMap{}
		for k, v := range input.Metadata {
			meta[k] = v
		}
		meta["requested"] = result.Requested
		meta["uncovered"] = result.Uncovered
		input.Metadata = meta
	}

	repo := s.repo.WithTx(tx)
	after := before - result.Debited
	result.Entry = s.newEntry(input, enums.LedgerEntryStatusCompleted, -result.Debited, before, after)
	if err := repo.Create(ctx, result.Entry); err != nil {
		return nil, fmt.Errorf("create ledger entry: %w", err)
	}

	logCtx := s.logg.WithFields(s.logg.WithSellerID(ctx, input.SellerID.String()), map[string]any{
		"entry_id":      result.Entry.ID.String(),
		"entry_type":    input.Type,
		"requested":     result.Requested,
		"debited":       result.Debited,
		"balance_after": after,
	})

	if result.Uncovered > 0 {
		shortfallInput := EntryInput{
			SellerID:    input.SellerID,
			ShopID:      input.ShopID,
			Type:        enums.LedgerEntryAdjustment,
			Amount:      result.Uncovered,
			OrderID:     input.OrderID,
			ReturnID:    input.ReturnID,
			Description: fmt.Sprintf("uncovered %s", strings.ToLower(string(input.Type))),
			Metadata:    types.JSONMap{"shortfall_of": result.Entry.ID.String()},
		}
		result.Shortfall = s.newEntry(shortfallInput, enums.LedgerEntryStatusPending, -result.Uncovered, after, after)
		result.Shortfall.ProcessedAt = nil
		if err := repo.Create(ctx, result.Shortfall); err != nil {
			return nil, fmt.Errorf("create shortfall entry: %w", err)
		}
		s.metrics.AddShortfall(result.Uncovered)
		s.logg.Warn(s.logg.WithField(logCtx, "uncovered", result.Uncovered), "seller debit clamped at available balance")
	}

	if err := s.accounts.WithTx(tx).UpdateAccountBalance(ctx, input.SellerID, after); err != nil {
		return nil, fmt.Errorf("update seller balance: %w", err)
	}
	s.logg.Info(logCtx, "seller ledger debited")
	return result, nil
}

// Reverse undoes a completed credit with a compensating debit and marks the
// original REVERSED. Shortfalls follow the clamp policy.
func (s *Service) Reverse(ctx context.Context, tx *gorm.DB, entryID uuid.UUID, reason string) (*ReverseResult, error) {
	repo := s.repo.WithTx(tx)
	original, err := repo.LockByID(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if original.Status != enums.LedgerEntryStatusCompleted {
		return nil, pkgerrors.InvalidTransition("ledger entry", string(original.Status), string(enums.LedgerEntryStatusReversed))
	}
	if !original.Type.IsCredit() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "only credit entries can be reversed").
			WithDetails(map[string]any{"entry_id": entryID, "type": original.Type})
	}

	reversalType := enums.LedgerEntryAdjustment
	if original.Type == enums.LedgerEntryOrderPayment {
		reversalType = enums.LedgerEntryRefundDeduction
	}
	originalID := original.ID
	result := &ReverseResult{Original: original}

	if original.Net > 0 {
		result.Reversal, err = s.Debit(ctx, tx, EntryInput{
			SellerID:     original.SellerID,
			ShopID:       original.ShopID,
			Type:         reversalType,
			Amount:       original.Net,
			OrderID:      original.OrderID,
			ReversalOfID: &originalID,
			Description:  fmt.Sprintf("reversal of %s: %s", original.Code, reason),
			Policy:       DebitClamp,
		})
		if err != nil {
			return nil, err
		}
	}

	if err := repo.TransitionStatus(ctx, original.ID, enums.LedgerEntryStatusCompleted, enums.LedgerEntryStatusReversed, s.now().UTC(), nil); err != nil {
		return nil, err
	}
	original.Status = enums.LedgerEntryStatusReversed

	event := outbox.LedgerEntryReversedEvent{
		EntryID:  original.ID,
		SellerID: original.SellerID,
		Amount:   original.Net,
		Reason:   reason,
	}
	if result.Reversal != nil {
		event.ReversalID = result.Reversal.Entry.ID
	}
	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventLedgerEntryReversed,
		AggregateType: enums.AggregateLedgerEntry,
		AggregateID:   original.ID,
		Data:          event,
	}); err != nil {
		return nil, fmt.Errorf("emit reversal event: %w", err)
	}
	return result, nil
}

// Withdraw pays out amount to the seller in its own transaction. Withdrawals
// never overdraw the balance.
func (s *Service) Withdraw(ctx context.Context, sellerID, shopID uuid.UUID, amount int64, ref string) (*models.SellerLedgerEntry, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "withdrawal reference is required")
	}
	if amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "withdrawal amount must be positive")
	}

	var entry *models.SellerLedgerEntry
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		result, err := s.Debit(ctx, tx, EntryInput{
			SellerID:      sellerID,
			ShopID:        shopID,
			Type:          enums.LedgerEntryWithdrawal,
			Amount:        amount,
			WithdrawalRef: &ref,
			Description:   "seller withdrawal",
			Policy:        DebitStrict,
		})
		if err != nil {
			return err
		}
		entry = result.Entry
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventSellerWithdrawal,
			AggregateType: enums.AggregateLedgerEntry,
			AggregateID:   entry.ID,
			Data: outbox.SellerWithdrawalEvent{
				EntryID:  entry.ID,
				SellerID: sellerID,
				Amount:   amount,
				Ref:      ref,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// History returns the newest entries of a seller.
func (s *Service) History(ctx context.Context, sellerID uuid.UUID, limit int) ([]models.SellerLedgerEntry, error) {
	if sellerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "seller id is required")
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return s.repo.ListRecent(ctx, sellerID, limit)
}

// Reconcile replays every applied entry of a seller and compares the result
// with the stored balance. Deviations are logged, never corrected.
func (s *Service) Reconcile(ctx context.Context, sellerID uuid.UUID) (*ReconcileReport, error) {
	account, err := s.accounts.FindAccount(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	applied, err := s.repo.ListApplied(ctx, sellerID)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	pending, err := s.repo.ListPendingShortfalls(ctx, sellerID)
	if err != nil {
		return nil, fmt.Errorf("list pending shortfalls: %w", err)
	}

	report := &ReconcileReport{SellerID: sellerID, StoredBalance: account.Balance}
	for _, entry := range applied {
		report.EntriesChecked++
		report.LedgerBalance += entry.Net
		if diff := entry.BalanceAfter - (entry.BalanceBefore + entry.Net); diff < -snapshotTolerance || diff > snapshotTolerance {
			report.SnapshotMismatch = append(report.SnapshotMismatch, entry.ID)
		}
	}
	for _, entry := range pending {
		report.PendingShortfalls += -entry.Net
	}
	report.Drift = report.StoredBalance - report.LedgerBalance

	ctx = s.logg.WithFields(s.logg.WithSellerID(ctx, sellerID.String()), map[string]any{
		"stored_balance":     report.StoredBalance,
		"ledger_balance":     report.LedgerBalance,
		"drift":              report.Drift,
		"snapshot_mismatch":  len(report.SnapshotMismatch),
		"pending_shortfalls": report.PendingShortfalls,
	})
	if report.Consistent() {
		s.logg.Info(ctx, "seller ledger reconciled")
	} else {
		s.logg.Warn(ctx, "seller ledger drift detected")
	}
	return report, nil
}

func entryCode(t enums.LedgerEntryType) string {
	prefix := "ADJ"
	switch t {
	case enums.LedgerEntryOrderPayment:
		prefix = "PAY"
	case enums.LedgerEntryRefundDeduction:
		prefix = "RFD"
	case enums.LedgerEntryWithdrawal:
		prefix = "WDR"
	case enums.LedgerEntryPenalty:
		prefix = "PEN"
	case enums.LedgerEntryBonus:
		prefix = "BON"
	}
	return prefix + "-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
}
