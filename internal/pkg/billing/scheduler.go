package billing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/cadencepay/cadence/app/models"
	"github.com/cadencepay/cadence/internal/pkg/gateway"
	"github.com/cadencepay/cadence/internal/pkg/ledger"
)

// ErrLockContended is returned by RunCycle when another process already holds
// the cycle lock. Callers should treat it as "nothing to do", not a failure.
var ErrLockContended = errors.New("billing cycle lock held by another process")

// CycleLock is the mutual exclusion the scheduler takes for a full cycle.
// Satisfied by lock.Lock.
type CycleLock interface {
	Acquire(ctx context.Context, timeout time.Duration, wait bool) (bool, error)
	Release(ctx context.Context) error
}

// NextDueDateFn computes the due date following dueDate for an agreement.
// The default delegates to the agreement's own frequency arithmetic;
// deployments with cycle-day alignment rules can inject their own.
type NextDueDateFn func(a *models.BillingAgreement, dueDate time.Time) time.Time

// CycleResult reports what one scheduler cycle did: the pending transaction
// created per agreement (0 when a pending one already existed) and the charge
// outcome per processed transaction.
type CycleResult struct {
	NewPending map[uint]uint
	Processed  map[uint]bool
}

// Scheduler drives the recurring billing cycle: generating pending
// transactions for due agreements, charging them through the gateway, and
// applying the retry policy to failures. One cycle runs under a process-wide
// lock so concurrent invocations cannot double charge.
type Scheduler struct {
	store   ledger.Store
	gateway gateway.Client
	cfg     *AccountConfig
	lock    CycleLock

	// NextDueDate and Now are injectable for tests and custom cycle rules.
	NextDueDate NextDueDateFn
	Now         func() time.Time

	// LockWait is how long RunCycle waits for a contended lock before
	// giving up.
	LockWait time.Duration
}

// NewScheduler builds a scheduler with the default due-date strategy and a
// 90 second lock wait.
func NewScheduler(store ledger.Store, gw gateway.Client, cfg *AccountConfig, cycleLock CycleLock) *Scheduler {
	return &Scheduler{
		store:   store,
		gateway: gw,
		cfg:     cfg,
		lock:    cycleLock,
		NextDueDate: func(a *models.BillingAgreement, dueDate time.Time) time.Time {
			return a.NextDueDateAfter(dueDate)
		},
		Now:      time.Now,
		LockWait: 90 * time.Second,
	}
}

// RunCycle executes one full billing cycle under the process lock: first the
// generation phase, then the charge phase. Returns ErrLockContended when the
// lock could not be acquired within LockWait.
func (s *Scheduler) RunCycle(ctx context.Context) (*CycleResult, error) {
	acquired, err := s.lock.Acquire(ctx, s.LockWait, true)
	if err != nil {
		return nil, fmt.Errorf("acquiring cycle lock: %w", err)
	}
	if !acquired {
		return nil, ErrLockContended
	}
	defer func() {
		if err := s.lock.Release(context.WithoutCancel(ctx)); err != nil {
			log.Errorf("[Scheduler] releasing cycle lock: %v", err)
		}
	}()

	result := &CycleResult{
		NewPending: map[uint]uint{},
		Processed:  map[uint]bool{},
	}

	now := s.Now()
	due, err := s.store.FindDueAgreements(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("finding due agreements: %w", err)
	}
	log.Infof("[Scheduler] cycle start: %d agreement(s) due", len(due))

	for i := range due {
		agreement := &due[i]
		txnID, err := s.generatePending(ctx, agreement, now)
		if err != nil {
			log.Errorf("[Scheduler] agreement %d: generating pending transaction: %v", agreement.ID, err)
			continue
		}
		result.NewPending[agreement.ID] = txnID
	}

	chargeable, err := s.store.ListChargeableTransactions(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing chargeable transactions: %w", err)
	}
	log.Infof("[Scheduler] charge phase: %d pending transaction(s)", len(chargeable))

	for i := range chargeable {
		txn := &chargeable[i]
		ok, err := s.processPending(ctx, txn)
		if err != nil {
			log.Errorf("[Scheduler] transaction %d: %v", txn.ID, err)
			continue
		}
		result.Processed[txn.ID] = ok
	}

	return result, nil
}

// generatePending creates this cycle's pending transaction for one due
// agreement and advances its due date. The whole step is one DB transaction:
// the due date moves forward first so a crash mid-step can at worst skip a
// cycle, never double charge. Returns 0 when a pending transaction already
// exists for the agreement.
func (s *Scheduler) generatePending(ctx context.Context, agreement *models.BillingAgreement, now time.Time) (uint, error) {
	var txnID uint
	err := s.store.RunInTransaction(ctx, func(tx ledger.Store) error {
		dueDate := agreement.NextDueDate
		next := s.NextDueDate(agreement, dueDate)
		if err := tx.UpdateAgreement(ctx, agreement.ID, map[string]any{
			"next_due_date": next,
		}); err != nil {
			return err
		}

		if existing, err := tx.GetPendingTransaction(ctx, agreement.ID); err == nil {
			log.Warnf("[Scheduler] agreement %d already has pending transaction %d, skipping generation", agreement.ID, existing.ID)
			return nil
		} else if !errors.Is(err, ledger.ErrNotFound) {
			return err
		}

		template, err := s.ensureTemplate(ctx, tx, agreement)
		if err != nil {
			return err
		}

		// The agreement is authoritative for the amount; the template may
		// lag after an amount change.
		txn := &models.Transaction{
			AgreementID: &agreement.ID,
			ContactID:   template.ContactID,
			TotalAmount: agreement.Amount,
			Currency:    agreement.Currency,
			ReceiveDate: dueDate,
			Status:      models.TransactionStatusPending,
			IsTest:      agreement.IsTest,
		}
		if err := tx.CreateTransaction(ctx, txn); err != nil {
			return err
		}
		if err := tx.UpdateTransaction(ctx, txn.ID, map[string]any{
			"invoice_id": InvoiceID(s.cfg.InvoicePrefix, txn.ID, agreement.ID),
		}); err != nil {
			return err
		}
		txnID = txn.ID
		return nil
	})
	return txnID, err
}

// ensureTemplate returns the agreement's template transaction, creating it on
// first use.
func (s *Scheduler) ensureTemplate(ctx context.Context, tx ledger.Store, agreement *models.BillingAgreement) (*models.Transaction, error) {
	template, err := tx.GetTemplateTransaction(ctx, agreement.ID)
	if err == nil {
		return template, nil
	}
	if !errors.Is(err, ledger.ErrNotFound) {
		return nil, err
	}

	template = &models.Transaction{
		AgreementID: &agreement.ID,
		ContactID:   agreement.ContactID,
		TotalAmount: agreement.Amount,
		Currency:    agreement.Currency,
		ReceiveDate: agreement.NextDueDate,
		Status:      models.TransactionStatusTemplate,
		InvoiceID:   TemplateInvoiceID(s.cfg.InvoicePrefix, agreement.ID),
		IsTest:      agreement.IsTest,
	}
	if err := tx.CreateTransaction(ctx, template); err != nil {
		return nil, err
	}
	return template, nil
}

// processPending charges one pending transaction and records the result. The
// gateway call deliberately happens outside any DB transaction; only the
// result is written transactionally. A transport error leaves the transaction
// pending for the next cycle and does not touch the failure count, since the
// charge outcome is unknown.
func (s *Scheduler) processPending(ctx context.Context, txn *models.Transaction) (bool, error) {
	if txn.AgreementID == nil {
		return false, fmt.Errorf("pending transaction %d has no agreement", txn.ID)
	}
	agreement, err := s.store.GetAgreement(ctx, *txn.AgreementID)
	if err != nil {
		return false, fmt.Errorf("loading agreement %d: %w", *txn.AgreementID, err)
	}
	token, err := s.store.GetPaymentToken(ctx, agreement.PaymentTokenID)
	if err != nil {
		return false, fmt.Errorf("loading payment token %d: %w", agreement.PaymentTokenID, err)
	}

	result, err := s.gateway.Charge(ctx, gateway.ChargeRequest{
		MerchantReference: txn.InvoiceID,
		ShopperReference:  agreement.ShopperReference,
		StoredMethodToken: token.Token,
		Currency:          txn.Currency,
		AmountMinor:       int64(math.Round(txn.TotalAmount * 100)),
	})
	if err != nil {
		return false, fmt.Errorf("charging transaction %d: %w", txn.ID, err)
	}

	if result.Success {
		log.Infof("[Scheduler] transaction %d charged, psp reference %s", txn.ID, result.PspReference)
		return true, s.recordSuccess(ctx, txn, agreement, result)
	}
	log.Warnf("[Scheduler] transaction %d refused: %s (%s)", txn.ID, result.ResultCode, result.RefusalReason)
	return false, s.recordFailure(ctx, txn, agreement)
}

func (s *Scheduler) recordSuccess(ctx context.Context, txn *models.Transaction, agreement *models.BillingAgreement, result *gateway.ChargeResult) error {
	return s.store.RunInTransaction(ctx, func(tx ledger.Store) error {
		if err := tx.UpdateTransaction(ctx, txn.ID, map[string]any{
			"status":  models.TransactionStatusCompleted,
			"trxn_id": result.PspReference,
		}); err != nil {
			return err
		}
		return tx.UpdateAgreement(ctx, agreement.ID, map[string]any{
			"status":             models.AgreementStatusInProgress,
			"failure_count":      0,
			"failure_retry_date": nil,
		})
	})
}

// recordFailure marks the transaction failed and applies the retry policy.
// The policy is evaluated with the failure count before this failure, so the
// first entry governs the first failure.
func (s *Scheduler) recordFailure(ctx context.Context, txn *models.Transaction, agreement *models.BillingAgreement) error {
	action, err := EvaluateRetryPolicy(s.cfg.RetryPolicy, agreement.FailureCount)
	if err != nil {
		return fmt.Errorf("evaluating retry policy: %w", err)
	}
	now := s.Now()

	updates := map[string]any{
		"failure_count": agreement.FailureCount + 1,
	}
	switch action.Kind {
	case RetryKindRetryAfter:
		updates["status"] = models.AgreementStatusFailing
		updates["failure_retry_date"] = now.Add(action.Delay)
	case RetryKindSkip:
		updates["status"] = models.AgreementStatusOverdue
		updates["failure_retry_date"] = nil
	case RetryKindFail:
		updates["status"] = models.AgreementStatusFailed
		updates["failure_retry_date"] = nil
		updates["cancel_date"] = now
	default:
		return fmt.Errorf("unknown retry action %q", action.Kind)
	}

	return s.store.RunInTransaction(ctx, func(tx ledger.Store) error {
		if err := tx.UpdateTransaction(ctx, txn.ID, map[string]any{
			"status": models.TransactionStatusFailed,
		}); err != nil {
			return err
		}
		return tx.UpdateAgreement(ctx, agreement.ID, updates)
	})
}
