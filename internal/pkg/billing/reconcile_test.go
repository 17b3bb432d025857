package billing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadencepay/cadence/app/models"
	"github.com/cadencepay/cadence/internal/pkg/ledger"
)

func newTestEngine(cfg *AccountConfig) (*Engine, *ledger.MemoryStore) {
	store := ledger.NewMemoryStore()
	engine := NewEngine(store, cfg)
	engine.Now = func() time.Time { return time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC) }
	return engine, store
}

func authItem() *NotificationRequestItem {
	return &NotificationRequestItem{
		EventCode:           EventCodeAuthorisation,
		EventDate:           "2026-06-01T10:00:00+00:00",
		Success:             "true",
		PspReference:        "psp-123",
		MerchantReference:   "CADENCE-cn1-cr1",
		MerchantAccountCode: testMerchantAcct,
		Amount:              EventAmount{Currency: "EUR", Value: 1500},
	}
}

func TestProcessIgnoresUnsupportedEvents(t *testing.T) {
	engine, store := newTestEngine(testAccountConfig())

	item := authItem()
	item.EventCode = "REPORT_AVAILABLE"

	outcome := engine.Process(context.Background(), item)
	assert.Equal(t, OutcomeIgnored, outcome.Status)
	assert.Empty(t, store.Transactions())
}

func TestProcessRejectsIncompleteItems(t *testing.T) {
	engine, _ := newTestEngine(testAccountConfig())

	t.Run("missing merchant reference", func(t *testing.T) {
		item := authItem()
		item.MerchantReference = ""
		outcome := engine.Process(context.Background(), item)
		assert.Equal(t, OutcomeError, outcome.Status)
	})

	t.Run("missing psp reference", func(t *testing.T) {
		item := authItem()
		item.PspReference = ""
		outcome := engine.Process(context.Background(), item)
		assert.Equal(t, OutcomeError, outcome.Status)
	})
}

func TestProcessIgnoresUnsuccessfulAuthorisation(t *testing.T) {
	engine, store := newTestEngine(testAccountConfig())

	item := authItem()
	item.Success = "false"

	outcome := engine.Process(context.Background(), item)
	assert.Equal(t, OutcomeIgnored, outcome.Status)
	assert.Empty(t, store.Transactions())
}

func TestProcessCreatesUnmatchedTransaction(t *testing.T) {
	engine, store := newTestEngine(testAccountConfig())

	item := authItem()
	item.ShopperName = &ShopperName{FirstName: "Ada", LastName: "Lovelace"}
	item.AdditionalData = map[string]string{"shopperEmail": "ada@example.org"}

	outcome := engine.Process(context.Background(), item)
	require.Equal(t, OutcomeSuccess, outcome.Status)
	assert.Equal(t, "OK. Created new transaction 1, invoice_id CADENCE-cn1-cr1, trxn_id psp-123.", outcome.Message)

	txns := store.Transactions()
	require.Len(t, txns, 1)
	assert.Equal(t, models.TransactionStatusCompleted, txns[0].Status)
	assert.Equal(t, "CADENCE-cn1-cr1", txns[0].InvoiceID)
	assert.Equal(t, "psp-123", txns[0].TrxnID)
	assert.Equal(t, 15.0, txns[0].TotalAmount)
	assert.Equal(t, "EUR", txns[0].Currency)
	assert.True(t, txns[0].IsTest)
	assert.Equal(t, time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC), txns[0].ReceiveDate.UTC())
}

func TestProcessCreateReusesMatchingContact(t *testing.T) {
	engine, store := newTestEngine(testAccountConfig())

	existing := store.SeedContact(&models.Contact{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.org"})

	item := authItem()
	item.ShopperName = &ShopperName{FirstName: "Ada", LastName: "Lovelace"}
	item.AdditionalData = map[string]string{"shopperEmail": "ada@example.org"}

	outcome := engine.Process(context.Background(), item)
	require.Equal(t, OutcomeSuccess, outcome.Status)

	txns := store.Transactions()
	require.Len(t, txns, 1)
	assert.Equal(t, existing.ID, txns[0].ContactID)
}

func TestProcessUnmatchedRetryBehaviour(t *testing.T) {
	cfg := testAccountConfig()
	cfg.UnmatchedBehaviour = UnmatchedBehaviourRetry
	engine, store := newTestEngine(cfg)

	outcome := engine.Process(context.Background(), authItem())
	assert.Equal(t, OutcomeRetryLater, outcome.Status)
	assert.Empty(t, store.Transactions())
}

func TestProcessMatchesExistingTransaction(t *testing.T) {
	engine, store := newTestEngine(testAccountConfig())

	contact := store.SeedContact(&models.Contact{FirstName: "Ada", LastName: "Lovelace"})
	require.NoError(t, store.CreateTransaction(context.Background(), &models.Transaction{
		ContactID:   contact.ID,
		TotalAmount: 15,
		Currency:    "EUR",
		ReceiveDate: time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC),
		Status:      models.TransactionStatusPending,
		InvoiceID:   "CADENCE-cn1-cr1",
	}))

	outcome := engine.Process(context.Background(), authItem())
	require.Equal(t, OutcomeSuccess, outcome.Status)
	assert.Contains(t, outcome.Message, "OK. Matched existing transaction 1, invoice_id CADENCE-cn1-cr1, trxn_id psp-123.")

	txns := store.Transactions()
	require.Len(t, txns, 1)
	assert.Equal(t, "psp-123", txns[0].TrxnID)
	// Event time precedes the stored receive date, so it moves backward.
	assert.Equal(t, time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC), txns[0].ReceiveDate.UTC())
}

func TestProcessIsIdempotent(t *testing.T) {
	engine, store := newTestEngine(testAccountConfig())

	contact := store.SeedContact(&models.Contact{})
	require.NoError(t, store.CreateTransaction(context.Background(), &models.Transaction{
		ContactID:   contact.ID,
		TotalAmount: 15,
		Currency:    "EUR",
		ReceiveDate: time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC),
		Status:      models.TransactionStatusPending,
		InvoiceID:   "CADENCE-cn1-cr1",
	}))

	first := engine.Process(context.Background(), authItem())
	require.Equal(t, OutcomeSuccess, first.Status)
	after := store.Transactions()

	second := engine.Process(context.Background(), authItem())
	require.Equal(t, OutcomeSuccess, second.Status)
	assert.Equal(t, "OK. Matched existing transaction 1, invoice_id CADENCE-cn1-cr1, trxn_id psp-123.", second.Message)
	assert.Equal(t, after[0].TrxnID, store.Transactions()[0].TrxnID)
	assert.Equal(t, after[0].ReceiveDate, store.Transactions()[0].ReceiveDate)
}

func TestProcessNeverMovesReceiveDateForward(t *testing.T) {
	engine, store := newTestEngine(testAccountConfig())

	contact := store.SeedContact(&models.Contact{})
	earlier := time.Date(2026, 5, 20, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.CreateTransaction(context.Background(), &models.Transaction{
		ContactID:   contact.ID,
		TotalAmount: 15,
		Currency:    "EUR",
		ReceiveDate: earlier,
		Status:      models.TransactionStatusCompleted,
		InvoiceID:   "CADENCE-cn1-cr1",
		TrxnID:      "psp-123",
	}))

	// Event timestamp is after the stored receive date.
	outcome := engine.Process(context.Background(), authItem())
	require.Equal(t, OutcomeSuccess, outcome.Status)
	assert.Equal(t, earlier, store.Transactions()[0].ReceiveDate.UTC())
}

func TestProcessUpdatesPaymentToken(t *testing.T) {
	engine, store := newTestEngine(testAccountConfig())

	contact := store.SeedContact(&models.Contact{})
	oldExpiry := time.Date(2027, 1, 31, 23, 59, 0, 0, time.UTC)
	token := store.SeedToken(&models.PaymentToken{
		ContactID:           contact.ID,
		Token:               "stored-method-ref",
		MaskedAccountNumber: "visa ... 0000",
		ExpiryDate:          &oldExpiry,
	})
	agreement := store.SeedAgreement(&models.BillingAgreement{
		ContactID:        contact.ID,
		Amount:           15,
		Currency:         "EUR",
		NextDueDate:      time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
		Status:           models.AgreementStatusInProgress,
		ShopperReference: "shopper-1",
		PaymentTokenID:   token.ID,
	})
	require.NoError(t, store.CreateTransaction(context.Background(), &models.Transaction{
		AgreementID: &agreement.ID,
		ContactID:   contact.ID,
		TotalAmount: 15,
		Currency:    "EUR",
		ReceiveDate: time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC),
		Status:      models.TransactionStatusCompleted,
		InvoiceID:   "CADENCE-cn1-cr1",
		TrxnID:      "psp-123",
	}))

	item := authItem()
	item.AdditionalData = map[string]string{
		"cardSummary":   "1142",
		"paymentMethod": "visa",
		"expiryDate":    "3/2030",
	}

	outcome := engine.Process(context.Background(), item)
	require.Equal(t, OutcomeSuccess, outcome.Status)
	assert.Contains(t, outcome.Message, "Updated payment token details.")

	updated, err := store.GetPaymentToken(context.Background(), token.ID)
	require.NoError(t, err)
	assert.Equal(t, "visa ... 1142", updated.MaskedAccountNumber)
	require.NotNil(t, updated.ExpiryDate)
	assert.Equal(t, time.Date(2030, 3, 31, 23, 59, 0, 0, time.UTC), updated.ExpiryDate.UTC())

	// Same event again changes nothing.
	again := engine.Process(context.Background(), item)
	require.Equal(t, OutcomeSuccess, again.Status)
	assert.NotContains(t, again.Message, "Updated payment token details.")
}

func TestProcessLeavesMatchingTokenAlone(t *testing.T) {
	engine, store := newTestEngine(testAccountConfig())

	contact := store.SeedContact(&models.Contact{})
	expiry := time.Date(2030, 3, 31, 23, 59, 0, 0, time.UTC)
	token := store.SeedToken(&models.PaymentToken{
		ContactID:           contact.ID,
		Token:               "stored-method-ref",
		MaskedAccountNumber: "visa ... 1142",
		ExpiryDate:          &expiry,
	})
	agreement := store.SeedAgreement(&models.BillingAgreement{
		ContactID:      contact.ID,
		Amount:         15,
		Currency:       "EUR",
		NextDueDate:    time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
		Status:         models.AgreementStatusInProgress,
		PaymentTokenID: token.ID,
	})
	require.NoError(t, store.CreateTransaction(context.Background(), &models.Transaction{
		AgreementID: &agreement.ID,
		ContactID:   contact.ID,
		TotalAmount: 15,
		Currency:    "EUR",
		ReceiveDate: time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC),
		Status:      models.TransactionStatusCompleted,
		InvoiceID:   "CADENCE-cn1-cr1",
		TrxnID:      "psp-123",
	}))

	item := authItem()
	item.AdditionalData = map[string]string{
		"cardSummary":   "1142",
		"paymentMethod": "visa",
		"expiryDate":    "3/2030",
	}

	outcome := engine.Process(context.Background(), item)
	require.Equal(t, OutcomeSuccess, outcome.Status)
	assert.NotContains(t, outcome.Message, "Updated payment token details.")
}
