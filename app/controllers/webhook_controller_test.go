package controllers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadencepay/cadence/app/controllers"
	"github.com/cadencepay/cadence/app/models"
	"github.com/cadencepay/cadence/internal/pkg/billing"
	"github.com/cadencepay/cadence/internal/pkg/env"
	"github.com/cadencepay/cadence/internal/pkg/gateway"
	"github.com/cadencepay/cadence/internal/pkg/ledger"
	"github.com/cadencepay/cadence/internal/pkg/router"
)

const (
	testHMACKey     = "44782DEF547AAA06C910C43932B1EB0C71FC68D9D0C057550C48EC2ACF6BA056"
	testInternalKey = "internal-test-key"
)

type stubLock struct {
	available bool
}

func (l *stubLock) Acquire(ctx context.Context, timeout time.Duration, wait bool) (bool, error) {
	return l.available, nil
}

func (l *stubLock) Release(ctx context.Context) error { return nil }

func testConfig() *billing.AccountConfig {
	return &billing.AccountConfig{
		APIKey:             "api-key",
		MerchantAccount:    "TestMerchant",
		HMACKeys:           []string{testHMACKey},
		TestMode:           true,
		RetryPolicy:        []string{"skip"},
		UnmatchedBehaviour: billing.UnmatchedBehaviourCreate,
		InvoicePrefix:      "CADENCE",
	}
}

func newTestApp(t *testing.T, cycleLock *stubLock) (*fiber.App, *ledger.MemoryStore) {
	t.Helper()

	oldEnv := env.Env
	env.Env = map[string]string{"INTERNAL_API_KEY": testInternalKey}
	t.Cleanup(func() { env.Env = oldEnv })

	store := ledger.NewMemoryStore()
	cfg := testConfig()
	gw := gateway.NewMockClient()
	gw.ScriptAll(&gateway.ChargeResult{Success: true, PspReference: "psp-1", ResultCode: gateway.ResultCodeAuthorised})

	app := fiber.New()
	router.InstallRouter(app,
		router.NewHttpRouter(controllers.NewWebhookController(billing.NewIngestor(store, cfg))),
		router.NewApiRouter(controllers.NewJobController(billing.NewScheduler(store, gw, cfg, cycleLock))),
	)
	return app, store
}

func signedBatch(t *testing.T) []byte {
	t.Helper()
	item := &billing.NotificationRequestItem{
		EventCode:           billing.EventCodeAuthorisation,
		EventDate:           "2026-06-01T10:00:00+00:00",
		Success:             "true",
		PspReference:        "psp-123",
		MerchantReference:   "CADENCE-cn1-cr1",
		MerchantAccountCode: "TestMerchant",
		Amount:              billing.EventAmount{Currency: "EUR", Value: 1500},
	}
	signature, err := billing.SignItem(item, testHMACKey)
	require.NoError(t, err)
	item.AdditionalData = map[string]string{"hmacSignature": signature}

	raw, err := json.Marshal(map[string]any{
		"live": "false",
		"notificationItems": []map[string]any{
			{"NotificationRequestItem": item},
		},
	})
	require.NoError(t, err)
	return raw
}

func TestHandleAdyenWebhook(t *testing.T) {
	t.Run("authenticated batch is accepted", func(t *testing.T) {
		app, store := newTestApp(t, &stubLock{available: true})

		req := httptest.NewRequest(http.MethodPost, "/webhook/adyen", bytes.NewReader(signedBatch(t)))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, "[accepted]", string(body))

		events := store.WebhookEvents()
		require.Len(t, events, 1)
		assert.Equal(t, models.WebhookStatusNew, events[0].Status)
	})

	t.Run("tampered batch is a server error", func(t *testing.T) {
		app, store := newTestApp(t, &stubLock{available: true})

		raw := bytes.ReplaceAll(signedBatch(t), []byte("1500"), []byte("9999"))
		req := httptest.NewRequest(http.MethodPost, "/webhook/adyen", bytes.NewReader(raw))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

		var body map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.NotEmpty(t, body["error"])
		assert.Empty(t, store.WebhookEvents())
	})

	t.Run("malformed body is a server error", func(t *testing.T) {
		app, _ := newTestApp(t, &stubLock{available: true})

		req := httptest.NewRequest(http.MethodPost, "/webhook/adyen", bytes.NewReader([]byte("{broken")))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

		var body map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.NotEmpty(t, body["error"])
	})
}

func TestHandleRunCycle(t *testing.T) {
	t.Run("requires the internal key", func(t *testing.T) {
		app, _ := newTestApp(t, &stubLock{available: true})

		req := httptest.NewRequest(http.MethodPost, "/api/internal/jobs/run-cycle", nil)
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("rejects a wrong key", func(t *testing.T) {
		app, _ := newTestApp(t, &stubLock{available: true})

		req := httptest.NewRequest(http.MethodPost, "/api/internal/jobs/run-cycle", nil)
		req.Header.Set("X-API-Key", "nope")
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("runs a cycle", func(t *testing.T) {
		app, _ := newTestApp(t, &stubLock{available: true})

		req := httptest.NewRequest(http.MethodPost, "/api/internal/jobs/run-cycle", nil)
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+testInternalKey)
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]int
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, 0, body["agreements_due"])
		assert.Equal(t, 0, body["processed"])
	})

	t.Run("contended lock is a conflict", func(t *testing.T) {
		app, _ := newTestApp(t, &stubLock{available: false})

		req := httptest.NewRequest(http.MethodPost, "/api/internal/jobs/run-cycle", nil)
		req.Header.Set("X-API-Key", testInternalKey)
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})
}

func TestHealthEndpoint(t *testing.T) {
	app, _ := newTestApp(t, &stubLock{available: true})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
