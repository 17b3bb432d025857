package billing

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadencepay/cadence/app/models"
	"github.com/cadencepay/cadence/internal/pkg/ledger"
)

func testAccountConfig() *AccountConfig {
	return &AccountConfig{
		APIKey:             "test-api-key",
		MerchantAccount:    testMerchantAcct,
		HMACKeys:           []string{testHMACKey},
		TestMode:           true,
		RetryPolicy:        []string{"skip"},
		UnmatchedBehaviour: UnmatchedBehaviourCreate,
		InvoicePrefix:      "CADENCE",
	}
}

func batchJSON(t *testing.T, items ...*NotificationRequestItem) []byte {
	t.Helper()
	type wrapper struct {
		NotificationRequestItem *NotificationRequestItem `json:"NotificationRequestItem"`
	}
	batch := struct {
		Live              string    `json:"live"`
		NotificationItems []wrapper `json:"notificationItems"`
	}{Live: "false"}
	for _, item := range items {
		batch.NotificationItems = append(batch.NotificationItems, wrapper{NotificationRequestItem: item})
	}
	raw, err := json.Marshal(batch)
	require.NoError(t, err)
	return raw
}

func TestEventTime(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		want  time.Time
		empty bool
	}{
		{name: "rfc3339", raw: "2026-01-15T10:30:00+01:00", want: time.Date(2026, 1, 15, 10, 30, 0, 0, time.FixedZone("", 3600))},
		{name: "space separated", raw: "2026-01-15 10:30:00", want: time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)},
		{name: "empty", raw: "", empty: true},
		{name: "garbage", raw: "not a date", empty: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := &NotificationRequestItem{EventDate: tt.raw}
			got := item.EventTime()
			if tt.empty {
				assert.True(t, got.IsZero())
				return
			}
			assert.True(t, got.Equal(tt.want), "got %s, want %s", got, tt.want)
		})
	}
}

func TestShopperIdentity(t *testing.T) {
	t.Run("structured name wins", func(t *testing.T) {
		item := &NotificationRequestItem{
			ShopperName: &ShopperName{FirstName: "Ada", LastName: "Lovelace"},
			AdditionalData: map[string]string{
				"shopperName":  "[first name=Ignored, infix=null, last name=AlsoIgnored]",
				"shopperEmail": "ada@example.org",
			},
		}
		first, last, email := item.ShopperIdentity()
		assert.Equal(t, "Ada", first)
		assert.Equal(t, "Lovelace", last)
		assert.Equal(t, "ada@example.org", email)
	})

	t.Run("bracketed legacy form", func(t *testing.T) {
		item := &NotificationRequestItem{
			AdditionalData: map[string]string{
				"shopperName": "[first name=Grace, infix=null, last name=Hopper, gender=null]",
			},
		}
		first, last, email := item.ShopperIdentity()
		assert.Equal(t, "Grace", first)
		assert.Equal(t, "Hopper", last)
		assert.Empty(t, email)
	})

	t.Run("null fields come back empty", func(t *testing.T) {
		item := &NotificationRequestItem{
			AdditionalData: map[string]string{
				"shopperName": "[first name=null, infix=null, last name=null]",
			},
		}
		first, last, _ := item.ShopperIdentity()
		assert.Empty(t, first)
		assert.Empty(t, last)
	})

	t.Run("no identity at all", func(t *testing.T) {
		item := &NotificationRequestItem{}
		first, last, email := item.ShopperIdentity()
		assert.Empty(t, first)
		assert.Empty(t, last)
		assert.Empty(t, email)
	})
}

func TestCardMetadata(t *testing.T) {
	t.Run("full metadata", func(t *testing.T) {
		item := &NotificationRequestItem{
			AdditionalData: map[string]string{
				"cardSummary":   "1142",
				"paymentMethod": "visa",
				"expiryDate":    "3/2030",
			},
		}
		masked, expiry, ok := item.CardMetadata()
		require.True(t, ok)
		assert.Equal(t, "visa ... 1142", masked)
		assert.Equal(t, time.Date(2030, 3, 31, 23, 59, 0, 0, time.UTC), expiry)
	})

	t.Run("december rolls into next year correctly", func(t *testing.T) {
		item := &NotificationRequestItem{
			AdditionalData: map[string]string{
				"cardSummary": "0001",
				"expiryDate":  "12/2027",
			},
		}
		_, expiry, ok := item.CardMetadata()
		require.True(t, ok)
		assert.Equal(t, time.Date(2027, 12, 31, 23, 59, 0, 0, time.UTC), expiry)
	})

	t.Run("missing summary", func(t *testing.T) {
		item := &NotificationRequestItem{AdditionalData: map[string]string{"expiryDate": "3/2030"}}
		_, _, ok := item.CardMetadata()
		assert.False(t, ok)
	})

	t.Run("malformed expiry", func(t *testing.T) {
		item := &NotificationRequestItem{
			AdditionalData: map[string]string{"cardSummary": "1142", "expiryDate": "13/2030"},
		}
		_, _, ok := item.CardMetadata()
		assert.False(t, ok)
	})
}

func TestIngest(t *testing.T) {
	ctx := context.Background()

	t.Run("authenticated batch is queued", func(t *testing.T) {
		store := ledger.NewMemoryStore()
		ing := NewIngestor(store, testAccountConfig())

		first := signedItem(t, testHMACKey)
		second := signedItem(t, testHMACKey)

		queued, err := ing.Ingest(ctx, batchJSON(t, first, second))
		require.NoError(t, err)
		assert.Equal(t, 2, queued)

		events := store.WebhookEvents()
		require.Len(t, events, 2)
		assert.Equal(t, models.WebhookStatusNew, events[0].Status)
		assert.Equal(t, EventCodeAuthorisation, events[0].EventCode)
		assert.Equal(t, first.PspReference, events[0].PspReference)

		var stored NotificationRequestItem
		require.NoError(t, json.Unmarshal([]byte(events[0].PayloadJSON), &stored))
		assert.Equal(t, first.MerchantReference, stored.MerchantReference)
	})

	t.Run("foreign merchant account is skipped silently", func(t *testing.T) {
		store := ledger.NewMemoryStore()
		ing := NewIngestor(store, testAccountConfig())

		foreign := &NotificationRequestItem{
			EventCode:           EventCodeAuthorisation,
			Success:             "true",
			PspReference:        "psp-foreign",
			MerchantReference:   "OTHER-cn1-cr1",
			MerchantAccountCode: "SomeoneElse",
			Amount:              EventAmount{Currency: "EUR", Value: 100},
		}
		signature, err := SignItem(foreign, testHMACKey)
		require.NoError(t, err)
		foreign.AdditionalData = map[string]string{"hmacSignature": signature}

		queued, err := ing.Ingest(ctx, batchJSON(t, signedItem(t, testHMACKey), foreign))
		require.NoError(t, err)
		assert.Equal(t, 1, queued)
		assert.Len(t, store.WebhookEvents(), 1)
	})

	t.Run("bad signature aborts the whole batch", func(t *testing.T) {
		store := ledger.NewMemoryStore()
		ing := NewIngestor(store, testAccountConfig())

		bad := signedItem(t, otherHMACKey)

		_, err := ing.Ingest(ctx, batchJSON(t, signedItem(t, testHMACKey), bad))
		assert.ErrorIs(t, err, ErrAuthenticationFailed)
		assert.Empty(t, store.WebhookEvents())
	})

	t.Run("missing signature is a payload error", func(t *testing.T) {
		store := ledger.NewMemoryStore()
		ing := NewIngestor(store, testAccountConfig())

		unsigned := signedItem(t, testHMACKey)
		delete(unsigned.AdditionalData, "hmacSignature")

		_, err := ing.Ingest(ctx, batchJSON(t, unsigned))
		assert.ErrorIs(t, err, ErrInvalidPayload)
	})

	t.Run("malformed JSON", func(t *testing.T) {
		store := ledger.NewMemoryStore()
		ing := NewIngestor(store, testAccountConfig())

		_, err := ing.Ingest(ctx, []byte("{not json"))
		assert.ErrorIs(t, err, ErrInvalidPayload)
	})

	t.Run("empty batch", func(t *testing.T) {
		store := ledger.NewMemoryStore()
		ing := NewIngestor(store, testAccountConfig())

		_, err := ing.Ingest(ctx, []byte(`{"live":"false","notificationItems":[]}`))
		assert.ErrorIs(t, err, ErrInvalidPayload)
	})
}
