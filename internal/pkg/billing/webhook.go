package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/cadencepay/cadence/app/models"
	"github.com/cadencepay/cadence/internal/pkg/ledger"
)

// Event codes we act on. Anything else is queued-then-ignored territory, but
// unsupported codes are filtered to Ignored by the engine, not by ingestion.
const EventCodeAuthorisation = "AUTHORISATION"

// Ingestion failure classes. Both abort the whole batch with nothing queued;
// the controller maps them to a client-visible error response.
var (
	ErrInvalidPayload       = errors.New("invalid notification payload")
	ErrAuthenticationFailed = errors.New("notification authentication failed")
)

// EventAmount is the money block of a notification item.
type EventAmount struct {
	Currency string `json:"currency"`
	Value    int64  `json:"value"`
}

// ShopperName is the structured shopper identity some events carry.
type ShopperName struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// NotificationRequestItem is one event inside a webhook batch. Success is a
// string ("true"/"false") on the wire. AdditionalData carries the HMAC
// signature plus optional shopper identity and card metadata.
type NotificationRequestItem struct {
	EventCode           string            `json:"eventCode"`
	EventDate           string            `json:"eventDate"`
	Success             string            `json:"success"`
	PspReference        string            `json:"pspReference"`
	OriginalReference   string            `json:"originalReference"`
	MerchantReference   string            `json:"merchantReference"`
	MerchantAccountCode string            `json:"merchantAccountCode"`
	Amount              EventAmount       `json:"amount"`
	ShopperName         *ShopperName      `json:"shopperName,omitempty"`
	AdditionalData      map[string]string `json:"additionalData,omitempty"`
}

// IsSuccess reports the event's own success flag.
func (item *NotificationRequestItem) IsSuccess() bool {
	return strings.EqualFold(item.Success, "true")
}

// EventTime parses the event timestamp; the zero time is returned when it is
// absent or malformed.
func (item *NotificationRequestItem) EventTime() time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05-07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, item.EventDate); err == nil {
			return t
		}
	}
	return time.Time{}
}

var (
	bracketFirstName = regexp.MustCompile(`\[first name=([^,\]]*)`)
	bracketLastName  = regexp.MustCompile(`last name=([^,\]]*)`)
)

// ShopperIdentity extracts the shopper's name and email. The structured
// shopperName block wins; otherwise the legacy bracketed text form in
// additionalData ("[first name=X, infix=null, last name=Y, ...]") is parsed
// best-effort. Absent or malformed name data comes back empty, never an
// error.
func (item *NotificationRequestItem) ShopperIdentity() (firstName, lastName, email string) {
	email = strings.TrimSpace(item.AdditionalData["shopperEmail"])

	if item.ShopperName != nil {
		return strings.TrimSpace(item.ShopperName.FirstName), strings.TrimSpace(item.ShopperName.LastName), email
	}

	raw := item.AdditionalData["shopperName"]
	if m := bracketFirstName.FindStringSubmatch(raw); m != nil {
		firstName = cleanNameField(m[1])
	}
	if m := bracketLastName.FindStringSubmatch(raw); m != nil {
		lastName = cleanNameField(m[1])
	}
	return firstName, lastName, email
}

func cleanNameField(v string) string {
	v = strings.TrimSpace(v)
	if strings.EqualFold(v, "null") {
		return ""
	}
	return v
}

// CardMetadata returns the refreshed card details an authorisation event may
// carry: a masked account number built from the payment method and card
// summary, and the expiry as the last minute of the stated month. ok is
// false when the event has no card metadata.
func (item *NotificationRequestItem) CardMetadata() (masked string, expiry time.Time, ok bool) {
	summary := strings.TrimSpace(item.AdditionalData["cardSummary"])
	method := strings.TrimSpace(item.AdditionalData["paymentMethod"])
	rawExpiry := strings.TrimSpace(item.AdditionalData["expiryDate"])
	if summary == "" || rawExpiry == "" {
		return "", time.Time{}, false
	}

	parts := strings.Split(rawExpiry, "/")
	if len(parts) != 2 {
		return "", time.Time{}, false
	}
	month, merr := strconv.Atoi(parts[0])
	year, yerr := strconv.Atoi(parts[1])
	if merr != nil || yerr != nil || month < 1 || month > 12 {
		return "", time.Time{}, false
	}

	if method == "" {
		method = "card"
	}
	masked = fmt.Sprintf("%s ... %s", method, summary)
	// Last minute of the expiry month.
	expiry = time.Date(year, time.Month(month)+1, 1, 0, 0, 0, 0, time.UTC).Add(-time.Minute)
	return masked, expiry, true
}

type webhookBatch struct {
	Live              string `json:"live"`
	NotificationItems []struct {
		NotificationRequestItem NotificationRequestItem `json:"NotificationRequestItem"`
	} `json:"notificationItems"`
}

// Ingestor authenticates inbound webhook batches and queues their events for
// asynchronous reconciliation.
type Ingestor struct {
	store ledger.Store
	cfg   *AccountConfig
}

// NewIngestor builds an ingestor over the given store and account config.
func NewIngestor(store ledger.Store, cfg *AccountConfig) *Ingestor {
	return &Ingestor{store: store, cfg: cfg}
}

// Ingest parses and authenticates one batch and persists the accepted items
// as queue records with status new, returning how many were queued. Items
// for another merchant account are skipped silently. Any structural or
// authentication failure aborts the whole batch; nothing is queued.
func (ing *Ingestor) Ingest(ctx context.Context, rawBody []byte) (int, error) {
	if len(ing.cfg.HMACKeys) == 0 {
		return 0, errors.New("no HMAC keys configured")
	}

	var batch webhookBatch
	if err := json.Unmarshal(rawBody, &batch); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if len(batch.NotificationItems) == 0 {
		return 0, fmt.Errorf("%w: notificationItems is empty", ErrInvalidPayload)
	}

	var records []models.WebhookEvent
	for i := range batch.NotificationItems {
		item := batch.NotificationItems[i].NotificationRequestItem
		if item.AdditionalData["hmacSignature"] == "" {
			return 0, fmt.Errorf("%w: no HMAC signature provided", ErrInvalidPayload)
		}
		if !VerifyItemHMAC(&item, ing.cfg.HMACKeys) {
			return 0, fmt.Errorf("%w: HMAC verification failed", ErrAuthenticationFailed)
		}
		if item.MerchantAccountCode != ing.cfg.MerchantAccount {
			// Multi-tenant noise, not an error.
			log.Debugf("[Webhook] merchantAccountCode %s does not match configured account, skipping", item.MerchantAccountCode)
			continue
		}

		payload, err := json.Marshal(item)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		eventID := item.EventDate
		if eventID == "" {
			eventID = uuid.New().String()
		}
		records = append(records, models.WebhookEvent{
			EventCode:    item.EventCode,
			EventID:      eventID,
			PspReference: item.PspReference,
			Status:       models.WebhookStatusNew,
			PayloadJSON:  string(payload),
		})
	}

	if err := ing.store.EnqueueWebhookEvents(ctx, records); err != nil {
		return 0, fmt.Errorf("queueing webhook events: %w", err)
	}
	log.Infof("[Webhook] %d webhook events queued for background processing", len(records))
	return len(records), nil
}
