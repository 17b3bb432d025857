package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cadencepay/cadence/internal/pkg/env"
)

const (
	defaultTestCheckoutURL = "https://checkout-test.adyen.com/v70"
	liveCheckoutURLFormat  = "https://%s-checkout-live.adyenpayments.com/checkout/v70"
)

// AdyenClient talks to the Adyen checkout API for recurring charges against
// stored payment methods.
type AdyenClient struct {
	APIKey          string
	MerchantAccount string
	CheckoutURL     string

	HTTPClient *http.Client
}

// NewAdyenClientFromEnv builds a client from GATEWAY_* environment keys. In
// live mode GATEWAY_URL_PREFIX selects the merchant-specific endpoint.
func NewAdyenClientFromEnv() *AdyenClient {
	checkoutURL := strings.TrimSpace(env.GetEnv("GATEWAY_CHECKOUT_URL", ""))
	if checkoutURL == "" {
		if env.GetEnv("GATEWAY_TEST_MODE", "true") == "true" {
			checkoutURL = defaultTestCheckoutURL
		} else {
			checkoutURL = fmt.Sprintf(liveCheckoutURLFormat, env.GetEnv("GATEWAY_URL_PREFIX", ""))
		}
	}

	return &AdyenClient{
		APIKey:          strings.TrimSpace(env.GetEnv("GATEWAY_API_KEY", "")),
		MerchantAccount: strings.TrimSpace(env.GetEnv("GATEWAY_MERCHANT_ACCOUNT", "")),
		CheckoutURL:     strings.TrimRight(checkoutURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type adyenAmount struct {
	Currency string `json:"currency"`
	Value    int64  `json:"value"`
}

type adyenPaymentRequest struct {
	Amount                   adyenAmount    `json:"amount"`
	Reference                string         `json:"reference"`
	PaymentMethod            map[string]any `json:"paymentMethod"`
	ShopperInteraction       string         `json:"shopperInteraction"`
	RecurringProcessingModel string         `json:"recurringProcessingModel"`
	MerchantAccount          string         `json:"merchantAccount"`
	ShopperReference         string         `json:"shopperReference"`
}

type adyenPaymentResponse struct {
	ResultCode    string `json:"resultCode"`
	PspReference  string `json:"pspReference"`
	RefusalReason string `json:"refusalReason"`
}

// Charge submits a payment against a stored payment method. A non-2xx HTTP
// status is a transport error; a 2xx with a refusal result code is a normal,
// unsuccessful ChargeResult.
func (c *AdyenClient) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if strings.TrimSpace(c.APIKey) == "" {
		return nil, errors.New("GATEWAY_API_KEY is not configured")
	}
	if strings.TrimSpace(c.MerchantAccount) == "" {
		return nil, errors.New("GATEWAY_MERCHANT_ACCOUNT is not configured")
	}
	if req.MerchantReference == "" || req.StoredMethodToken == "" || req.ShopperReference == "" {
		return nil, errors.New("merchant reference, shopper reference and stored method token are required")
	}

	body := adyenPaymentRequest{
		Amount: adyenAmount{
			Currency: req.Currency,
			Value:    req.AmountMinor,
		},
		Reference: req.MerchantReference,
		PaymentMethod: map[string]any{
			"storedPaymentMethodId": req.StoredMethodToken,
		},
		ShopperInteraction:       "ContAuth",
		RecurringProcessingModel: "Subscription",
		MerchantAccount:          c.MerchantAccount,
		ShopperReference:         req.ShopperReference,
	}

	var out adyenPaymentResponse
	if err := c.post(ctx, "/payments", body, &out); err != nil {
		return nil, err
	}

	return &ChargeResult{
		Success:       IsSuccessCode(out.ResultCode),
		PspReference:  out.PspReference,
		ResultCode:    out.ResultCode,
		RefusalReason: out.RefusalReason,
	}, nil
}

type adyenStoredMethodsResponse struct {
	StoredPaymentMethods []struct {
		ID          string `json:"id"`
		Brand       string `json:"brand"`
		LastFour    string `json:"lastFour"`
		ExpiryMonth string `json:"expiryMonth"`
		ExpiryYear  string `json:"expiryYear"`
		HolderName  string `json:"holderName"`
	} `json:"storedPaymentMethods"`
}

// FetchStoredMethods lists the stored payment methods the gateway holds for a
// shopper reference.
func (c *AdyenClient) FetchStoredMethods(ctx context.Context, shopperReference string) ([]StoredMethod, error) {
	if strings.TrimSpace(shopperReference) == "" {
		return nil, errors.New("shopper reference is required")
	}

	body := map[string]any{
		"merchantAccount":  c.MerchantAccount,
		"shopperReference": shopperReference,
	}
	var out adyenStoredMethodsResponse
	if err := c.post(ctx, "/paymentMethods", body, &out); err != nil {
		return nil, err
	}

	methods := make([]StoredMethod, 0, len(out.StoredPaymentMethods))
	for _, m := range out.StoredPaymentMethods {
		methods = append(methods, StoredMethod{
			ID:          m.ID,
			Brand:       m.Brand,
			LastFour:    m.LastFour,
			ExpiryMonth: m.ExpiryMonth,
			ExpiryYear:  m.ExpiryYear,
			HolderName:  m.HolderName,
		})
	}
	return methods, nil
}

func (c *AdyenClient) post(ctx context.Context, path string, payload any, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.CheckoutURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("gateway call %s failed: status=%d body=%s", path, resp.StatusCode, string(body))
	}
	return json.Unmarshal(body, out)
}
