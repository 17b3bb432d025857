package gateway

import "context"

// Result codes the gateway reports for a charge attempt. Authorised and
// Received both count as success; anything else is a decline or error and is
// fed into the retry policy.
const (
	ResultCodeAuthorised = "Authorised"
	ResultCodeReceived   = "Received"
	ResultCodeRefused    = "Refused"
	ResultCodeError      = "Error"
)

// ChargeRequest describes one charge against a stored payment method.
// AmountMinor is in the currency's minor unit (cents).
type ChargeRequest struct {
	MerchantReference string
	ShopperReference  string
	StoredMethodToken string
	Currency          string
	AmountMinor       int64
}

// ChargeResult is the structured outcome of a charge call.
type ChargeResult struct {
	Success       bool
	PspReference  string
	ResultCode    string
	RefusalReason string
}

// StoredMethod is one stored payment method held by the gateway for a
// shopper.
type StoredMethod struct {
	ID          string
	Brand       string
	LastFour    string
	ExpiryMonth string
	ExpiryYear  string
	HolderName  string
}

// Client is the payment gateway boundary. The scheduler receives a Client at
// construction; tests supply a scripted fake.
type Client interface {
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	FetchStoredMethods(ctx context.Context, shopperReference string) ([]StoredMethod, error)
}

// IsSuccessCode reports whether a gateway result code indicates a successful
// (settled or at least authorised) charge.
func IsSuccessCode(code string) bool {
	return code == ResultCodeAuthorised || code == ResultCodeReceived
}
