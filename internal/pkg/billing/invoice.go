package billing

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/cadencepay/cadence/internal/pkg/ledger"
)

// InvoiceID builds the merchant reference for a new transaction:
// {prefix}-cn{transactionID}-cr{agreementID}. The transaction's own row ID
// makes the key structurally unique without probing existing keys; this is
// the preferred form.
func InvoiceID(prefix string, transactionID, agreementID uint) string {
	return fmt.Sprintf("%s-cn%d-cr%d", prefix, transactionID, agreementID)
}

// TemplateInvoiceID is the fixed key carried by an agreement's template
// transaction. Templates are never sent to the gateway; the key only keeps
// the invoice-id uniqueness constraint satisfied.
func TemplateInvoiceID(prefix string, agreementID uint) string {
	return fmt.Sprintf("%s-cr%d-template", prefix, agreementID)
}

var legacySuffixPattern = regexp.MustCompile(`-(\d+)$`)

// LegacyInvoiceID builds the date-based merchant reference
// {prefix}-cr{agreementID}-{yyyy-mm-dd}, appending a numeric suffix when
// earlier attempts for the same date already exist. Kept for compatibility
// with references issued before the transaction-ID form: the scan-then-insert
// gap is racy under concurrent execution, so callers needing strict
// uniqueness must use InvoiceID instead.
func LegacyInvoiceID(ctx context.Context, store ledger.Store, prefix string, agreementID uint, date time.Time) (string, error) {
	base := fmt.Sprintf("%s-cr%d-%s", prefix, agreementID, date.Format("2006-01-02"))

	existing, err := store.ListInvoiceIDsWithPrefix(ctx, base)
	if err != nil {
		return "", fmt.Errorf("scanning existing invoice ids: %w", err)
	}
	if len(existing) == 0 {
		return base, nil
	}

	last := existing[len(existing)-1]
	if m := legacySuffixPattern.FindStringSubmatch(last[len(base):]); m != nil {
		n, _ := strconv.Atoi(m[1])
		return fmt.Sprintf("%s-%d", base, n+1), nil
	}
	return base + "-1", nil
}
