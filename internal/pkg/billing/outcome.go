package billing

import (
	"fmt"

	"github.com/cadencepay/cadence/app/models"
)

// OutcomeStatus classifies the result of processing one webhook event.
// Ignored is a normal, non-error condition (unsupported type, declined
// authorisation, already-processed event); RetryLater is an expected
// temporary ordering race, not an error.
type OutcomeStatus string

const (
	OutcomeSuccess    OutcomeStatus = "success"
	OutcomeIgnored    OutcomeStatus = "ignored"
	OutcomeRetryLater OutcomeStatus = "retry"
	OutcomeError      OutcomeStatus = "error"
)

// Outcome is the tagged result of reconciliation. Cause is only set for
// errors.
type Outcome struct {
	Status  OutcomeStatus
	Message string
	Cause   error
}

func Successf(format string, args ...any) Outcome {
	return Outcome{Status: OutcomeSuccess, Message: fmt.Sprintf(format, args...)}
}

func Ignoredf(format string, args ...any) Outcome {
	return Outcome{Status: OutcomeIgnored, Message: fmt.Sprintf(format, args...)}
}

func RetryLaterf(format string, args ...any) Outcome {
	return Outcome{Status: OutcomeRetryLater, Message: fmt.Sprintf(format, args...)}
}

func Errorf(cause error, format string, args ...any) Outcome {
	return Outcome{Status: OutcomeError, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// QueueStatus maps an outcome to the webhook queue record status. Ignored
// events are a success from the queue's point of view; retry-later leaves
// the record new so it is consumed again.
func (o Outcome) QueueStatus() string {
	switch o.Status {
	case OutcomeRetryLater:
		return models.WebhookStatusNew
	case OutcomeError:
		return models.WebhookStatusError
	default:
		return models.WebhookStatusSuccess
	}
}
