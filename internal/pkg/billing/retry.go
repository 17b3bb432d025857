package billing

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Retry action kinds. The policy table maps consecutive-failure count to one
// of these; what each kind does to the agreement is documented on
// EvaluateRetryPolicy.
const (
	RetryKindRetryAfter = "retry"
	RetryKindSkip       = "skip"
	RetryKindFail       = "fail"
)

// RetryAction is the evaluator's decision for one failure occurrence. Delay
// is only meaningful for RetryKindRetryAfter.
type RetryAction struct {
	Kind  string
	Delay time.Duration
}

// EvaluateRetryPolicy maps a failure occurrence to the next action. The
// policy table is indexed by the failure count before this failure (0-based:
// the first-ever failure reads entry 0). An index past the end of the table
// falls back to skip so an agreement is never silently abandoned.
//
// Applying the action to an agreement:
//
//	retry: failure_retry_date = now+Delay, status failing
//	skip:  failure_retry_date cleared, status overdue (re-evaluated on the
//	       normal due-date cycle)
//	fail:  status failed, cancel_date = now, no further attempts
func EvaluateRetryPolicy(policy []string, failureCountBefore int) (RetryAction, error) {
	if failureCountBefore < 0 {
		return RetryAction{}, fmt.Errorf("failure count must not be negative, got %d", failureCountBefore)
	}
	if failureCountBefore >= len(policy) {
		return RetryAction{Kind: RetryKindSkip}, nil
	}
	return parseRetryPolicyEntry(policy[failureCountBefore])
}

// parseRetryPolicyEntry understands "skip", "fail" and relative offsets of
// the form "+1 day", "+2 weeks", "+12 hours", "+30 minutes" or a plain Go
// duration such as "+36h".
func parseRetryPolicyEntry(entry string) (RetryAction, error) {
	trimmed := strings.TrimSpace(strings.ToLower(entry))
	switch trimmed {
	case RetryKindSkip:
		return RetryAction{Kind: RetryKindSkip}, nil
	case RetryKindFail:
		return RetryAction{Kind: RetryKindFail}, nil
	}

	if !strings.HasPrefix(trimmed, "+") {
		return RetryAction{}, fmt.Errorf("unrecognized retry policy entry %q", entry)
	}
	offset := strings.TrimSpace(strings.TrimPrefix(trimmed, "+"))

	if fields := strings.Fields(offset); len(fields) == 2 {
		n, err := strconv.Atoi(fields[0])
		if err != nil || n <= 0 {
			return RetryAction{}, fmt.Errorf("unrecognized retry policy entry %q", entry)
		}
		var unit time.Duration
		switch strings.TrimSuffix(fields[1], "s") {
		case "minute":
			unit = time.Minute
		case "hour":
			unit = time.Hour
		case "day":
			unit = 24 * time.Hour
		case "week":
			unit = 7 * 24 * time.Hour
		default:
			return RetryAction{}, fmt.Errorf("unrecognized retry policy entry %q", entry)
		}
		return RetryAction{Kind: RetryKindRetryAfter, Delay: time.Duration(n) * unit}, nil
	}

	d, err := time.ParseDuration(offset)
	if err != nil || d <= 0 {
		return RetryAction{}, fmt.Errorf("unrecognized retry policy entry %q", entry)
	}
	return RetryAction{Kind: RetryKindRetryAfter, Delay: d}, nil
}
