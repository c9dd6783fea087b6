package llm

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Kind is the taxonomy of provider failures. It prefixes the stored run
// error message and drives the analytics common-error grouping.
type Kind string

const (
	KindAuthentication   Kind = "AuthenticationError"
	KindRateLimit        Kind = "RateLimit"
	KindTimeout          Kind = "Timeout"
	KindInvalidModelName Kind = "InvalidModelName"
	KindModelUnavailable Kind = "ModelUnavailable"
	KindInvalidRequest   Kind = "InvalidRequest"
	KindServerError      Kind = "ServerError"
	KindNetworkError     Kind = "NetworkError"
	KindModelNotFound    Kind = "ModelNotFound"
	KindUnknown          Kind = "Unknown"
)

type classificationRule struct {
	kind       Kind
	statuses   []int
	substrings []string
}

// Ordered most specific first; the first matching rule wins.
var classificationRules = []classificationRule{
	{KindAuthentication, []int{401, 403}, []string{"api key", "unauthorized", "authentication", "permission denied"}},
	{KindRateLimit, []int{429}, []string{"rate limit", "too many requests", "quota"}},
	{KindTimeout, nil, []string{"context deadline exceeded", "timed out", "timeout"}},
	{KindModelNotFound, nil, []string{"model not found", "no such model", "model does not exist"}},
	{KindInvalidModelName, nil, []string{"invalid model", "unknown model", "no provider configured"}},
	{KindModelUnavailable, []int{503, 529}, []string{"overloaded", "temporarily unavailable", "capacity"}},
	{KindInvalidRequest, []int{400, 422}, []string{"invalid request", "bad request", "invalid_request_error"}},
	{KindServerError, []int{500, 502, 504}, []string{"internal server error", "server_error"}},
	{KindNetworkError, nil, []string{"connection refused", "connection reset", "no such host", "dial tcp", "broken pipe", "unexpected eof"}},
}

var statusPattern = regexp.MustCompile(`(?i)status(?: code)?\s*[:=]?\s*(\d{3})`)

// Classify maps a raw provider failure (message text, HTTP-like status)
// onto the taxonomy. A zero status means no status was observed.
func Classify(message string, status int) Kind {
	lowered := strings.ToLower(message)
	for _, rule := range classificationRules {
		for _, s := range rule.statuses {
			if status == s {
				return rule.kind
			}
		}
		for _, sub := range rule.substrings {
			if strings.Contains(lowered, sub) {
				return rule.kind
			}
		}
	}
	return KindUnknown
}

// ClassifyError classifies a transport error, extracting an embedded HTTP
// status from the message when one is present.
func ClassifyError(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	message := err.Error()
	status := 0
	if m := statusPattern.FindStringSubmatch(message); m != nil {
		if parsed, perr := strconv.Atoi(m[1]); perr == nil {
			status = parsed
		}
	}
	return Classify(message, status)
}

// FormatError renders the stored run error message, prefixed with the kind.
func FormatError(err error) string {
	return fmt.Sprintf("%s: %v", ClassifyError(err), err)
}
