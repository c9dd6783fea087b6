package llm

import (
	"context"
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name    string
		message string
		status  int
		want    Kind
	}{
		{"auth status", "request rejected", 401, KindAuthentication},
		{"auth message", "invalid API key provided", 0, KindAuthentication},
		{"rate limit status", "slow down", 429, KindRateLimit},
		{"rate limit message", "You exceeded your quota", 0, KindRateLimit},
		{"timeout", "request timed out after 120s", 0, KindTimeout},
		{"model not found", "model not found: gpt-9", 0, KindModelNotFound},
		{"invalid model", "unknown model identifier", 0, KindInvalidModelName},
		{"unroutable model", `no provider configured for model "mistral-7b"`, 0, KindInvalidModelName},
		{"overloaded", "the engine is overloaded right now", 529, KindModelUnavailable},
		{"invalid request", "invalid_request_error: missing messages", 400, KindInvalidRequest},
		{"server error", "internal server error", 500, KindServerError},
		{"network", "dial tcp 10.0.0.1:443: connection refused", 0, KindNetworkError},
		{"unknown", "something odd happened", 0, KindUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.message, tc.status))
		})
	}
}

func TestClassifyErrorDeadlineExceeded(t *testing.T) {
	err := fmt.Errorf("completion call: %w", context.DeadlineExceeded)
	assert.Equal(t, KindTimeout, ClassifyError(err))
}

func TestClassifyErrorExtractsEmbeddedStatus(t *testing.T) {
	err := errors.New("provider responded with status code 429")
	assert.Equal(t, KindRateLimit, ClassifyError(err))
}

func TestFormatErrorPrefixesKind(t *testing.T) {
	err := errors.New("rate limit exceeded, retry later")
	assert.Equal(t, "RateLimit: rate limit exceeded, retry later", FormatError(err))
}
