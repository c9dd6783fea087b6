package schema

import (
	"fmt"

	"github.com/veridoc/veridoc-api/internal/models"
)

// maxSuggestions caps the guidance list per run.
const maxSuggestions = 5

// Suggestions maps validation errors to prompt-improvement guidance. The
// list is deduplicated, capped, and always opens with provider guidance
// when the completion call itself failed.
func Suggestions(detail models.ValidationDetail, shape models.OutputShape, providerError string) []string {
	var out []string
	seen := make(map[string]struct{})

	add := func(s string) {
		if len(out) >= maxSuggestions {
			return
		}
		if _, dup := seen[s]; dup {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}

	if providerError != "" {
		add(fmt.Sprintf("The provider call failed (%s); verify the model identifier, credentials, and rate limits before re-running the batch.", providerError))
	}

	if len(detail.SyntaxErrors) > 0 {
		if shape == models.ShapeRecordStream {
			add("Instruct the model to emit exactly one JSON object per line with no surrounding prose or code fences.")
		} else {
			add("Instruct the model to respond with a single raw JSON object and no surrounding prose or code fences.")
		}
	}

	for _, path := range detail.MissingAttributes {
		add(fmt.Sprintf("Add an explicit instruction and default-null guidance for field %q to the prompt.", path))
	}
	for _, v := range detail.TypeMismatches {
		add(fmt.Sprintf("State the exact expected type for %q in the prompt.", v.Path))
	}
	for _, v := range detail.FormatViolations {
		add(fmt.Sprintf("Specify the exact expected format for %q in the prompt, e.g. an ISO-8601 date.", v.Path))
	}

	return out
}
