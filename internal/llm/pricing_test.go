package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCostKnownModel(t *testing.T) {
	input, output := Cost("gpt-4o", 1_000_000, 500_000)
	assert.InDelta(t, 2.50, input, 1e-9)
	assert.InDelta(t, 5.00, output, 1e-9)
}

func TestCostDatedVariantUsesLongestPrefix(t *testing.T) {
	input, _ := Cost("gpt-4o-mini-2024-07-18", 1_000_000, 0)
	// Must price as gpt-4o-mini, not the shorter gpt-4o prefix.
	assert.InDelta(t, 0.15, input, 1e-9)
}

func TestCostUnknownModelIsFree(t *testing.T) {
	input, output := Cost("llama3.2", 50_000, 50_000)
	assert.Zero(t, input)
	assert.Zero(t, output)
}
