package consensus

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/pkg/errors"
	"github.com/veridoc/veridoc-api/internal/models"
	"github.com/veridoc/veridoc-api/internal/repository"
)

// ErrNotApplicable is returned when fewer than two fully validated runs
// exist for a document, so there is nothing to compare.
var ErrNotApplicable = errors.New("consensus requires at least two fully validated runs")

const agreedThreshold = 0.7

// Engine compares the payloads different models extracted from the same
// document and reports field-level agreement.
type Engine struct {
	batches repository.BatchRepository
	runs    repository.RunRepository
}

func NewEngine(batches repository.BatchRepository, runs repository.RunRepository) *Engine {
	return &Engine{batches: batches, runs: runs}
}

func (e *Engine) ComputeConsensus(ctx context.Context, batchJobID, documentRef string) (models.ConsensusResult, error) {
	if _, err := e.batches.Get(ctx, batchJobID); err != nil {
		return models.ConsensusResult{}, err
	}
	runs, err := e.runs.ListForDocument(ctx, batchJobID, documentRef)
	if err != nil {
		return models.ConsensusResult{}, err
	}
	return Compute(documentRef, runs)
}

type candidate struct {
	run    models.Run
	fields map[string]any
}

// Compute is pure. Only fully validated runs participate; runs whose
// payloads failed validation would poison the agreement rates.
func Compute(documentRef string, runs []models.Run) (models.ConsensusResult, error) {
	var candidates []candidate
	for _, run := range runs {
		if !run.Succeeded() || len(run.Payload) == 0 {
			continue
		}
		var value any
		if err := json.Unmarshal(run.Payload, &value); err != nil {
			continue
		}
		candidates = append(candidates, candidate{run: run, fields: flatten(value)})
	}
	if len(candidates) < 2 {
		return models.ConsensusResult{}, ErrNotApplicable
	}

	total := len(candidates)
	result := models.ConsensusResult{
		DocumentRef: documentRef,
		ModelCount:  total,
	}

	pathSet := make(map[string]struct{})
	for _, c := range candidates {
		for path := range c.fields {
			pathSet[path] = struct{}{}
		}
	}
	paths := make([]string, 0, len(pathSet))
	for path := range pathSet {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	// Plurality values of the agreed fields drive the recommendation.
	agreedValues := make(map[string]string)

	for _, path := range paths {
		type group struct {
			value  any
			models []string
		}
		groups := make(map[string]*group)
		var order []string
		present := 0

		for _, c := range candidates {
			v, ok := c.fields[path]
			if !ok {
				continue
			}
			present++
			key := canonical(v)
			g, seen := groups[key]
			if !seen {
				g = &group{value: v}
				groups[key] = g
				order = append(order, key)
			}
			g.models = append(g.models, c.run.Model)
		}

		// Plurality group, first-seen on ties so the outcome is stable.
		best := groups[order[0]]
		bestKey := order[0]
		for _, key := range order[1:] {
			if len(groups[key].models) > len(best.models) {
				best = groups[key]
				bestKey = key
			}
		}

		agreement := float64(len(best.models)) / float64(total)
		field := models.FieldAgreement{
			Path:      path,
			Agreement: agreement,
			Value:     best.value,
			Models:    append([]string(nil), best.models...),
		}

		switch {
		case present == 1:
			result.UniqueFields = append(result.UniqueFields, field)
		case agreement >= agreedThreshold:
			agreedValues[path] = bestKey
			result.AgreedFields = append(result.AgreedFields, field)
		default:
			result.DisputedFields = append(result.DisputedFields, field)
		}
	}

	result.RecommendedModel, result.RecommendationBasis = recommend(candidates, agreedValues)
	return result, nil
}

// recommend picks the model whose payload matches the most agreed-field
// plurality values, breaking ties by execution speed.
func recommend(candidates []candidate, agreedValues map[string]string) (string, string) {
	bestMatches := -1
	var best []candidate
	for _, c := range candidates {
		matches := 0
		for path, key := range agreedValues {
			if v, ok := c.fields[path]; ok && canonical(v) == key {
				matches++
			}
		}
		switch {
		case matches > bestMatches:
			bestMatches = matches
			best = best[:0]
			best = append(best, c)
		case matches == bestMatches:
			best = append(best, c)
		}
	}

	if len(best) == 1 {
		return best[0].run.Model, models.RecommendationHighestAgreement
	}
	fastest := best[0]
	for _, c := range best[1:] {
		if c.run.ExecutionMS < fastest.run.ExecutionMS {
			fastest = c
		}
	}
	return fastest.run.Model, models.RecommendationFastestValidated
}

// flatten turns a payload into leaf fields keyed by dotted path. Objects
// recurse; record-stream roots index their elements; arrays below the
// root compare as whole values.
func flatten(value any) map[string]any {
	out := make(map[string]any)
	switch typed := value.(type) {
	case map[string]any:
		flattenInto("", typed, out)
	case []any:
		for i, elem := range typed {
			prefix := fmt.Sprintf("[%d]", i)
			if obj, ok := elem.(map[string]any); ok {
				flattenInto(prefix, obj, out)
			} else {
				out[prefix] = elem
			}
		}
	default:
		out["$"] = typed
	}
	return out
}

func flattenInto(prefix string, obj map[string]any, out map[string]any) {
	for key, v := range obj {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		if child, ok := v.(map[string]any); ok {
			flattenInto(path, child, out)
			continue
		}
		out[path] = v
	}
}

// canonical renders a value so equal JSON values compare equal regardless
// of numeric formatting or map ordering.
func canonical(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
