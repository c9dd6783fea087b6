package models

const (
	// RecommendationHighestAgreement marks a single model matching the
	// plurality on strictly more agreed fields than any other.
	RecommendationHighestAgreement = "highest_agreement"
	// RecommendationFastestValidated marks a tie on agreed-field matches
	// broken by the lowest execution time.
	RecommendationFastestValidated = "fastest_validated"
)

// FieldAgreement is one leaf field's cross-model agreement.
type FieldAgreement struct {
	Path      string   `json:"path"`
	Agreement float64  `json:"agreement"`
	Value     any      `json:"value,omitempty"`
	Models    []string `json:"models,omitempty"`
}

// ConsensusResult is the per-document cross-model agreement view.
// Fields bucket as agreed (>=70% of successful payloads share the
// plurality value), unique (present in exactly one payload), or disputed
// (everything else).
type ConsensusResult struct {
	DocumentRef         string           `json:"document_ref"`
	ModelCount          int              `json:"model_count"`
	AgreedFields        []FieldAgreement `json:"agreed_fields"`
	DisputedFields      []FieldAgreement `json:"disputed_fields"`
	UniqueFields        []FieldAgreement `json:"unique_fields"`
	RecommendedModel    string           `json:"recommended_model"`
	RecommendationBasis string           `json:"recommendation_basis"`
}
