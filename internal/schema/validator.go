package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"net/mail"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/veridoc/veridoc-api/internal/models"
)

// StreamPolicy decides what json_valid means for record-stream output when
// only some lines parse. The source behavior is ambiguous, so the rule is
// explicit and configurable; any-line is the default.
type StreamPolicy string

const (
	// StreamPolicyAnyLine: json_valid when at least one line parsed.
	StreamPolicyAnyLine StreamPolicy = "any-line"
	// StreamPolicyAllLines: json_valid only when every non-blank line parsed.
	StreamPolicyAllLines StreamPolicy = "all-lines"
)

func ParsePolicy(raw string) StreamPolicy {
	if StreamPolicy(raw) == StreamPolicyAllLines {
		return StreamPolicyAllLines
	}
	return StreamPolicyAnyLine
}

// Validator checks a raw model response against a JSON Schema document in
// three cumulative levels: syntax, required attributes, formats. It holds
// no state beyond the stream policy.
type Validator struct {
	policy StreamPolicy
}

func NewValidator(policy StreamPolicy) *Validator {
	return &Validator{policy: policy}
}

// Result carries the three level verdicts, the structured error detail,
// and the normalized payload (one object, or an array of records for
// record-stream output).
type Result struct {
	JSONValid       bool
	AttributesValid bool
	FormatsValid    bool
	Detail          models.ValidationDetail
	Payload         json.RawMessage
}

func (v *Validator) Validate(raw string, schemaDoc json.RawMessage, shape models.OutputShape) Result {
	var res Result

	values := v.parseLevel(raw, shape, &res)
	if len(values) == 0 {
		// Nothing parsed: levels 2 and 3 are skipped entirely.
		return res
	}

	root, err := parseSchema(schemaDoc)
	if err != nil {
		res.Detail.SyntaxErrors = append(res.Detail.SyntaxErrors,
			fmt.Sprintf("validation schema is not valid JSON Schema: %v", err))
		return res
	}

	for _, value := range values {
		checkRequired(root, value, "", &res.Detail.MissingAttributes)
	}
	res.AttributesValid = res.JSONValid && len(res.Detail.MissingAttributes) == 0

	// Level 3 runs against present attributes only; absent required paths
	// were already recorded at level 2 and do not double as format errors.
	for _, value := range values {
		checkFormats(root, value, "", &res.Detail)
	}
	res.FormatsValid = res.AttributesValid &&
		len(res.Detail.TypeMismatches) == 0 &&
		len(res.Detail.FormatViolations) == 0

	return res
}

// parseLevel runs level 1 and returns every value that parsed.
func (v *Validator) parseLevel(raw string, shape models.OutputShape, res *Result) []any {
	cleaned := stripCodeFence(raw)

	if shape == models.ShapeSingleObject {
		var value any
		if err := json.Unmarshal([]byte(cleaned), &value); err != nil {
			res.Detail.SyntaxErrors = append(res.Detail.SyntaxErrors,
				fmt.Sprintf("response is not valid JSON: %v", err))
			return nil
		}
		res.JSONValid = true
		res.Payload, _ = json.Marshal(value)
		return []any{value}
	}

	// record-stream: every newline-delimited line parses independently;
	// a bad line is a syntax error for that line only.
	var (
		values []any
		failed int
	)
	for i, line := range strings.Split(cleaned, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var value any
		if err := json.Unmarshal([]byte(line), &value); err != nil {
			failed++
			res.Detail.SyntaxErrors = append(res.Detail.SyntaxErrors,
				fmt.Sprintf("line %d is not valid JSON: %v", i+1, err))
			continue
		}
		values = append(values, value)
	}

	switch v.policy {
	case StreamPolicyAllLines:
		res.JSONValid = len(values) > 0 && failed == 0
	default:
		res.JSONValid = len(values) > 0
	}
	if len(values) > 0 {
		res.Payload, _ = json.Marshal(values)
	}
	return values
}

// stripCodeFence removes a surrounding markdown code fence, which models
// add despite instructions not to.
func stripCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if idx := strings.Index(s, "\n"); idx >= 0 {
		s = s[idx+1:]
	} else {
		return s
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// node is the subset of JSON Schema this validator evaluates.
type node struct {
	Type       any              `json:"type"`
	Properties map[string]*node `json:"properties"`
	Items      *node            `json:"items"`
	Required   []string         `json:"required"`
	Enum       []any            `json:"enum"`
	Format     string           `json:"format"`
	Pattern    string           `json:"pattern"`
	Minimum    *float64         `json:"minimum"`
	Maximum    *float64         `json:"maximum"`
	MinLength  *int             `json:"minLength"`
	MaxLength  *int             `json:"maxLength"`
}

func parseSchema(doc json.RawMessage) (*node, error) {
	var root node
	if err := json.Unmarshal(doc, &root); err != nil {
		return nil, err
	}
	return &root, nil
}

// checkRequired walks the schema's required lists recursively and records
// every absent required path, regardless of the types of present values.
// An absent object is reported once; its descendants are not enumerated.
func checkRequired(n *node, value any, path string, missing *[]string) {
	if n == nil {
		return
	}

	if obj, ok := value.(map[string]any); ok {
		for _, name := range n.Required {
			if _, present := obj[name]; !present {
				*missing = append(*missing, joinPath(path, name))
			}
		}
		for name, sub := range n.Properties {
			if child, present := obj[name]; present {
				checkRequired(sub, child, joinPath(path, name), missing)
			}
		}
		return
	}

	if arr, ok := value.([]any); ok && n.Items != nil {
		// Elements share the schema path so failures aggregate per field,
		// not per index.
		for _, elem := range arr {
			checkRequired(n.Items, elem, path, missing)
		}
	}
}

// checkFormats runs level 3 over attributes that are present: types, enums,
// string formats, patterns, and numeric/length ranges.
func checkFormats(n *node, value any, path string, detail *models.ValidationDetail) {
	if n == nil {
		return
	}

	if n.Type != nil {
		actual := jsonTypeOf(value)
		if !typeMatches(n.Type, value, actual) {
			detail.TypeMismatches = append(detail.TypeMismatches, models.FieldViolation{
				Path:    path,
				Message: fmt.Sprintf("expected %s, got %s", describeType(n.Type), actual),
				Keyword: "type",
			})
			return
		}
	}

	if len(n.Enum) > 0 && !enumContains(n.Enum, value) {
		detail.FormatViolations = append(detail.FormatViolations, models.FieldViolation{
			Path:    path,
			Message: fmt.Sprintf("value %v is not one of the allowed values", value),
			Keyword: "enum",
		})
	}

	switch typed := value.(type) {
	case string:
		checkString(n, typed, path, detail)
	case float64:
		checkNumber(n, typed, path, detail)
	case map[string]any:
		for name, sub := range n.Properties {
			if child, present := typed[name]; present {
				checkFormats(sub, child, joinPath(path, name), detail)
			}
		}
	case []any:
		if n.Items != nil {
			for i, elem := range typed {
				checkElementFormats(n.Items, elem, path, i, detail)
			}
		}
	}
}

// checkElementFormats validates one array element. The schema path stays
// stable; the element index only appears in messages.
func checkElementFormats(n *node, value any, path string, index int, detail *models.ValidationDetail) {
	var elemDetail models.ValidationDetail
	checkFormats(n, value, path, &elemDetail)
	for _, v := range elemDetail.TypeMismatches {
		v.Message = fmt.Sprintf("element %d: %s", index, v.Message)
		detail.TypeMismatches = append(detail.TypeMismatches, v)
	}
	for _, v := range elemDetail.FormatViolations {
		v.Message = fmt.Sprintf("element %d: %s", index, v.Message)
		detail.FormatViolations = append(detail.FormatViolations, v)
	}
}

func checkString(n *node, value, path string, detail *models.ValidationDetail) {
	violate := func(keyword, message string) {
		detail.FormatViolations = append(detail.FormatViolations, models.FieldViolation{
			Path:    path,
			Message: message,
			Keyword: keyword,
		})
	}

	switch n.Format {
	case "date":
		if _, err := time.Parse("2006-01-02", value); err != nil {
			violate("format", fmt.Sprintf("%q is not an ISO-8601 date (YYYY-MM-DD)", value))
		}
	case "date-time":
		if _, err := time.Parse(time.RFC3339, value); err != nil {
			violate("format", fmt.Sprintf("%q is not an RFC 3339 date-time", value))
		}
	case "email":
		if _, err := mail.ParseAddress(value); err != nil {
			violate("format", fmt.Sprintf("%q is not a valid email address", value))
		}
	case "uri":
		if u, err := url.Parse(value); err != nil || u.Scheme == "" {
			violate("format", fmt.Sprintf("%q is not a valid URI", value))
		}
	}

	if n.Pattern != "" {
		if re, err := regexp.Compile(n.Pattern); err == nil && !re.MatchString(value) {
			violate("pattern", fmt.Sprintf("%q does not match pattern %q", value, n.Pattern))
		}
	}
	if n.MinLength != nil && len([]rune(value)) < *n.MinLength {
		violate("minLength", fmt.Sprintf("string is shorter than %d characters", *n.MinLength))
	}
	if n.MaxLength != nil && len([]rune(value)) > *n.MaxLength {
		violate("maxLength", fmt.Sprintf("string is longer than %d characters", *n.MaxLength))
	}
}

func checkNumber(n *node, value float64, path string, detail *models.ValidationDetail) {
	violate := func(keyword, message string) {
		detail.FormatViolations = append(detail.FormatViolations, models.FieldViolation{
			Path:    path,
			Message: message,
			Keyword: keyword,
		})
	}
	if n.Minimum != nil && value < *n.Minimum {
		violate("minimum", fmt.Sprintf("%v is below the minimum %v", value, *n.Minimum))
	}
	if n.Maximum != nil && value > *n.Maximum {
		violate("maximum", fmt.Sprintf("%v is above the maximum %v", value, *n.Maximum))
	}
}

func jsonTypeOf(value any) string {
	switch typed := value.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case float64:
		if typed == math.Trunc(typed) {
			return "integer"
		}
		return "number"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	default:
		return fmt.Sprintf("%T", value)
	}
}

func typeMatches(expected any, value any, actual string) bool {
	switch typed := expected.(type) {
	case string:
		return singleTypeMatches(typed, value, actual)
	case []any:
		for _, entry := range typed {
			if name, ok := entry.(string); ok && singleTypeMatches(name, value, actual) {
				return true
			}
		}
	}
	return false
}

func singleTypeMatches(expected string, value any, actual string) bool {
	if expected == actual {
		return true
	}
	// An integral number satisfies "number"; a whole float satisfies
	// "integer" already via jsonTypeOf.
	if expected == "number" {
		_, ok := value.(float64)
		return ok
	}
	return false
}

func enumContains(enum []any, value any) bool {
	for _, allowed := range enum {
		if deepEqual(allowed, value) {
			return true
		}
	}
	return false
}

func deepEqual(a, b any) bool {
	ab, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return string(ab) == string(bb)
}

func describeType(expected any) string {
	switch typed := expected.(type) {
	case string:
		return typed
	case []any:
		parts := make([]string, 0, len(typed))
		for _, entry := range typed {
			parts = append(parts, fmt.Sprint(entry))
		}
		return strings.Join(parts, " or ")
	default:
		return fmt.Sprint(expected)
	}
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}
