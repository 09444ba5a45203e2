package advisor

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

// Recommendation is the structured answer the engine acts on.
type Recommendation struct {
	ShouldExit bool   `json:"should_exit"`
	Reason     string `json:"reason"`
}

const recommendationSchema = `{
	"type": "object",
	"required": ["should_exit", "reason"],
	"properties": {
		"should_exit": {"type": "boolean"},
		"reason": {"type": "string", "minLength": 1}
	}
}`

var compiledSchema = mustCompileSchema(recommendationSchema)

func mustCompileSchema(raw string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("recommendation.json", strings.NewReader(raw)); err != nil {
		panic(err)
	}
	return compiler.MustCompile("recommendation.json")
}

// ParseRecommendation extracts and validates the JSON object from raw model
// output. Models wrap answers in code fences or prose; anything that does
// not validate against the schema is an error, never a default.
func ParseRecommendation(raw string) (Recommendation, error) {
	var rec Recommendation
	payload := extractJSON(raw)
	if payload == "" {
		return rec, fmt.Errorf("no json object in advisor output")
	}
	if !gjson.Valid(payload) {
		return rec, fmt.Errorf("advisor output is not valid json")
	}
	var doc any
	if err := json.Unmarshal([]byte(payload), &doc); err != nil {
		return rec, err
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return rec, fmt.Errorf("advisor output failed validation: %w", err)
	}
	parsed := gjson.Parse(payload)
	rec.ShouldExit = parsed.Get("should_exit").Bool()
	rec.Reason = strings.TrimSpace(parsed.Get("reason").String())
	return rec, nil
}

// extractJSON returns the first top-level {...} object in the text, looking
// inside markdown code fences first.
func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if idx := strings.Index(raw, "```"); idx >= 0 {
		rest := raw[idx+3:]
		rest = strings.TrimPrefix(rest, "json")
		if end := strings.Index(rest, "```"); end >= 0 {
			if obj := firstObject(rest[:end]); obj != "" {
				return obj
			}
		}
	}
	return firstObject(raw)
}

func firstObject(s string) string {
	start := strings.Index(s, "{")
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return strings.TrimSpace(s[start : i+1])
			}
		}
	}
	return ""
}
