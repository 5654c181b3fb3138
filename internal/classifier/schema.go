package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var errNoJSONObject = errors.New("no JSON object in model output")

// responseSchema only pins the document shape. Field values are normalised separately
// so a model that drifts from the enum spelling still yields a usable result.
const responseSchema = `{
  "type": "object",
  "properties": {
    "category": {"type": ["string", "null"]},
    "intent": {"type": ["string", "null"]},
    "sentiment": {"type": ["string", "null"]},
    "service_detail": {"type": ["string", "null"]},
    "customer_need": {"type": ["string", "null"]},
    "confidence": {"type": ["number", "string", "null"]}
  }
}`

var compiledResponseSchema = jsonschema.MustCompileString("classification.json", responseSchema)

// parseResponse pulls the first JSON object out of raw model text and checks its shape.
func parseResponse(raw string) (map[string]any, error) {
	candidate := extractJSON(raw)
	if candidate == "" {
		return nil, errNoJSONObject
	}
	var doc any
	if err := json.Unmarshal([]byte(candidate), &doc); err != nil {
		return nil, fmt.Errorf("decode model output: %w", err)
	}
	if err := compiledResponseSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("model output does not match schema: %w", err)
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, errNoJSONObject
	}
	return obj, nil
}

// extractJSON strips markdown fences and returns the first balanced {...} span.
// Braces inside string literals are skipped.
func extractJSON(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	for _, fence := range []string{"```json", "```JSON", "```"} {
		s = strings.ReplaceAll(s, fence, "")
	}

	start := strings.Index(s, "{")
	if start == -1 {
		return ""
	}

	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
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
