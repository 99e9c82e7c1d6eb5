package llm

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// cleanResponse strips markdown code fences and surrounding whitespace from a
// chat response. Models regularly wrap JSON in ```json fences despite
// instructions not to.
func cleanResponse(raw string) string {
	cleaned := strings.TrimSpace(raw)

	if strings.HasPrefix(cleaned, "```json") {
		cleaned = cleaned[len("```json"):]
	} else if strings.HasPrefix(cleaned, "```") {
		cleaned = cleaned[len("```"):]
	}
	cleaned = strings.TrimSuffix(strings.TrimSpace(cleaned), "```")

	return strings.TrimSpace(cleaned)
}

// parseVerdict decodes and validates a judge response.
func parseVerdict(raw string) (*Verdict, error) {
	var v Verdict
	if err := json.Unmarshal([]byte(cleanResponse(raw)), &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if v.Score < 0 || v.Score > 100 {
		return nil, fmt.Errorf("%w: score %d outside [0, 100]", ErrMalformed, v.Score)
	}
	if v.Justification == "" {
		return nil, fmt.Errorf("%w: missing justification", ErrMalformed)
	}
	return &v, nil
}

// parseRevision decodes and validates a thread-revision response.
func parseRevision(raw string) (*ThreadRevision, error) {
	var r ThreadRevision
	if err := json.Unmarshal([]byte(cleanResponse(raw)), &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if r.Title == "" || r.Summary == "" {
		return nil, fmt.Errorf("%w: missing title or summary", ErrMalformed)
	}
	return &r, nil
}
