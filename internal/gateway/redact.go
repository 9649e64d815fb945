package gateway

import (
	"regexp"
	"strings"
)

// Redactor masks PII-like fields in tool output (spec.md §4.9.4),
// grounded on original_source/packages/mcp_security/redactor.py:
// regex-based string scrubbing plus field-name-based dict scrubbing,
// translated to Go's encoding/json's map[string]any representation.
type Redactor struct {
	patterns       []*regexp.Regexp
	replacements   []string
	sensitiveField map[string]bool
	partialField   map[string]int // field name (lowercase) -> chars to keep
}

func NewRedactor() *Redactor {
	return &Redactor{
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\b(DU|U)(\d{4})(\d{2})\b`),
			regexp.MustCompile(`\b(\d{4})-(\d{4})-(\d{4})-(\d{4})\b`),
			regexp.MustCompile(`\b(\d{3})-(\d{2})-(\d{4})\b`),
		},
		replacements: []string{
			"${1}****${3}",
			"****-****-****-${4}",
			"***-**-${3}",
		},
		sensitiveField: map[string]bool{
			"password": true, "secret": true, "api_key": true,
			"access_token": true, "refresh_token": true, "private_key": true,
			"ssn": true, "tax_id": true, "token": true, "token_id": true,
		},
		partialField: map[string]int{
			"account_id": 2, "broker_order_id": 4, "proposal_id": 8,
		},
	}
}

// Redact returns a redacted copy of v. Supported shapes mirror what a
// gateway response tree actually contains: maps, slices, strings and
// primitives (spec.md §4.9.4).
func (r *Redactor) Redact(v any) any {
	switch t := v.(type) {
	case string:
		return r.redactString(t)
	case map[string]any:
		return r.redactMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = r.Redact(item)
		}
		return out
	default:
		return v
	}
}

func (r *Redactor) redactString(s string) string {
	for i, pat := range r.patterns {
		s = pat.ReplaceAllString(s, r.replacements[i])
	}
	return s
}

func (r *Redactor) redactMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		lower := strings.ToLower(k)
		if r.sensitiveField[lower] {
			out[k] = "***REDACTED***"
			continue
		}
		if keep, ok := r.partialField[lower]; ok {
			if s, ok := v.(string); ok {
				out[k] = maskKeepingSuffix(s, keep)
				continue
			}
		}
		out[k] = r.Redact(v)
	}
	return out
}

func maskKeepingSuffix(s string, keep int) string {
	if len(s) <= keep {
		return s
	}
	return strings.Repeat("*", len(s)-keep) + s[len(s)-keep:]
}
