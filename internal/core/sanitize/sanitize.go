// Package sanitize strips secrets and schema internals from error text and
// detail payloads before they leave the process.
//
// Sanitization only applies in a production profile; internal tooling always
// receives the unmodified input. Every function here is idempotent.
package sanitize

import (
	"regexp"
	"strings"
)

// Redacted replaces any sensitive substring.
const Redacted = "[REDACTED]"

var (
	// Longer alternatives first: RE2 alternation is leftmost-first.
	sensitiveKeywords = regexp.MustCompile(
		`(?i)authorization|credential|password|session|secret|bearer|cookie|token|auth|key`,
	)

	schemaPhrase = regexp.MustCompile(
		`(?i)\b(table|column|constraint|relation|index)\s+("[^"]*"|'[^']*'|[A-Za-z_][A-Za-z0-9_.$]*)`,
	)

	quotedValue = regexp.MustCompile(`"([^"\n]*)"|'([^'\n]*)'`)

	base64Like = regexp.MustCompile(`^[A-Za-z0-9+/_-]{32,}={0,2}$`)
	hexLike    = regexp.MustCompile(`^[0-9a-fA-F]{24,}$`)
)

var secretPrefixes = []string{
	"sk-", "sk_", "pk_", "rk_", "ghp_", "gho_", "ghs_", "xoxb-", "xoxp-", "AKIA", "eyJ",
}

// Keys removed from a details object in production.
var strippedDetailKeys = []string{
	"constraintName", "table", "column", "stack",
	"constraint_name", "table_name", "column_name",
}

// Keys removed from the metadata sub-object in production.
var strippedMetadataKeys = []string{
	"query", "params", "constraint_name", "table_name", "column_name", "cause",
}

// Message redacts sensitive keywords, secret-looking quoted values and schema
// identifiers from text. Outside production it returns text unchanged.
func Message(text string, production bool) string {
	if !production || text == "" {
		return text
	}

	out := schemaPhrase.ReplaceAllString(text, "$1 "+Redacted)
	out = quotedValue.ReplaceAllStringFunc(out, redactQuoted)
	out = sensitiveKeywords.ReplaceAllString(out, Redacted)
	// A redacted keyword glued to a schema word ("keytable x") opens a new
	// word boundary, so schema phrases are matched once more.
	return schemaPhrase.ReplaceAllString(out, "$1 "+Redacted)
}

func redactQuoted(quoted string) string {
	quote := quoted[:1]
	inner := quoted[1 : len(quoted)-1]
	if looksSecret(inner) {
		return quote + Redacted + quote
	}
	return quoted
}

func looksSecret(v string) bool {
	if hexLike.MatchString(v) || base64Like.MatchString(v) {
		return true
	}
	for _, p := range secretPrefixes {
		if strings.HasPrefix(v, p) && len(v) > len(p) {
			return true
		}
	}
	return false
}

// Details returns a production-safe copy of an error details object: schema
// keys and stack traces are removed, query/params are dropped from metadata,
// and every string leaf passes through Message. Outside production the input
// is returned as is.
func Details(details map[string]any, production bool) map[string]any {
	if !production || details == nil {
		return details
	}

	out := make(map[string]any, len(details))
	for k, v := range details {
		out[k] = sanitizeValue(v)
	}
	for _, k := range strippedDetailKeys {
		delete(out, k)
	}

	if meta, ok := out["metadata"].(map[string]any); ok {
		for _, k := range strippedMetadataKeys {
			delete(meta, k)
		}
		if len(meta) == 0 {
			delete(out, "metadata")
		}
	}
	return out
}

func sanitizeValue(v any) any {
	switch t := v.(type) {
	case string:
		return Message(t, true)
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, inner := range t {
			m[k] = sanitizeValue(inner)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, inner := range t {
			s[i] = sanitizeValue(inner)
		}
		return s
	default:
		return v
	}
}
