// Package errfmt provides shared formatting for log-safe message detail.
package errfmt

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// MaxLen caps logged content to prevent unbounded propagation.
const MaxLen = 4096

// truncateUTF8 caps s at max bytes, backtracking to a valid UTF-8 boundary.
func truncateUTF8(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	end := limit
	for end > 0 && !utf8.RuneStart(s[end]) {
		end--
	}
	return s[:end]
}

// Truncate caps a string at MaxLen bytes with UTF-8-safe truncation.
func Truncate(s string) string {
	return truncateUTF8(s, MaxLen)
}

// Summary renders a redacted one-line description of message content:
// field names and encoded sizes, never values. Logged content may hold
// user code and kernel output, which must not leak into logs.
func Summary(content []byte) string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(content, &fields); err != nil || len(fields) == 0 {
		return strconv.Itoa(len(content)) + "B"
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"("+strconv.Itoa(len(fields[k]))+"B)")
	}
	return strings.Join(parts, " ")
}
