package llm

import "strings"

// knownContextWindows maps model name prefixes to their context window size
// in tokens. Entries are checked longest-prefix-first via ContextSize.
var knownContextWindows = map[string]int{
	"claude-3-7-sonnet":  200_000,
	"claude-3-5-sonnet":  200_000,
	"claude-3-5-haiku":   200_000,
	"claude-opus-4":      200_000,
	"claude-sonnet-4":    200_000,
	"gpt-4.1":            1_047_576,
	"gpt-4o":             128_000,
	"o3":                 200_000,
	"o4-mini":            200_000,
	"gemini-2.0-flash":   1_048_576,
	"gemini-2.5-pro":     1_048_576,
	"gemini-1.5-flash":   1_048_576,
	"gemini-1.5-pro":     2_097_152,
}

// ContextSize returns the known context window for model, matching on the
// longest known prefix. ok is false when no entry matches.
func ContextSize(model string) (size int, ok bool) {
	model = strings.ToLower(strings.TrimSpace(model))
	if model == "" {
		return 0, false
	}
	bestLen := 0
	for prefix, sz := range knownContextWindows {
		if strings.HasPrefix(model, prefix) && len(prefix) > bestLen {
			size, ok = sz, true
			bestLen = len(prefix)
		}
	}
	return size, ok
}
