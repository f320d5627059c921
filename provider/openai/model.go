package openai

import "strings"

const (
	DefaultModel     = "gpt-5-mini-2025-08-07"
	DefaultMaxTokens = 4096
)

// completionTokenPrefixes lists model families that reject max_tokens and any
// temperature other than 1.
var completionTokenPrefixes = []string{"gpt-5", "o1", "o3", "o4"}

// RequiresCompletionTokens reports whether model must be sent
// max_completion_tokens with a fixed temperature of 1.
func RequiresCompletionTokens(model string) bool {
	for _, prefix := range completionTokenPrefixes {
		if strings.HasPrefix(model, prefix) {
			return true
		}
	}
	return false
}
