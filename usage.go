package relay

// EstimateTokens approximates the token count of text when the server does
// not report usage: one token per four characters, rounded up.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// EstimateUsage fills in missing token counts from prompt and completion
// text. Counts the server did report are kept; the total is recomputed only
// when the server left it at zero.
func EstimateUsage(usage TokenUsage, prompt, completion string) TokenUsage {
	if usage.PromptTokens == 0 {
		usage.PromptTokens = EstimateTokens(prompt)
	}
	if usage.CompletionTokens == 0 {
		usage.CompletionTokens = EstimateTokens(completion)
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	return usage
}
