package openaicompat

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	"relay"
)

// streamSSE reads an SSE stream from body, sends text-delta events to ch,
// and returns the fully accumulated response.
//
// The channel is closed when streaming completes. The first visible chunk
// has its leading whitespace trimmed; later chunks pass through untouched.
//
// SSE format expected:
//
//	data: {"choices":[...]}\n
//	data: [DONE]\n
func streamSSE(ctx context.Context, id relay.ProviderID, body io.Reader, ch chan<- relay.StreamEvent) (relay.InvokeResult, error) {
	defer close(ch)

	scanner := bufio.NewScanner(body)
	// Increase buffer for large SSE payloads.
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	var full strings.Builder
	var usage relay.TokenUsage
	firstVisible := true

	for scanner.Scan() {
		line := scanner.Text()

		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		// End-of-stream sentinel.
		if data == "[DONE]" {
			break
		}

		var chunk chatResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Skip malformed chunks.
			continue
		}

		if chunk.Usage != nil {
			usage.PromptTokens = chunk.Usage.PromptTokens
			usage.CompletionTokens = chunk.Usage.CompletionTokens
			usage.TotalTokens = chunk.Usage.TotalTokens
		}

		if len(chunk.Choices) == 0 {
			// Usage-only chunk (sent last when include_usage is honored).
			continue
		}

		text := extractText(chunk.Choices[0])
		if text == "" {
			continue
		}
		if firstVisible {
			text = strings.TrimLeft(text, " \t\n\r")
			if text == "" {
				continue
			}
			firstVisible = false
		}

		full.WriteString(text)
		select {
		case ch <- relay.StreamEvent{Type: relay.EventTextDelta, Content: text}:
		case <-ctx.Done():
			return relay.InvokeResult{}, ctx.Err()
		}
	}

	if err := scanner.Err(); err != nil {
		return relay.InvokeResult{}, &relay.ErrProtocol{Provider: id, Message: "read stream: " + err.Error()}
	}

	return relay.InvokeResult{Text: full.String(), Usage: usage}, nil
}

// extractText prefers the streaming delta and falls back to the full
// message content some backends send instead.
func extractText(c choice) string {
	if c.Delta != nil && c.Delta.Content != "" {
		return c.Delta.Content
	}
	if c.Message != nil {
		return c.Message.Content
	}
	return ""
}
