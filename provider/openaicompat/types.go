package openaicompat

// chatRequest is the request envelope for POST {baseURL}/chat/completions.
type chatRequest struct {
	Model         string         `json:"model"`
	Messages      []chatMessage  `json:"messages"`
	Stream        bool           `json:"stream,omitempty"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
	MaxTokens     int            `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// chatResponse decodes both streaming chunks and non-streaming responses.
type chatResponse struct {
	Choices []choice   `json:"choices"`
	Usage   *usageBody `json:"usage"`
}

type choice struct {
	Delta        *messageBody `json:"delta"`
	Message      *messageBody `json:"message"`
	FinishReason string       `json:"finish_reason"`
}

type messageBody struct {
	Content string `json:"content"`
}

type usageBody struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// modelsResponse decodes GET {baseURL}/models.
type modelsResponse struct {
	Data []modelEntry `json:"data"`
}

type modelEntry struct {
	ID string `json:"id"`
}
