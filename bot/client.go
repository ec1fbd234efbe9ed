package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultAPIBase   = "https://api.telegram.org"
	pollTimeoutSecs  = 8
	pollBatchLimit   = 50
	maxMessageLength = 4000
)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithAPIBase overrides the Telegram API host, used by tests.
func WithAPIBase(base string) ClientOption {
	return func(c *Client) { c.apiBase = strings.TrimRight(base, "/") }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// Client is a minimal Telegram Bot API client.
type Client struct {
	token   string
	apiBase string
	http    *http.Client
}

// NewClient creates a client for one bot token.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token:   token,
		apiBase: defaultAPIBase,
		// Timeout covers the long-poll window plus slack.
		http: &http.Client{Timeout: (pollTimeoutSecs + 4) * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// GetUpdates long-polls for up to pollBatchLimit updates.
func (c *Client) GetUpdates(ctx context.Context, offset int64) ([]Update, error) {
	body := map[string]any{
		"offset":          offset,
		"timeout":         pollTimeoutSecs,
		"limit":           pollBatchLimit,
		"allowed_updates": []string{"message"},
	}
	var updates []Update
	if err := c.call(ctx, "getUpdates", body, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// SendHTML renders markdown to Telegram HTML and sends it, splitting into
// chunks within the message length limit. Returns the last message id.
func (c *Client) SendHTML(ctx context.Context, chatID int64, text string) (int64, error) {
	var lastID int64
	for _, chunk := range splitMessage(text) {
		body := map[string]any{
			"chat_id":    chatID,
			"text":       MarkdownToHTML(chunk),
			"parse_mode": "HTML",
		}
		var sent sentMessage
		if err := c.call(ctx, "sendMessage", body, &sent); err != nil {
			// HTML can be rejected for odd constructs; retry the chunk as
			// plain text before giving up.
			body["text"] = chunk
			delete(body, "parse_mode")
			if err2 := c.call(ctx, "sendMessage", body, &sent); err2 != nil {
				return 0, err
			}
		}
		lastID = sent.MessageID
	}
	return lastID, nil
}

// SendPlain sends unformatted text as a single message.
func (c *Client) SendPlain(ctx context.Context, chatID int64, text string) (int64, error) {
	var sent sentMessage
	err := c.call(ctx, "sendMessage", map[string]any{"chat_id": chatID, "text": text}, &sent)
	return sent.MessageID, err
}

// EditPlain replaces a message's text. "message is not modified" errors are
// swallowed since throttled edits race with identical content.
func (c *Client) EditPlain(ctx context.Context, chatID, messageID int64, text string) error {
	err := c.call(ctx, "editMessageText", map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
		"text":       text,
	}, nil)
	if err != nil && strings.Contains(err.Error(), "message is not modified") {
		return nil
	}
	return err
}

// Delete removes a message.
func (c *Client) Delete(ctx context.Context, chatID, messageID int64) error {
	return c.call(ctx, "deleteMessage", map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
	}, nil)
}

// Download fetches a file blob: getFile for the path, then a plain GET.
func (c *Client) Download(ctx context.Context, fileID string) ([]byte, error) {
	var f File
	if err := c.call(ctx, "getFile", map[string]any{"file_id": fileID}, &f); err != nil {
		return nil, err
	}
	if f.FilePath == "" {
		return nil, fmt.Errorf("telegram: empty file_path for %s", fileID)
	}

	url := fmt.Sprintf("%s/file/bot%s/%s", c.apiBase, c.token, f.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("telegram: download request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("telegram: download HTTP %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// call posts JSON to one Bot API method and decodes the result envelope.
func (c *Client) call(ctx context.Context, method string, reqBody any, result any) error {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("telegram: marshal %s: %w", method, err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.apiBase, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("telegram: request %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("telegram: read %s response: %w", method, err)
	}

	var envelope struct {
		OK          bool            `json:"ok"`
		Description string          `json:"description,omitempty"`
		ErrorCode   int             `json:"error_code,omitempty"`
		Result      json.RawMessage `json:"result,omitempty"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("telegram: decode %s response: %w", method, err)
	}
	if !envelope.OK {
		return fmt.Errorf("telegram API error %d: %s", envelope.ErrorCode, envelope.Description)
	}
	if result != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("telegram: decode %s result: %w", method, err)
		}
	}
	return nil
}

// splitMessage cuts text into chunks within the message limit, preferring
// newline boundaries.
func splitMessage(text string) []string {
	if len(text) <= maxMessageLength {
		return []string{text}
	}
	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxMessageLength {
			chunks = append(chunks, text)
			break
		}
		cut := strings.LastIndex(text[:maxMessageLength], "\n")
		if cut <= 0 {
			cut = maxMessageLength
		} else {
			cut++ // keep the newline with the leading chunk
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	return chunks
}
