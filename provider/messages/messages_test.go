package messages

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"relay"
)

func TestInvoke_RequestEnvelopeAndJoin(t *testing.T) {
	var got request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "sk-ant" {
			t.Errorf("x-api-key = %q", r.Header.Get("x-api-key"))
		}
		if r.Header.Get("anthropic-version") == "" {
			t.Error("anthropic-version header missing")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{
			"content":[
				{"type":"text","text":"part one "},
				{"type":"tool_use","id":"x"},
				{"type":"text","text":"part two"}
			],
			"usage":{"input_tokens":9,"output_tokens":4}
		}`))
	}))
	defer srv.Close()

	p := New(relay.ProviderAnthropic, srv.URL)
	ch := make(chan relay.StreamEvent, 1)
	res, err := p.Invoke(context.Background(), relay.Credential{APIKey: "sk-ant"},
		relay.ModelDescriptor{ID: "claude-haiku-3-5", MaxTokens: 8192}, "hello", relay.InvokeOptions{}, ch)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	if got.Model != "claude-haiku-3-5" || got.MaxTokens != defaultMaxTokens {
		t.Errorf("envelope = %+v", got)
	}
	if len(got.Messages) != 1 || got.Messages[0].Role != "user" {
		t.Errorf("messages = %+v", got.Messages)
	}

	if res.Text != "part one part two" {
		t.Errorf("joined text = %q", res.Text)
	}
	if res.Usage.PromptTokens != 9 || res.Usage.CompletionTokens != 4 || res.Usage.TotalTokens != 13 {
		t.Errorf("usage = %+v", res.Usage)
	}

	// Non-streaming: exactly one final chunk, then close.
	ev, open := <-ch
	if !open || ev.Content != "part one part two" {
		t.Errorf("chunk = %+v open=%v", ev, open)
	}
	if _, open := <-ch; open {
		t.Error("channel not closed after final chunk")
	}
}

func TestInvoke_ReplyFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"reply":"gateway answer"}`))
	}))
	defer srv.Close()

	p := New(relay.ProviderAnthropic, srv.URL)
	ch := make(chan relay.StreamEvent, 1)
	res, err := p.Invoke(context.Background(), relay.Credential{APIKey: "k"},
		relay.ModelDescriptor{ID: "m"}, "q", relay.InvokeOptions{}, ch)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.Text != "gateway answer" {
		t.Errorf("text = %q", res.Text)
	}
}

func TestInvoke_StatusMsgFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status_msg":"queued for processing"}`))
	}))
	defer srv.Close()

	p := New(relay.ProviderAnthropic, srv.URL)
	ch := make(chan relay.StreamEvent, 1)
	res, err := p.Invoke(context.Background(), relay.Credential{APIKey: "k"},
		relay.ModelDescriptor{ID: "m"}, "q", relay.InvokeOptions{}, ch)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.Text != "queued for processing" {
		t.Errorf("text = %q", res.Text)
	}
}

func TestInvoke_EmptyContentIsProtocolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"content":[]}`))
	}))
	defer srv.Close()

	p := New(relay.ProviderAnthropic, srv.URL)
	ch := make(chan relay.StreamEvent, 1)
	_, err := p.Invoke(context.Background(), relay.Credential{APIKey: "k"},
		relay.ModelDescriptor{ID: "m"}, "q", relay.InvokeOptions{}, ch)

	var protoErr *relay.ErrProtocol
	if !errors.As(err, &protoErr) {
		t.Fatalf("err = %v, want ErrProtocol", err)
	}
	if _, open := <-ch; open {
		t.Error("channel left open on protocol error")
	}
}

func TestInvoke_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(529)
	}))
	defer srv.Close()

	p := New(relay.ProviderAnthropic, srv.URL)
	ch := make(chan relay.StreamEvent, 1)
	_, err := p.Invoke(context.Background(), relay.Credential{APIKey: "k"},
		relay.ModelDescriptor{ID: "m"}, "q", relay.InvokeOptions{}, ch)

	var httpErr *relay.ErrHTTP
	if !errors.As(err, &httpErr) {
		t.Fatalf("err = %v, want ErrHTTP", err)
	}
	if httpErr.Status != 529 {
		t.Errorf("status = %d", httpErr.Status)
	}
}
