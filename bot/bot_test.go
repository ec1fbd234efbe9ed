package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"relay"
	"relay/bot/live"
)

func sleepMs(ms int) { time.Sleep(time.Duration(ms) * time.Millisecond) }

// fakeTG emulates the Bot API surface the client touches.
type fakeTG struct {
	mu        sync.Mutex
	batches   [][]Update
	offsets   []int64
	sent      []string
	edits     []string
	deleted   []int64
	nextMsgID int64
	blob      []byte
}

func (f *fakeTG) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/file/", func(w http.ResponseWriter, _ *http.Request) {
		w.Write(f.blob)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		method := parts[len(parts)-1]
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)

		f.mu.Lock()
		defer f.mu.Unlock()
		switch method {
		case "getUpdates":
			if off, ok := req["offset"].(float64); ok {
				f.offsets = append(f.offsets, int64(off))
			}
			var batch []Update
			if len(f.batches) > 0 {
				batch = f.batches[0]
				f.batches = f.batches[1:]
			}
			writeResult(w, batch)
		case "sendMessage":
			f.sent = append(f.sent, req["text"].(string))
			f.nextMsgID++
			writeResult(w, sentMessage{MessageID: f.nextMsgID})
		case "editMessageText":
			f.edits = append(f.edits, req["text"].(string))
			writeResult(w, true)
		case "deleteMessage":
			f.deleted = append(f.deleted, int64(req["message_id"].(float64)))
			writeResult(w, true)
		case "getFile":
			writeResult(w, File{FileID: req["file_id"].(string), FilePath: "media/blob.bin"})
		default:
			http.Error(w, `{"ok":false,"error_code":404,"description":"unknown method"}`, 404)
		}
	})
	return mux
}

func writeResult(w http.ResponseWriter, result any) {
	raw, _ := json.Marshal(result)
	fmt.Fprintf(w, `{"ok":true,"result":%s}`, raw)
}

func (f *fakeTG) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

// memState is an in-memory StateStore.
type memState struct {
	mu     sync.Mutex
	offset int64
	locks  map[string]ChatLock
}

func newMemState() *memState { return &memState{locks: make(map[string]ChatLock)} }

func (m *memState) Offset(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.offset, nil
}

func (m *memState) SaveOffset(_ context.Context, offset int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offset = offset
	return nil
}

func (m *memState) Lock(_ context.Context, chatID string) (ChatLock, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[chatID]
	return lock, ok, nil
}

func (m *memState) SaveLock(_ context.Context, chatID string, lock ChatLock) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locks[chatID] = lock
	return nil
}

func (m *memState) ClearLock(_ context.Context, chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, chatID)
	return nil
}

type runRecorder struct {
	mu      sync.Mutex
	prompts []string
	reply   string
	events  []string
}

func (r *runRecorder) run(_ context.Context, prompt string, onEvent func(string)) (string, error) {
	r.mu.Lock()
	r.prompts = append(r.prompts, prompt)
	events := append([]string(nil), r.events...)
	r.mu.Unlock()
	for _, e := range events {
		onEvent(e)
	}
	return r.reply, nil
}

func (r *runRecorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.prompts...)
}

func newTestBot(t *testing.T, tg *fakeTG, rec *runRecorder, opts ...Option) (*Bot, *memState) {
	t.Helper()
	srv := httptest.NewServer(tg.handler())
	t.Cleanup(srv.Close)
	client := NewClient("test-token", WithAPIBase(srv.URL))
	state := newMemState()
	b := New(client, rec.run, state, live.NewRegistry(), opts...)
	return b, state
}

func textUpdate(id, chatID int64, text string) Update {
	return Update{UpdateID: id, Message: &Message{
		MessageID: id, Chat: Chat{ID: chatID}, From: &User{ID: 7}, Text: text,
	}}
}

func TestProcessUpdate_TextFlow(t *testing.T) {
	tg := &fakeTG{}
	rec := &runRecorder{reply: "the answer", events: []string{"resolving provider", "streaming"}}
	b, _ := newTestBot(t, tg, rec)

	b.ProcessUpdate(context.Background(), textUpdate(1, 42, "what is a goroutine?"))

	if got := rec.seen(); len(got) != 1 || got[0] != "what is a goroutine?" {
		t.Fatalf("prompts = %v", got)
	}
	sent := tg.sentTexts()
	// Placeholder first, then the final answer.
	if len(sent) < 2 {
		t.Fatalf("sent = %v", sent)
	}
	if !strings.Contains(sent[0], "Thinking") {
		t.Errorf("placeholder = %q", sent[0])
	}
	if !strings.Contains(sent[len(sent)-1], "the answer") {
		t.Errorf("final = %q", sent[len(sent)-1])
	}
	if len(tg.deleted) != 1 {
		t.Errorf("placeholder not deleted: %v", tg.deleted)
	}
	if len(tg.edits) == 0 {
		t.Error("no progress edits")
	}
}

func TestProcessUpdate_IgnoresBotMessages(t *testing.T) {
	tg := &fakeTG{}
	rec := &runRecorder{reply: "x"}
	b, _ := newTestBot(t, tg, rec)

	u := textUpdate(1, 42, "hello")
	u.Message.From.IsBot = true
	b.ProcessUpdate(context.Background(), u)

	if len(rec.seen()) != 0 || len(tg.sentTexts()) != 0 {
		t.Error("bot message was processed")
	}
}

func TestProcessUpdate_ProviderLockStateMachine(t *testing.T) {
	tg := &fakeTG{}
	rec := &runRecorder{reply: "ok"}
	b, state := newTestBot(t, tg, rec)
	ctx := context.Background()

	// Bare provider selection locks without routing.
	b.ProcessUpdate(ctx, textUpdate(1, 42, "/groq"))
	if len(rec.seen()) != 0 {
		t.Fatalf("bare lock must not invoke the router: %v", rec.seen())
	}
	if lock, ok, _ := state.Lock(ctx, "42"); !ok || lock.Provider != relay.ProviderGroq {
		t.Fatalf("lock = %+v ok=%v", lock, ok)
	}
	if sent := tg.sentTexts(); len(sent) != 1 || !strings.Contains(sent[0], "Locked this chat to groq") {
		t.Errorf("confirmation = %v", sent)
	}

	// Plain prompts in a locked chat route through the lock.
	b.ProcessUpdate(ctx, textUpdate(2, 42, "explain channels"))
	if got := rec.seen(); len(got) != 1 || got[0] != "/groq explain channels" {
		t.Errorf("locked prompt = %v", got)
	}

	// Clearing returns to auto.
	b.ProcessUpdate(ctx, textUpdate(3, 42, "/clear"))
	if _, ok, _ := state.Lock(ctx, "42"); ok {
		t.Error("lock survived /clear")
	}
	b.ProcessUpdate(ctx, textUpdate(4, 42, "explain select"))
	if got := rec.seen(); got[len(got)-1] != "explain select" {
		t.Errorf("auto prompt = %q", got[len(got)-1])
	}
}

func TestProcessUpdate_ProviderWithPromptPersistsLock(t *testing.T) {
	tg := &fakeTG{}
	rec := &runRecorder{reply: "ok"}
	b, state := newTestBot(t, tg, rec)
	ctx := context.Background()

	b.ProcessUpdate(ctx, textUpdate(1, 9, "/deepseek model=deepseek-chat write a haiku"))
	if got := rec.seen(); len(got) != 1 || !strings.HasPrefix(got[0], "/deepseek") {
		t.Fatalf("prompts = %v", got)
	}
	lock, ok, _ := state.Lock(ctx, "9")
	if !ok || lock.Provider != relay.ProviderDeepSeek || lock.ModelID != "deepseek-chat" {
		t.Errorf("lock = %+v ok=%v", lock, ok)
	}
}

type stubImages struct {
	got    []byte
	answer string
}

func (s *stubImages) AnalyzeImage(_ context.Context, blob []byte) (string, error) {
	s.got = blob
	return s.answer, nil
}

func TestProcessUpdate_PhotoPicksLargestAndRoutes(t *testing.T) {
	tg := &fakeTG{blob: []byte("jpeg-bytes")}
	rec := &runRecorder{reply: "a cat on a roof"}
	images := &stubImages{answer: "photo of a cat"}
	b, _ := newTestBot(t, tg, rec, WithImageAnalyzer(images))

	u := Update{UpdateID: 1, Message: &Message{
		Chat:    Chat{ID: 42},
		From:    &User{ID: 7},
		Caption: "what animal is this?",
		Photo: []PhotoSize{
			{FileID: "small", Width: 90, Height: 90, FileSize: 1000},
			{FileID: "large", Width: 1280, Height: 960, FileSize: 90000},
			{FileID: "mid", Width: 320, Height: 240, FileSize: 8000},
		},
	}}
	b.ProcessUpdate(context.Background(), u)

	if string(images.got) != "jpeg-bytes" {
		t.Errorf("analyzer blob = %q", images.got)
	}
	got := rec.seen()
	if len(got) != 1 {
		t.Fatalf("prompts = %v", got)
	}
	if !strings.Contains(got[0], "photo of a cat") || !strings.Contains(got[0], "what animal is this?") {
		t.Errorf("composed prompt = %q", got[0])
	}
}

func TestProcessUpdate_MediaWithoutCollaborator(t *testing.T) {
	tg := &fakeTG{}
	rec := &runRecorder{reply: "x"}
	b, _ := newTestBot(t, tg, rec)

	u := Update{UpdateID: 1, Message: &Message{
		Chat:  Chat{ID: 42},
		From:  &User{ID: 7},
		Voice: &Voice{FileID: "v1"},
	}}
	b.ProcessUpdate(context.Background(), u)

	if len(rec.seen()) != 0 {
		t.Error("voice routed without a transcriber")
	}
	if sent := tg.sentTexts(); len(sent) != 1 || !strings.Contains(sent[0], "not configured") {
		t.Errorf("reply = %v", sent)
	}
}

func TestPoll_AdvancesAndPersistsOffset(t *testing.T) {
	tg := &fakeTG{batches: [][]Update{
		{textUpdate(100, 42, "hi there, what can you do?"), textUpdate(101, 42, "and one more")},
	}}
	rec := &runRecorder{reply: "done"}
	b, state := newTestBot(t, tg, rec)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = b.Poll(ctx)
	}()

	// Wait until both updates were handled, then stop the loop.
	for i := 0; i < 200; i++ {
		if len(rec.seen()) == 2 {
			break
		}
		sleepMs(10)
	}
	cancel()
	<-done

	if off, _ := state.Offset(context.Background()); off != 102 {
		t.Errorf("offset = %d, want 102", off)
	}
}

func TestSplitMessage(t *testing.T) {
	if got := splitMessage("short"); len(got) != 1 {
		t.Fatalf("chunks = %d", len(got))
	}

	long := strings.Repeat(strings.Repeat("x", 99)+"\n", 90) // 9000 bytes
	chunks := splitMessage(long)
	if len(chunks) < 3 {
		t.Fatalf("chunks = %d, want >= 3", len(chunks))
	}
	var total int
	for _, c := range chunks {
		if len(c) > maxMessageLength {
			t.Errorf("chunk of %d bytes exceeds limit", len(c))
		}
		total += len(c)
	}
	if total != len(long) {
		t.Errorf("reassembled %d bytes, want %d", total, len(long))
	}
}

func TestMarkdownToHTML(t *testing.T) {
	cases := []struct {
		md   string
		want string
	}{
		{"**bold** and *italic*", "<b>bold</b> and <i>italic</i>"},
		{"`code span`", "<code>code span</code>"},
		{"# Title", "<b>Title</b>"},
		{"a < b & c > d", "a &lt; b &amp; c &gt; d"},
		{"~~gone~~", "<s>gone</s>"},
	}
	for _, tt := range cases {
		got := MarkdownToHTML(tt.md)
		if !strings.Contains(got, tt.want) {
			t.Errorf("MarkdownToHTML(%q) = %q, want contains %q", tt.md, got, tt.want)
		}
	}

	fenced := MarkdownToHTML("```go\nfmt.Println(\"hi\")\n```")
	if !strings.Contains(fenced, `<pre><code class="language-go">`) {
		t.Errorf("fenced = %q", fenced)
	}
	if !strings.Contains(fenced, "fmt.Println(&quot;hi&quot;)") && !strings.Contains(fenced, `fmt.Println("hi")`) {
		t.Errorf("fenced body = %q", fenced)
	}
}
