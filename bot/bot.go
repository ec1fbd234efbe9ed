// Package bot runs the Telegram front end: a long-poll loop that triages
// updates, keeps per-chat provider locks, publishes live-run progress and
// streams final answers back into the chat.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"relay"
	"relay/bot/live"
	"relay/intent"
)

const (
	pollErrorBackoff = 900 * time.Millisecond
	editThrottle     = 700 * time.Millisecond
)

// RunFunc executes one prompt. Progress lines flow to onEvent as they
// arrive; the final answer is returned.
type RunFunc func(ctx context.Context, prompt string, onEvent func(string)) (string, error)

// ChatLock is a persisted per-chat provider selection.
type ChatLock struct {
	Provider relay.ProviderID
	ModelID  string
}

// StateStore persists the poll offset and chat locks across restarts.
type StateStore interface {
	Offset(ctx context.Context) (int64, error)
	SaveOffset(ctx context.Context, offset int64) error
	Lock(ctx context.Context, chatID string) (ChatLock, bool, error)
	SaveLock(ctx context.Context, chatID string, lock ChatLock) error
	ClearLock(ctx context.Context, chatID string) error
}

// TurnLogger appends finished exchanges to the per-chat memory log.
type TurnLogger interface {
	AppendTurn(chatID, userText, assistantText string) error
}

// Option configures a Bot.
type Option func(*Bot)

// WithTranscriber enables voice and audio handling.
func WithTranscriber(t relay.Transcriber) Option {
	return func(b *Bot) { b.transcriber = t }
}

// WithImageAnalyzer enables photo handling.
func WithImageAnalyzer(a relay.ImageAnalyzer) Option {
	return func(b *Bot) { b.images = a }
}

// WithVideoDecoder enables video handling.
func WithVideoDecoder(d relay.VideoDecoder) Option {
	return func(b *Bot) { b.video = d }
}

// WithTurnLogger sets the per-chat memory log.
func WithTurnLogger(t TurnLogger) Option {
	return func(b *Bot) { b.turns = t }
}

// WithShareLinks sets the live-run link composer, normally
// (*live.Server).ShareLinks.
func WithShareLinks(fn func(id string) []string) Option {
	return func(b *Bot) { b.links = fn }
}

// WithAuthStatus sets the credential probe behind /providers.
func WithAuthStatus(fn func(id relay.ProviderID) bool) Option {
	return func(b *Bot) { b.auth = fn }
}

// WithLogger sets the structured logger. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bot) {
		if l != nil {
			b.log = l
		}
	}
}

// Bot glues the Telegram client to the execution pipeline.
type Bot struct {
	client *Client
	run    RunFunc
	state  StateStore
	runs   *live.Registry

	transcriber relay.Transcriber
	images      relay.ImageAnalyzer
	video       relay.VideoDecoder
	turns       TurnLogger
	links       func(id string) []string
	auth        func(id relay.ProviderID) bool
	log         *slog.Logger

	mu       sync.Mutex
	lastRuns map[string]string // chatID -> most recent live run id
}

// New creates a Bot.
func New(client *Client, run RunFunc, state StateStore, runs *live.Registry, opts ...Option) *Bot {
	b := &Bot{
		client:   client,
		run:      run,
		state:    state,
		runs:     runs,
		log:      nopLogger,
		lastRuns: make(map[string]string),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Poll runs the update loop until the context is cancelled.
func (b *Bot) Poll(ctx context.Context) error {
	offset, err := b.state.Offset(ctx)
	if err != nil {
		b.log.Warn("load poll offset", "err", err)
	}

	for ctx.Err() == nil {
		updates, err := b.client.GetUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			b.log.Warn("poll failed", "err", err)
			select {
			case <-time.After(pollErrorBackoff):
			case <-ctx.Done():
				return nil
			}
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
				if err := b.state.SaveOffset(ctx, offset); err != nil {
					b.log.Warn("persist poll offset", "err", err)
				}
			}
			b.ProcessUpdate(ctx, u)
		}
	}
	return nil
}

// ProcessUpdate triages one update. Media fan-out happens before text.
func (b *Bot) ProcessUpdate(ctx context.Context, u Update) {
	msg := u.Message
	if msg == nil || (msg.From != nil && msg.From.IsBot) {
		return
	}
	chatID := strconv.FormatInt(msg.Chat.ID, 10)

	switch {
	case len(msg.Photo) > 0:
		b.handlePhoto(ctx, msg)
	case msg.Voice != nil:
		b.handleAudio(ctx, msg, msg.Voice.FileID, "voice message")
	case msg.Audio != nil:
		b.handleAudio(ctx, msg, msg.Audio.FileID, "audio file")
	case msg.Video != nil:
		b.handleVideo(ctx, msg, msg.Video.FileID)
	case msg.Document != nil:
		b.handleDocument(ctx, msg)
	case msg.Text != "":
		b.handleText(ctx, msg)
	default:
		b.log.Debug("ignoring update without usable payload", "chat", chatID)
	}
}

func (b *Bot) handleDocument(ctx context.Context, msg *Message) {
	mime := msg.Document.MimeType
	switch {
	case strings.HasPrefix(mime, "image/"):
		b.analyzeImageBlob(ctx, msg, msg.Document.FileID)
	case strings.HasPrefix(mime, "audio/"):
		b.handleAudio(ctx, msg, msg.Document.FileID, "audio file")
	case strings.HasPrefix(mime, "video/"):
		b.handleVideo(ctx, msg, msg.Document.FileID)
	default:
		b.reply(ctx, msg.Chat.ID, fmt.Sprintf("I can't read %q documents yet. Send images, audio or video.", mime))
	}
}

func (b *Bot) handlePhoto(ctx context.Context, msg *Message) {
	sizes := append([]PhotoSize(nil), msg.Photo...)
	sort.SliceStable(sizes, func(i, j int) bool {
		if sizes[i].FileSize != sizes[j].FileSize {
			return sizes[i].FileSize > sizes[j].FileSize
		}
		return sizes[i].Width*sizes[i].Height > sizes[j].Width*sizes[j].Height
	})
	b.analyzeImageBlob(ctx, msg, sizes[0].FileID)
}

func (b *Bot) analyzeImageBlob(ctx context.Context, msg *Message, fileID string) {
	if b.images == nil {
		b.reply(ctx, msg.Chat.ID, "Image understanding is not configured.")
		return
	}
	blob, err := b.client.Download(ctx, fileID)
	if err != nil {
		b.replyError(ctx, msg.Chat.ID, "download the photo", err)
		return
	}
	analysis, err := b.images.AnalyzeImage(ctx, blob)
	if err != nil {
		b.replyError(ctx, msg.Chat.ID, "analyze the photo", err)
		return
	}

	request := msg.Caption
	if request == "" {
		request = "Describe the photo and answer anything it asks."
	}
	prompt := fmt.Sprintf("User sent a photo. Image analysis:\n%s\n\nUser request: %s", analysis, request)
	b.respond(ctx, msg, prompt)
}

func (b *Bot) handleAudio(ctx context.Context, msg *Message, fileID, kind string) {
	if b.transcriber == nil {
		b.reply(ctx, msg.Chat.ID, "Audio transcription is not configured.")
		return
	}
	blob, err := b.client.Download(ctx, fileID)
	if err != nil {
		b.replyError(ctx, msg.Chat.ID, "download the "+kind, err)
		return
	}
	transcript, err := b.transcriber.Transcribe(ctx, blob)
	if err != nil {
		b.replyError(ctx, msg.Chat.ID, "transcribe the "+kind, err)
		return
	}

	request := msg.Caption
	if request == "" {
		request = transcript
	}
	prompt := fmt.Sprintf("User sent a %s. Transcript:\n%s\n\nUser request: %s", kind, transcript, request)
	b.respond(ctx, msg, prompt)
}

func (b *Bot) handleVideo(ctx context.Context, msg *Message, fileID string) {
	if b.video == nil {
		b.reply(ctx, msg.Chat.ID, "Video understanding is not configured.")
		return
	}
	blob, err := b.client.Download(ctx, fileID)
	if err != nil {
		b.replyError(ctx, msg.Chat.ID, "download the video", err)
		return
	}
	analysis, err := b.video.DecodeVideo(ctx, blob)
	if err != nil {
		b.replyError(ctx, msg.Chat.ID, "decode the video", err)
		return
	}

	var sb strings.Builder
	sb.WriteString("User sent a video.\n")
	if analysis.MetadataSummary != "" {
		sb.WriteString("Metadata: " + analysis.MetadataSummary + "\n")
	}
	if analysis.DirectVideoSummary != "" {
		sb.WriteString("Summary: " + analysis.DirectVideoSummary + "\n")
	}
	if analysis.VisualSummary != "" {
		sb.WriteString("Visuals: " + analysis.VisualSummary + "\n")
	}
	if analysis.Transcript != "" {
		sb.WriteString("Transcript:\n" + analysis.Transcript + "\n")
	}
	request := msg.Caption
	if request == "" {
		request = "Summarize the video."
	}
	sb.WriteString("\nUser request: " + request)
	b.respond(ctx, msg, sb.String())
}

func (b *Bot) handleText(ctx context.Context, msg *Message) {
	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	switch strings.ToLower(strings.Fields(text)[0]) {
	case "/start", "/help":
		b.reply(ctx, msg.Chat.ID, helpText)
		return
	case "/providers":
		b.reply(ctx, msg.Chat.ID, b.providersText())
		return
	case "/live":
		b.replyLiveLink(ctx, msg.Chat.ID, chatID)
		return
	case "/clear", "/back":
		if err := b.state.ClearLock(ctx, chatID); err != nil {
			b.log.Warn("clear chat lock", "chat", chatID, "err", err)
		}
		b.reply(ctx, msg.Chat.ID, "Back to automatic routing.")
		return
	}

	if ref, ok := intent.ParseProviderRef(text); ok {
		lock := ChatLock{Provider: ref.Provider, ModelID: ref.ModelID}
		if err := b.state.SaveLock(ctx, chatID, lock); err != nil {
			b.log.Warn("save chat lock", "chat", chatID, "err", err)
		}
		if strings.TrimSpace(ref.Prompt) == "" {
			b.reply(ctx, msg.Chat.ID,
				fmt.Sprintf("Locked this chat to %s. Send /clear to return to auto.", lockActor(lock)))
			return
		}
		b.respond(ctx, msg, text)
		return
	}

	if lock, ok, err := b.state.Lock(ctx, chatID); err == nil && ok {
		b.respond(ctx, msg, lockedPrompt(lock, text))
		return
	} else if err != nil {
		b.log.Warn("read chat lock", "chat", chatID, "err", err)
	}

	b.respond(ctx, msg, text)
}

// lockedPrompt rewrites a plain prompt into the provider-slash form so the
// pipeline honors the chat's lock.
func lockedPrompt(lock ChatLock, text string) string {
	if lock.ModelID != "" {
		return fmt.Sprintf("/%s model=%s %s", lock.Provider, lock.ModelID, text)
	}
	return fmt.Sprintf("/%s %s", lock.Provider, text)
}

func lockActor(lock ChatLock) string {
	if lock.ModelID != "" {
		return string(lock.Provider) + "/" + lock.ModelID
	}
	return string(lock.Provider)
}

// respond runs one prompt end to end: live run, placeholder edits, final
// chunked answer, memory log.
func (b *Bot) respond(ctx context.Context, msg *Message, prompt string) {
	chatID := strconv.FormatInt(msg.Chat.ID, 10)

	actor := "auto"
	if lock, ok, _ := b.state.Lock(ctx, chatID); ok {
		actor = lockActor(lock)
	}

	runID := b.runs.Create(chatID, prompt, actor)
	b.mu.Lock()
	b.lastRuns[chatID] = runID
	b.mu.Unlock()

	if b.links != nil {
		if links := b.links(runID); len(links) > 0 {
			b.reply(ctx, msg.Chat.ID, "Watch live: "+links[0])
		}
	}

	placeholderID, err := b.client.SendPlain(ctx, msg.Chat.ID, actor+" > Thinking…")
	if err != nil {
		b.log.Warn("send placeholder", "chat", chatID, "err", err)
	}

	var lastEdit time.Time
	onEvent := func(line string) {
		b.runs.Append(runID, line)
		b.runs.SetStatus(runID, "running", firstEventLine(line))
		if placeholderID != 0 && time.Since(lastEdit) >= editThrottle {
			lastEdit = time.Now()
			if err := b.client.EditPlain(ctx, msg.Chat.ID, placeholderID, actor+" > "+firstEventLine(line)); err != nil {
				b.log.Debug("placeholder edit", "err", err)
			}
		}
	}

	result, err := b.run(ctx, prompt, onEvent)
	if err != nil {
		b.runs.Fail(runID, err.Error())
		if placeholderID != 0 {
			_ = b.client.EditPlain(ctx, msg.Chat.ID, placeholderID, actor+" > Failed: "+err.Error())
		}
		return
	}
	b.runs.Complete(runID, result)

	if placeholderID != 0 {
		if err := b.client.Delete(ctx, msg.Chat.ID, placeholderID); err != nil {
			b.log.Debug("delete placeholder", "err", err)
		}
	}
	if _, err := b.client.SendHTML(ctx, msg.Chat.ID, result); err != nil {
		b.log.Warn("send result", "chat", chatID, "err", err)
		return
	}

	if b.turns != nil {
		userText := msg.Text
		if userText == "" {
			userText = prompt
		}
		if err := b.turns.AppendTurn(chatID, userText, result); err != nil {
			b.log.Warn("append chat memory", "chat", chatID, "err", err)
		}
	}
}

func (b *Bot) replyLiveLink(ctx context.Context, chat int64, chatID string) {
	b.mu.Lock()
	runID := b.lastRuns[chatID]
	b.mu.Unlock()
	if runID == "" || b.links == nil {
		b.reply(ctx, chat, "No runs yet. Send a prompt first.")
		return
	}
	links := b.links(runID)
	if len(links) == 0 {
		b.reply(ctx, chat, "Live view is not reachable.")
		return
	}
	b.reply(ctx, chat, "Latest run: "+strings.Join(links, "\n"))
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if _, err := b.client.SendPlain(ctx, chatID, text); err != nil {
		b.log.Warn("send reply", "chat", chatID, "err", err)
	}
}

func (b *Bot) replyError(ctx context.Context, chatID int64, what string, err error) {
	b.log.Warn("media handling failed", "action", what, "err", err)
	b.reply(ctx, chatID, "Sorry, I could not "+what+": "+err.Error())
}

func firstEventLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 120 {
		s = s[:120] + "…"
	}
	return s
}

const helpText = `Send me anything and I will route it to the best model.

/providers — list providers
/<provider> — lock this chat to one provider (e.g. /groq)
/<provider> model=<id> — lock provider and model
/clear or /back — return to automatic routing
/live — link to the latest run's live view`

func (b *Bot) providersText() string {
	ids := []relay.ProviderID{
		relay.ProviderGroq, relay.ProviderDeepSeek, relay.ProviderMistral,
		relay.ProviderOpenAI, relay.ProviderGemini, relay.ProviderAnthropic,
		relay.ProviderCoder,
	}
	var sb strings.Builder
	sb.WriteString("Available providers:\n")
	for _, id := range ids {
		sb.WriteString("/" + string(id))
		if b.auth != nil {
			if b.auth(id) {
				sb.WriteString(" — authenticated")
			} else {
				sb.WriteString(" — no credential")
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
