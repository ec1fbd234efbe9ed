package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"relay"
	"relay/bot"
	"relay/bot/live"
	"relay/store"
	"relay/store/sqlite"
)

// streamEventEvery throttles delta batches into live-run events.
const streamEventEvery = time.Second

// StartBot runs the messenger loop and the live-run HTTP server until the
// context is cancelled.
func (a *App) StartBot(ctx context.Context) error {
	if a.cfg.Telegram.Token == "" {
		return errors.New("telegram token not configured")
	}

	state := sqlite.New(filepath.Join(a.cfg.Store.Dir, "bot.db"), sqlite.WithLogger(a.log))
	if err := state.Init(ctx); err != nil {
		return fmt.Errorf("bot state: %w", err)
	}
	defer state.Close()

	registry := live.NewRegistry()
	srv := live.NewServer(registry,
		live.WithPort(a.cfg.Live.Port),
		live.WithPublicBase(a.cfg.Live.PublicBase),
		live.WithLogger(a.log),
	)

	b := bot.New(
		bot.NewClient(a.cfg.Telegram.Token),
		a.botRun(),
		sqliteState{state},
		registry,
		bot.WithTurnLogger(store.NewChatMemory(a.store.ChatMemoryDir())),
		bot.WithShareLinks(srv.ShareLinks),
		bot.WithAuthStatus(func(id relay.ProviderID) bool {
			_, err := a.resolver.Credential(id)
			return err == nil
		}),
		bot.WithLogger(a.log),
	)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return srv.ListenAndServe(ctx) })
	group.Go(func() error { return b.Poll(ctx) })
	return group.Wait()
}

// botRun adapts the pipeline for the bot: streamed deltas are batched into
// periodic progress events so the live page stays readable.
func (a *App) botRun() bot.RunFunc {
	return func(ctx context.Context, prompt string, onEvent func(string)) (string, error) {
		var pending strings.Builder
		lastEvent := time.Now()
		return a.run(ctx, prompt, func(delta string) {
			if onEvent == nil {
				return
			}
			pending.WriteString(delta)
			if time.Since(lastEvent) >= streamEventEvery {
				onEvent(snippet(pending.String()))
				lastEvent = time.Now()
			}
		})
	}
}

func snippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 160 {
		s = "…" + s[len(s)-160:]
	}
	return s
}

// sqliteState adapts the sqlite bot store to the bot's state interface.
type sqliteState struct {
	store *sqlite.Store
}

func (s sqliteState) Offset(ctx context.Context) (int64, error) {
	return s.store.Offset(ctx)
}

func (s sqliteState) SaveOffset(ctx context.Context, offset int64) error {
	return s.store.SaveOffset(ctx, offset)
}

func (s sqliteState) Lock(ctx context.Context, chatID string) (bot.ChatLock, bool, error) {
	lock, ok, err := s.store.Lock(ctx, chatID)
	if err != nil || !ok {
		return bot.ChatLock{}, ok, err
	}
	return bot.ChatLock{Provider: lock.Provider, ModelID: lock.ModelID}, true, nil
}

func (s sqliteState) SaveLock(ctx context.Context, chatID string, lock bot.ChatLock) error {
	return s.store.SaveLock(ctx, sqlite.ChatLock{
		ChatID:   chatID,
		Provider: lock.Provider,
		ModelID:  lock.ModelID,
	})
}

func (s sqliteState) ClearLock(ctx context.Context, chatID string) error {
	return s.store.ClearLock(ctx, chatID)
}
