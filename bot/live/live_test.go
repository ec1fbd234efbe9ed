package live

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRegistry_Lifecycle(t *testing.T) {
	reg := NewRegistry()
	id := reg.Create("chat-1", "deploy the site", "groq/llama")

	reg.SetStatus(id, "running", "resolving provider")
	reg.Append(id, "picked groq")
	reg.Append(id, "streaming response")
	reg.Complete(id, "done: deployed")

	run, ok := reg.Get(id)
	if !ok {
		t.Fatal("run not found")
	}
	if !run.Completed || run.Status != "completed" {
		t.Errorf("run = %+v, want completed", run)
	}
	if run.ResultPreview != "done: deployed" {
		t.Errorf("ResultPreview = %q", run.ResultPreview)
	}
	if len(run.Events) != 2 {
		t.Errorf("events = %d, want 2", len(run.Events))
	}

	// Terminal runs ignore further writes.
	reg.Append(id, "late event")
	reg.SetStatus(id, "running", "zombie")
	run, _ = reg.Get(id)
	if len(run.Events) != 2 || run.Status != "completed" {
		t.Errorf("terminal run mutated: %+v", run)
	}
}

func TestRegistry_FailSetsError(t *testing.T) {
	reg := NewRegistry()
	id := reg.Create("chat-1", "x", "auto")
	reg.Fail(id, "provider timeout")

	run, _ := reg.Get(id)
	if !run.Completed || run.Error != "provider timeout" {
		t.Errorf("run = %+v", run)
	}
	if !strings.HasPrefix(run.Status, "failed") {
		t.Errorf("Status = %q, want failed prefix", run.Status)
	}
}

func TestRegistry_EventRingBounded(t *testing.T) {
	reg := NewRegistry()
	id := reg.Create("chat-1", "x", "auto")
	for i := 0; i < maxRunEvents+40; i++ {
		reg.Append(id, fmt.Sprintf("event %d", i))
	}
	run, _ := reg.Get(id)
	if len(run.Events) != maxRunEvents {
		t.Fatalf("events = %d, want %d", len(run.Events), maxRunEvents)
	}
	if run.Events[0].Text != "event 40" {
		t.Errorf("oldest kept = %q, want event 40", run.Events[0].Text)
	}
}

func TestRegistry_SnapshotIsolated(t *testing.T) {
	reg := NewRegistry()
	id := reg.Create("chat-1", "x", "auto")
	reg.Append(id, "first")

	snap, _ := reg.Get(id)
	snap.Events[0].Text = "mutated"
	snap.Status = "mutated"

	fresh, _ := reg.Get(id)
	if fresh.Events[0].Text != "first" || fresh.Status == "mutated" {
		t.Errorf("snapshot leaked into registry: %+v", fresh)
	}
}

func TestRegistry_EvictsCompletedOverCap(t *testing.T) {
	reg := NewRegistry()
	var completedIDs []string
	for i := 0; i < maxRuns; i++ {
		id := reg.Create("chat", "p", "auto")
		reg.Complete(id, "ok")
		completedIDs = append(completedIDs, id)
	}
	// Age the completed runs past the TTL.
	reg.mu.Lock()
	for _, run := range reg.runs {
		run.UpdatedAt -= completedTTLMs + 1000
	}
	reg.mu.Unlock()

	extra := reg.Create("chat", "fresh", "auto")
	if reg.Len() > maxRuns {
		t.Errorf("registry size = %d, want <= %d", reg.Len(), maxRuns)
	}
	if _, ok := reg.Get(extra); !ok {
		t.Error("fresh run evicted")
	}
	if _, ok := reg.Get(completedIDs[0]); ok {
		t.Error("stale completed run survived")
	}
}

func TestRegistry_RetainsFreshCompletedOverCap(t *testing.T) {
	reg := NewRegistry()
	total := maxRuns + 10
	for i := 0; i < total; i++ {
		id := reg.Create("chat", "p", "auto")
		reg.Complete(id, "ok")
	}
	// All runs completed just now, none past the TTL: the registry must
	// grow past the cap rather than drop fresh entries.
	if reg.Len() != total {
		t.Errorf("registry size = %d, want %d fresh runs retained", reg.Len(), total)
	}
}

func TestServer_Health(t *testing.T) {
	reg := NewRegistry()
	reg.Create("chat", "p", "auto")
	srv := httptest.NewServer(NewServer(reg).Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body struct {
		OK   bool `json:"ok"`
		Runs int  `json:"runs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if !body.OK || body.Runs != 1 {
		t.Errorf("health = %+v", body)
	}
}

func TestServer_RunPages(t *testing.T) {
	reg := NewRegistry()
	id := reg.Create("chat", "list the files", "groq/llama")
	reg.Append(id, "older event")
	reg.Append(id, "newest event")
	srv := httptest.NewServer(NewServer(reg).Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/telegram/live/" + id)
	if err != nil {
		t.Fatal(err)
	}
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	page := string(raw)
	if !strings.Contains(page, "list the files") || !strings.Contains(page, "newest event") {
		t.Errorf("html page missing content: %s", page)
	}
	// Reverse chronological: newest must appear before older.
	if strings.Index(page, "newest event") > strings.Index(page, "older event") {
		t.Error("events not newest-first")
	}

	resp, err = srv.Client().Get(srv.URL + "/telegram/live/" + id + ".json")
	if err != nil {
		t.Fatal(err)
	}
	var body struct {
		ID         string   `json:"id"`
		ShareLink  string   `json:"shareLink"`
		ShareLinks []string `json:"shareLinks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if body.ID != id || body.ShareLink == "" {
		t.Errorf("json view = %+v", body)
	}

	resp, _ = srv.Client().Get(srv.URL + "/telegram/live/no-such-run")
	if resp.StatusCode != 404 {
		t.Errorf("missing run status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestShareLinks_OrderAndDedup(t *testing.T) {
	s := NewServer(NewRegistry(), WithPort(9999), WithPublicBase("https://relay.example.com/"))
	links := s.ShareLinks("abc")
	if len(links) < 2 {
		t.Fatalf("links = %v", links)
	}
	if links[0] != "https://relay.example.com/telegram/live/abc" {
		t.Errorf("public base not first: %v", links)
	}
	if links[1] != "http://127.0.0.1:9999/telegram/live/abc" {
		t.Errorf("loopback not second: %v", links)
	}
	seen := map[string]bool{}
	for _, l := range links {
		if seen[l] {
			t.Errorf("duplicate link %q", l)
		}
		seen[l] = true
	}
}
