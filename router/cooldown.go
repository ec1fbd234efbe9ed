package router

import (
	"sync"
	"time"

	"relay"
)

// cooldownWindow is how long a failed provider stays marked as cooling.
const cooldownWindow = 2 * time.Minute

// cooldownMap tracks per-provider failure cooldowns. Advisory only: a
// cooling provider sorts to the tail of the candidate list but stays
// eligible, so a locked provider can still be forced.
type cooldownMap struct {
	mu    sync.Mutex
	until map[relay.ProviderID]int64 // unix ms
}

func newCooldownMap() *cooldownMap {
	return &cooldownMap{until: make(map[relay.ProviderID]int64)}
}

func (c *cooldownMap) mark(id relay.ProviderID) {
	c.mu.Lock()
	c.until[id] = time.Now().Add(cooldownWindow).UnixMilli()
	c.mu.Unlock()
}

func (c *cooldownMap) clear(id relay.ProviderID) {
	c.mu.Lock()
	delete(c.until, id)
	c.mu.Unlock()
}

func (c *cooldownMap) cooling(id relay.ProviderID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.until[id] > time.Now().UnixMilli()
}

// demote moves cooling providers to the tail, preserving relative order
// within both groups.
func (c *cooldownMap) demote(cands []relay.RouteCandidate) []relay.RouteCandidate {
	out := make([]relay.RouteCandidate, 0, len(cands))
	var tail []relay.RouteCandidate
	for _, cand := range cands {
		if c.cooling(cand.Provider) {
			tail = append(tail, cand)
		} else {
			out = append(out, cand)
		}
	}
	return append(out, tail...)
}
