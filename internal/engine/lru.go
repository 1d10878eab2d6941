package engine

import (
	"container/list"
	"fmt"
	"sync"
	"time"
)

// loopGuard is a small TTL'd LRU of recently routed (session, source_ref,
// message_id) tuples. One guard is shared by all sessions: keys include the
// session id, and the capacity bounds the total across sessions, not each
// session's share. Chain forwarding consults it so a synthetic re-emission
// cannot echo back through the same session within the window.
type loopGuard struct {
	capacity int
	ttl      time.Duration
	now      func() time.Time

	mu      sync.Mutex
	order   *list.List
	entries map[string]*list.Element
}

type guardEntry struct {
	key string
	at  time.Time
}

func newLoopGuard(capacity int, ttl time.Duration) *loopGuard {
	return &loopGuard{
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
		order:    list.New(),
		entries:  map[string]*list.Element{},
	}
}

func guardKey(sessionID, sourceRef string, messageID int64) string {
	return fmt.Sprintf("%s|%s|%d", sessionID, sourceRef, messageID)
}

// Remember records a tuple, evicting the oldest entry past capacity.
func (g *loopGuard) Remember(sessionID, sourceRef string, messageID int64) {
	key := guardKey(sessionID, sourceRef, messageID)
	g.mu.Lock()
	defer g.mu.Unlock()
	if el, ok := g.entries[key]; ok {
		el.Value.(*guardEntry).at = g.now()
		g.order.MoveToFront(el)
		return
	}
	g.entries[key] = g.order.PushFront(&guardEntry{key: key, at: g.now()})
	for g.order.Len() > g.capacity {
		oldest := g.order.Back()
		g.order.Remove(oldest)
		delete(g.entries, oldest.Value.(*guardEntry).key)
	}
}

// Seen reports whether the tuple was remembered within the TTL.
func (g *loopGuard) Seen(sessionID, sourceRef string, messageID int64) bool {
	key := guardKey(sessionID, sourceRef, messageID)
	g.mu.Lock()
	defer g.mu.Unlock()
	el, ok := g.entries[key]
	if !ok {
		return false
	}
	if g.now().Sub(el.Value.(*guardEntry).at) > g.ttl {
		g.order.Remove(el)
		delete(g.entries, key)
		return false
	}
	return true
}
