package feed

import (
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/minyan-finder/internal/models"
	"github.com/example/minyan-finder/internal/observability"
)

// Session is one connected subscriber watching a synagogue's report feed.
type Session struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *Session) send(r models.MinyanReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(r)
}

// Registry holds live-feed subscriptions keyed by synagogue. Clients
// subscribe explicitly over a websocket; new ledger reports are fanned out
// to everyone watching that synagogue.
type Registry struct {
	mu   sync.RWMutex
	subs map[string]map[*Session]struct{}
}

func NewRegistry() *Registry { return &Registry{subs: make(map[string]map[*Session]struct{})} }

func (r *Registry) Add(synagogueID string, conn *websocket.Conn) *Session {
	s := &Session{conn: conn}
	r.mu.Lock()
	if r.subs[synagogueID] == nil {
		r.subs[synagogueID] = make(map[*Session]struct{})
	}
	r.subs[synagogueID][s] = struct{}{}
	r.mu.Unlock()
	observability.FeedSubscribers.Inc()
	return s
}

func (r *Registry) Remove(synagogueID string, s *Session) {
	r.mu.Lock()
	if set, ok := r.subs[synagogueID]; ok {
		if _, ok := set[s]; ok {
			delete(set, s)
			observability.FeedSubscribers.Dec()
		}
		if len(set) == 0 {
			delete(r.subs, synagogueID)
		}
	}
	r.mu.Unlock()
	_ = s.conn.Close()
}

// Broadcast delivers a new report to everyone watching its synagogue.
// Failed sessions are dropped; delivery is best-effort.
func (r *Registry) Broadcast(report models.MinyanReport) {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.subs[report.SynagogueID]))
	for s := range r.subs[report.SynagogueID] {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()
	for _, s := range sessions {
		if err := s.send(report); err != nil {
			log.Printf("feed send error: %v", err)
			r.Remove(report.SynagogueID, s)
		}
	}
}
