package audio

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Reply is one synthesized assistant reply waiting to be fetched by the browser.
type Reply struct {
	ID          string
	SessionID   string
	ContentType string
	Data        []byte
	CreatedAt   time.Time
}

// ReplyStore keeps synthesized replies in memory until they expire or their
// session ends. Nothing is written to disk.
type ReplyStore struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	replies    map[string]Reply
}

func NewReplyStore(ttl time.Duration, maxEntries int) *ReplyStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if maxEntries <= 0 {
		maxEntries = 256
	}
	return &ReplyStore{
		ttl:        ttl,
		maxEntries: maxEntries,
		replies:    make(map[string]Reply),
	}
}

// Put stores data and returns the id it can be fetched under.
func (s *ReplyStore) Put(sessionID string, data []byte, contentType string) string {
	now := time.Now().UTC()
	r := Reply{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		ContentType: contentType,
		Data:        data,
		CreatedAt:   now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.replies) >= s.maxEntries {
		s.sweepLocked(now)
	}
	if len(s.replies) >= s.maxEntries {
		s.dropOldestLocked(len(s.replies) - s.maxEntries + 1)
	}
	s.replies[r.ID] = r
	return r.ID
}

func (s *ReplyStore) Get(id string) (Reply, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.replies[id]
	if !ok {
		return Reply{}, false
	}
	if time.Since(r.CreatedAt) > s.ttl {
		delete(s.replies, id)
		return Reply{}, false
	}
	return r, true
}

// DropSession removes every reply that belongs to sessionID.
func (s *ReplyStore) DropSession(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, r := range s.replies {
		if r.SessionID == sessionID {
			delete(s.replies, id)
			n++
		}
	}
	return n
}

// Sweep removes expired replies.
func (s *ReplyStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(now)
}

// StartSweeper runs Sweep every interval until ctx ends.
func (s *ReplyStore) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				s.Sweep(now.UTC())
			}
		}
	}()
}

func (s *ReplyStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.replies)
}

func (s *ReplyStore) sweepLocked(now time.Time) int {
	n := 0
	for id, r := range s.replies {
		if now.Sub(r.CreatedAt) > s.ttl {
			delete(s.replies, id)
			n++
		}
	}
	return n
}

func (s *ReplyStore) dropOldestLocked(n int) {
	all := make([]Reply, 0, len(s.replies))
	for _, r := range s.replies {
		all = append(all, r)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	for i := 0; i < n && i < len(all); i++ {
		delete(s.replies, all[i].ID)
	}
}
