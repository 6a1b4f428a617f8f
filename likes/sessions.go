package likes

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Sessions keeps one Feed per signed in user, the server side counterpart
// of a screen holding its controller. A feed lives until its user drops it
// or it sits unused for longer than the idle timeout.
type Sessions struct {
	store  LikeStore
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	feeds  map[string]*session
	closed bool
}

type session struct {
	feed     *Feed
	lastUsed time.Time
}

type SessionsOption func(*Sessions)

func WithSessionClock(now func() time.Time) SessionsOption {
	return func(s *Sessions) { s.now = now }
}

func NewSessions(store LikeStore, logger *slog.Logger, opts ...SessionsOption) *Sessions {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sessions{
		store:  store,
		logger: logger,
		now:    time.Now,
		feeds:  make(map[string]*session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open returns the feed of p, creating and loading it on first use. A failed
// first load is not an error here; it shows up in the feed state.
func (s *Sessions) Open(ctx context.Context, p Principal) (*Feed, error) {
	if !p.Authenticated() {
		return nil, ErrNotAuthenticated
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if sess, ok := s.feeds[p.UserId]; ok {
		sess.lastUsed = s.now()
		s.mu.Unlock()
		return sess.feed, nil
	}
	feed := NewFeed(s.store, p, s.logger)
	s.feeds[p.UserId] = &session{feed: feed, lastUsed: s.now()}
	s.mu.Unlock()

	s.logger.DebugContext(ctx, "feed session opened", "user_id", p.UserId)
	if err := feed.Refresh(ctx); err != nil && !errors.Is(err, ErrClosed) {
		s.logger.DebugContext(ctx, "initial feed load failed", "user_id", p.UserId, "error", err)
	}
	return feed, nil
}

// Drop closes and forgets the feed of userId.
func (s *Sessions) Drop(userId string) {
	s.mu.Lock()
	sess, ok := s.feeds[userId]
	delete(s.feeds, userId)
	s.mu.Unlock()
	if ok {
		sess.feed.Close()
	}
}

// EvictIdle closes the feeds not opened within idle and returns how many
// were closed.
func (s *Sessions) EvictIdle(idle time.Duration) int {
	cutoff := s.now().Add(-idle)
	var stale []*Feed
	s.mu.Lock()
	for userId, sess := range s.feeds {
		if sess.lastUsed.Before(cutoff) {
			stale = append(stale, sess.feed)
			delete(s.feeds, userId)
		}
	}
	s.mu.Unlock()
	for _, feed := range stale {
		feed.Close()
	}
	return len(stale)
}

// RunEviction calls EvictIdle every idle/2 until ctx is done.
func (s *Sessions) RunEviction(ctx context.Context, idle time.Duration) {
	ticker := time.NewTicker(max(idle/2, time.Second))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.EvictIdle(idle); n > 0 {
				s.logger.InfoContext(ctx, "evicted idle feed sessions", "count", n, "remaining", s.Len())
			}
		}
	}
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.feeds)
}

func (s *Sessions) Close() {
	s.mu.Lock()
	feeds := s.feeds
	s.feeds = make(map[string]*session)
	s.closed = true
	s.mu.Unlock()
	for _, sess := range feeds {
		sess.feed.Close()
	}
}
