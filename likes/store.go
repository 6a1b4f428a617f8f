package likes

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"
)

// Store maps posts and per-user like marks onto a Backend.
//
// The shared likeCount is maintained by each client from the count it last
// saw (read, then write). Two clients toggling the same post concurrently
// can therefore lose one of the updates. WithAtomicCounters switches the
// count writes to backend side increments, which closes that gap on
// backends that support Increment.
type Store struct {
	backend        Backend
	logger         *slog.Logger
	atomicCounters bool
	now            func() time.Time
}

type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithAtomicCounters() Option {
	return func(s *Store) { s.atomicCounters = true }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrBackendUnavailable, err)
}

// FetchAllPosts returns every post, newest first. Posts sharing a timestamp
// keep the order the backend listed them in.
func (s *Store) FetchAllPosts(ctx context.Context, p Principal) ([]Post, error) {
	if !p.Authenticated() {
		return nil, ErrNotAuthenticated
	}
	records, err := s.backend.List(ctx, p, PostsPath)
	if err != nil {
		return nil, unavailable("fetch posts", err)
	}

	posts := make([]Post, 0, len(records))
	for _, rec := range records {
		post, ok := decodePost(rec.Key, rec.Value)
		if !ok {
			s.logger.WarnContext(ctx, "skipping undecodable post", "post_id", rec.Key, "type", fmt.Sprintf("%T", rec.Value))
			continue
		}
		posts = append(posts, post)
	}
	slices.SortStableFunc(posts, func(a, b Post) int {
		return cmp.Compare(b.Timestamp, a.Timestamp)
	})
	return posts, nil
}

// FetchLikeSet returns the posts userId likes. Only marks stored as the
// boolean true count; anything else is treated as not liked. Whether p may
// read userId's partition is decided by the backend.
func (s *Store) FetchLikeSet(ctx context.Context, p Principal, userId string) (LikeSet, error) {
	if !p.Authenticated() {
		return nil, ErrNotAuthenticated
	}
	value, found, err := s.backend.Get(ctx, p, LikeSetPath(userId))
	if err != nil {
		return nil, unavailable("fetch like set", err)
	}

	liked := LikeSet{}
	if !found {
		return liked, nil
	}
	marks, ok := value.(map[string]any)
	if !ok {
		s.logger.DebugContext(ctx, "malformed like set", "user_id", userId, "type", fmt.Sprintf("%T", value))
		return liked, nil
	}
	for postId, mark := range marks {
		if isLikeMark(mark) {
			liked[postId] = struct{}{}
		} else {
			s.logger.DebugContext(ctx, "malformed like value", "user_id", userId, "post_id", postId, "value", mark)
		}
	}
	return liked, nil
}

func isLikeMark(v any) bool {
	b, ok := v.(bool)
	return ok && b
}

// ToggleLike flips p's like on postId and returns the new state together
// with the count derived from knownLikeCount.
//
// Liking writes the mark and the count in one atomic update. Unliking
// removes the mark first and then writes the count, so an interruption in
// between leaves the count one too high rather than keeping a mark the
// user removed.
func (s *Store) ToggleLike(ctx context.Context, p Principal, postId string, knownLikeCount int64) (bool, int64, error) {
	if !p.Authenticated() {
		return false, knownLikeCount, ErrNotAuthenticated
	}
	markPath := LikeMarkPath(p.UserId, postId)
	current, found, err := s.backend.Get(ctx, p, markPath)
	if err != nil {
		return false, knownLikeCount, unavailable("read like mark", err)
	}
	if found && !isLikeMark(current) {
		s.logger.DebugContext(ctx, "malformed like value", "user_id", p.UserId, "post_id", postId, "value", current)
	}

	if !isLikeMark(current) {
		newCount := knownLikeCount + 1
		err = s.backend.Update(ctx, p, map[string]any{
			markPath:              true,
			LikeCountPath(postId): s.countValue(newCount, 1),
		})
		if err != nil {
			return false, knownLikeCount, unavailable("like", err)
		}
		return true, newCount, nil
	}

	newCount := max(knownLikeCount-1, 0)
	if err := s.backend.Remove(ctx, p, markPath); err != nil {
		return true, knownLikeCount, unavailable("unlike", err)
	}
	if err := s.backend.Set(ctx, p, LikeCountPath(postId), s.countValue(newCount, -1)); err != nil {
		return false, knownLikeCount, unavailable("write like count", err)
	}
	return false, newCount, nil
}

func (s *Store) countValue(newCount int64, delta int64) any {
	if s.atomicCounters {
		return Increment(delta)
	}
	return newCount
}

// PublishPost creates a post authored by p with no likes.
func (s *Store) PublishPost(ctx context.Context, p Principal, text string) (Post, error) {
	if !p.Authenticated() {
		return Post{}, ErrNotAuthenticated
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Post{}, ErrEmptyText
	}

	post := Post{
		PostId:     uuid.NewString(),
		AuthorId:   p.UserId,
		AuthorName: p.DisplayName,
		Handle:     p.Handle,
		Text:       text,
		Timestamp:  s.now().UnixMilli(),
	}
	if err := s.backend.Set(ctx, p, PostPath(post.PostId), postRecord(post)); err != nil {
		return Post{}, unavailable("publish post", err)
	}
	return post, nil
}

// IsReady reports whether the backend can serve requests.
func (s *Store) IsReady(ctx context.Context) bool {
	return s.backend.IsReady(ctx)
}
