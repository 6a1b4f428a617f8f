package likes

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/exp/slices"
)

// LikeStore is what a Feed needs from Store.
type LikeStore interface {
	FetchAllPosts(ctx context.Context, p Principal) ([]Post, error)
	FetchLikeSet(ctx context.Context, p Principal, userId string) (LikeSet, error)
	ToggleLike(ctx context.Context, p Principal, postId string, knownLikeCount int64) (bool, int64, error)
}

type Status int

const (
	StatusLoading Status = iota
	StatusEmpty
	StatusReady
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusEmpty:
		return "empty"
	case StatusReady:
		return "ready"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// FeedState is a snapshot of what the feed shows. Items is only set when
// Status is StatusReady, Err only when it is StatusFailed.
type FeedState struct {
	Status Status
	Items  []PostWithLikeState
	Err    error
}

func (st FeedState) clone() FeedState {
	st.Items = slices.Clone(st.Items)
	return st
}

// Feed keeps one user's merged view of posts and like marks, the display
// mode, and applies like toggles optimistically.
//
// A toggle changes the in-memory entry before the store is called. On
// success the entry takes the state the store returned, unless a later
// toggle on the same post is in flight. On failure the entry is put back,
// but only while it still shows this toggle's optimistic values. A refresh
// that lands while toggles are in flight keeps them applied on top of the
// fetched posts.
//
// State is not republished while a refresh is Loading, so toggles made
// during a load only show up in State once it completes. Entry always
// reflects them.
type Feed struct {
	store     LikeStore
	principal Principal
	logger    *slog.Logger

	lifetime context.Context
	cancel   context.CancelFunc

	mu          sync.Mutex
	closed      bool
	likedOnly   bool
	merged      []PostWithLikeState
	state       FeedState
	generation  uint64
	seq         uint64
	pending     map[string]pendingToggle
	subscribers map[int]chan FeedState
	nextSub     int
}

func NewFeed(store LikeStore, principal Principal, logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	lifetime, cancel := context.WithCancel(context.Background())
	return &Feed{
		store:       store,
		principal:   principal,
		logger:      logger.With("user_id", principal.UserId),
		lifetime:    lifetime,
		cancel:      cancel,
		state:       FeedState{Status: StatusLoading},
		pending:     make(map[string]pendingToggle),
		subscribers: make(map[int]chan FeedState),
	}
}

func (f *Feed) Principal() Principal {
	return f.principal
}

func (f *Feed) State() FeedState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.clone()
}

func (f *Feed) LikedOnly() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.likedOnly
}

// Entry returns the merged entry for postId whether or not the display mode
// currently shows it.
func (f *Feed) Entry(postId string) (PostWithLikeState, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.indexLocked(postId)
	if i < 0 {
		return PostWithLikeState{}, false
	}
	return f.merged[i], true
}

// Subscribe delivers the current state and every later change. A slow
// reader only ever sees the latest state. The returned func unsubscribes.
func (f *Feed) Subscribe() (<-chan FeedState, func()) {
	ch := make(chan FeedState, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		close(ch)
		return ch, func() {}
	}
	id := f.nextSub
	f.nextSub++
	f.subscribers[id] = ch
	ch <- f.state.clone()

	return ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if sub, ok := f.subscribers[id]; ok {
			delete(f.subscribers, id)
			close(sub)
		}
	}
}

// Refresh fetches posts and the user's like set and rebuilds the merged
// list. A failing post fetch leaves the feed Failed; a failing like set
// fetch only means nothing is shown as liked.
func (f *Feed) Refresh(ctx context.Context) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrClosed
	}
	f.generation++
	gen := f.generation
	f.setStateLocked(FeedState{Status: StatusLoading})
	f.mu.Unlock()

	ctx, stop := f.bind(ctx)
	defer stop()

	posts, err := f.store.FetchAllPosts(ctx, f.principal)
	if err != nil {
		f.logger.WarnContext(ctx, "feed refresh failed", "error", err)
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.closed {
			return ErrClosed
		}
		if gen == f.generation {
			f.setStateLocked(FeedState{Status: StatusFailed, Err: err})
		}
		return err
	}

	liked := LikeSet{}
	if len(posts) > 0 {
		set, err := f.store.FetchLikeSet(ctx, f.principal, f.principal.UserId)
		if err != nil {
			f.logger.WarnContext(ctx, "like set unavailable, showing nothing as liked", "error", err)
		} else {
			liked = set
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	if gen != f.generation {
		return nil
	}
	f.merged = Merge(posts, liked)
	f.rebasePendingLocked()
	f.publishLocked()
	return nil
}

// ToggleDisplayMode switches between all posts and liked posts only.
// Entering liked-only mode refetches; going back to all posts reuses the
// merged list already in memory.
func (f *Feed) ToggleDisplayMode(ctx context.Context, likedOnly bool) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrClosed
	}
	f.likedOnly = likedOnly
	if !likedOnly {
		f.rederiveLocked()
		f.mu.Unlock()
		return nil
	}
	f.mu.Unlock()
	return f.Refresh(ctx)
}

// ToggleLike flips the like on postId in memory right away and persists
// it in the background. The returned channel yields the outcome once.
func (f *Feed) ToggleLike(ctx context.Context, postId string) (<-chan error, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, ErrClosed
	}
	i := f.indexLocked(postId)
	if i < 0 {
		f.mu.Unlock()
		return nil, ErrPostNotFound
	}
	entry := &f.merged[i]
	prevLiked, prevCount := entry.IsLikedByCurrentUser, entry.LikeCount
	entry.IsLikedByCurrentUser = !prevLiked
	if prevLiked {
		entry.LikeCount = max(prevCount-1, 0)
	} else {
		entry.LikeCount = prevCount + 1
	}
	f.seq++
	seq := f.seq
	f.pending[postId] = pendingToggle{
		seq:       seq,
		liked:     entry.IsLikedByCurrentUser,
		count:     entry.LikeCount,
		prevLiked: prevLiked,
		prevCount: prevCount,
	}
	f.rederiveLocked()
	f.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		defer close(done)
		ctx, stop := f.bind(ctx)
		defer stop()

		liked, count, err := f.store.ToggleLike(ctx, f.principal, postId, prevCount)
		if err != nil {
			f.logger.WarnContext(ctx, "like toggle failed, reverting", "post_id", postId, "error", err)
		}
		f.settle(postId, seq, liked, count, err)
		if err == nil && f.isClosed() {
			err = ErrClosed
		}
		done <- err
	}()
	return done, nil
}

// pendingToggle is a toggle whose write has not completed yet: the values
// it put on the entry and the values to restore if the write fails.
type pendingToggle struct {
	seq       uint64
	liked     bool
	count     int64
	prevLiked bool
	prevCount int64
}

func (f *Feed) settle(postId string, seq uint64, liked bool, count int64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pt, ok := f.pending[postId]
	if f.closed || !ok || pt.seq != seq {
		return
	}
	delete(f.pending, postId)
	i := f.indexLocked(postId)
	if i < 0 {
		return
	}
	e := &f.merged[i]
	switch {
	case err == nil:
		e.IsLikedByCurrentUser, e.LikeCount = liked, count
	case e.IsLikedByCurrentUser == pt.liked && e.LikeCount == pt.count:
		e.IsLikedByCurrentUser, e.LikeCount = pt.prevLiked, pt.prevCount
	default:
		return
	}
	f.rederiveLocked()
}

// rebasePendingLocked reapplies in-flight toggles to a freshly merged list.
// A fetched entry that already shows the toggled like state is kept as is;
// otherwise the toggle is applied to the fetched count. Either way the
// fetched values become what a failed write restores.
func (f *Feed) rebasePendingLocked() {
	for postId, pt := range f.pending {
		i := f.indexLocked(postId)
		if i < 0 {
			delete(f.pending, postId)
			continue
		}
		e := &f.merged[i]
		pt.prevLiked, pt.prevCount = e.IsLikedByCurrentUser, e.LikeCount
		if e.IsLikedByCurrentUser != pt.liked {
			e.IsLikedByCurrentUser = pt.liked
			if pt.liked {
				e.LikeCount++
			} else {
				e.LikeCount = max(e.LikeCount-1, 0)
			}
		}
		pt.count = e.LikeCount
		f.pending[postId] = pt
	}
}

// Close cancels in-flight work. Results arriving afterwards are dropped.
func (f *Feed) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	for id, ch := range f.subscribers {
		delete(f.subscribers, id)
		close(ch)
	}
	f.mu.Unlock()
	f.cancel()
}

func (f *Feed) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// bind ties ctx to the feed lifetime.
func (f *Feed) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(ctx)
	stop := context.AfterFunc(f.lifetime, func() { cancel(ErrClosed) })
	return ctx, func() {
		stop()
		cancel(nil)
	}
}

func (f *Feed) indexLocked(postId string) int {
	return slices.IndexFunc(f.merged, func(e PostWithLikeState) bool { return e.PostId == postId })
}

// rederiveLocked republishes the visible list after a local change, but
// never hides a load in progress or a failure.
func (f *Feed) rederiveLocked() {
	if f.state.Status == StatusLoading || f.state.Status == StatusFailed {
		return
	}
	f.publishLocked()
}

func (f *Feed) publishLocked() {
	visible := slices.Clone(f.merged)
	if f.likedOnly {
		visible = FilterLiked(f.merged)
	}
	if len(visible) == 0 {
		f.setStateLocked(FeedState{Status: StatusEmpty})
		return
	}
	f.setStateLocked(FeedState{Status: StatusReady, Items: visible})
}

func (f *Feed) setStateLocked(st FeedState) {
	f.state = st
	for _, ch := range f.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- st.clone()
	}
}
