package likes_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"x-clone/likes"
	"x-clone/likes/inmemoryimpl"

	"github.com/stretchr/testify/require"
)

var ctx = context.Background()

var errConnReset = fmt.Errorf("connection reset - %w", likes.ErrStorage)

const (
	opList   = "list"
	opGet    = "get"
	opSet    = "set"
	opUpdate = "update"
	opRemove = "remove"
)

// gate parks calls of one backend operation until it is opened.
type gate struct {
	arrived chan struct{}
	release chan struct{}
}

func (g *gate) open() { close(g.release) }

// waitArrivals blocks until n calls are parked at the gate.
func (g *gate) waitArrivals(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		<-g.arrived
	}
}

// faultyBackend wraps a real backend with injectable failures and gates.
type faultyBackend struct {
	likes.Backend

	mu    sync.Mutex
	fail  map[string]error
	gates map[string]*gate
}

func newFaultyBackend() *faultyBackend {
	return &faultyBackend{
		Backend: inmemoryimpl.NewInMemoryBackend(),
		fail:    make(map[string]error),
		gates:   make(map[string]*gate),
	}
}

func (b *faultyBackend) failOn(op string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.fail, op)
		return
	}
	b.fail[op] = err
}

func (b *faultyBackend) hold(op string) *gate {
	b.mu.Lock()
	defer b.mu.Unlock()
	g := &gate{arrived: make(chan struct{}, 16), release: make(chan struct{})}
	b.gates[op] = g
	return g
}

func (b *faultyBackend) unhold(op string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.gates, op)
}

func (b *faultyBackend) before(ctx context.Context, op string) error {
	b.mu.Lock()
	g := b.gates[op]
	b.mu.Unlock()
	if g != nil {
		g.arrived <- struct{}{}
		select {
		case <-g.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fail[op]
}

func (b *faultyBackend) List(ctx context.Context, p likes.Principal, path string) ([]likes.Record, error) {
	if err := b.before(ctx, opList); err != nil {
		return nil, err
	}
	return b.Backend.List(ctx, p, path)
}

func (b *faultyBackend) Get(ctx context.Context, p likes.Principal, path string) (any, bool, error) {
	if err := b.before(ctx, opGet); err != nil {
		return nil, false, err
	}
	return b.Backend.Get(ctx, p, path)
}

func (b *faultyBackend) Set(ctx context.Context, p likes.Principal, path string, value any) error {
	if err := b.before(ctx, opSet); err != nil {
		return err
	}
	return b.Backend.Set(ctx, p, path, value)
}

func (b *faultyBackend) Update(ctx context.Context, p likes.Principal, values map[string]any) error {
	if err := b.before(ctx, opUpdate); err != nil {
		return err
	}
	return b.Backend.Update(ctx, p, values)
}

func (b *faultyBackend) Remove(ctx context.Context, p likes.Principal, path string) error {
	if err := b.before(ctx, opRemove); err != nil {
		return err
	}
	return b.Backend.Remove(ctx, p, path)
}

func principal(userId string) likes.Principal {
	return likes.Principal{UserId: userId, DisplayName: "User " + userId, Handle: "@" + userId}
}

// seedPost stores post as written by its author.
func seedPost(t *testing.T, b likes.Backend, post likes.Post) {
	t.Helper()
	err := b.Set(ctx, principal(post.AuthorId), likes.PostPath(post.PostId), map[string]any{
		"authorId":   post.AuthorId,
		"authorName": post.AuthorName,
		"handle":     post.Handle,
		"text":       post.Text,
		"likeCount":  post.LikeCount,
		"timestamp":  post.Timestamp,
	})
	require.NoError(t, err)
}

func seedMark(t *testing.T, b likes.Backend, userId, postId string, value any) {
	t.Helper()
	require.NoError(t, b.Set(ctx, principal(userId), likes.LikeMarkPath(userId, postId), value))
}

func storedLikeCount(t *testing.T, b likes.Backend, postId string) int64 {
	t.Helper()
	v, found, err := b.Get(ctx, principal("auditor"), likes.LikeCountPath(postId))
	require.NoError(t, err)
	require.True(t, found)
	n, ok := likes.AsInt64(v)
	require.True(t, ok, "likeCount is %T", v)
	return n
}

func hasMark(t *testing.T, b likes.Backend, userId, postId string) bool {
	t.Helper()
	v, found, err := b.Get(ctx, principal(userId), likes.LikeMarkPath(userId, postId))
	require.NoError(t, err)
	return found && v == true
}

func newPost(id string, likeCount, timestamp int64) likes.Post {
	return likes.Post{
		PostId:     id,
		AuthorId:   "author",
		AuthorName: "Author",
		Handle:     "@author",
		Text:       "post " + id,
		LikeCount:  likeCount,
		Timestamp:  timestamp,
	}
}
