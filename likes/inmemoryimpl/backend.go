package inmemoryimpl

import (
	"context"
	"fmt"
	"sync"

	"x-clone/likes"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

type recordKey struct {
	collection string
	key        string
}

// InMemoryBackend keeps the whole tree in process memory. Records are
// copied on the way in and out, so callers never share maps with it.
type InMemoryBackend struct {
	mu   sync.RWMutex
	tree map[string]map[string]any
}

func NewInMemoryBackend() *InMemoryBackend {
	return &InMemoryBackend{
		tree: make(map[string]map[string]any),
	}
}

func (b *InMemoryBackend) List(_ context.Context, p likes.Principal, path string) ([]likes.Record, error) {
	segs, err := likes.Authorize(p, path, likes.OpRead, nil)
	if err != nil {
		return nil, err
	}
	if len(segs) != 1 {
		return nil, fmt.Errorf("list %q: not a collection - %w", path, likes.ErrInvalidPath)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	coll := b.tree[segs[0]]
	keys := maps.Keys(coll)
	slices.Sort(keys)
	records := make([]likes.Record, 0, len(keys))
	for _, key := range keys {
		records = append(records, likes.Record{Key: key, Value: copyValue(coll[key])})
	}
	return records, nil
}

func (b *InMemoryBackend) Get(_ context.Context, p likes.Principal, path string) (any, bool, error) {
	segs, err := likes.Authorize(p, path, likes.OpRead, nil)
	if err != nil {
		return nil, false, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	coll := b.tree[segs[0]]
	switch len(segs) {
	case 1:
		if len(coll) == 0 {
			return nil, false, nil
		}
		out := make(map[string]any, len(coll))
		for key, rec := range coll {
			out[key] = copyValue(rec)
		}
		return out, true, nil
	case 2:
		rec, ok := coll[segs[1]]
		return copyValue(rec), ok, nil
	default:
		rec, _ := coll[segs[1]].(map[string]any)
		v, ok := rec[segs[2]]
		return v, ok, nil
	}
}

func (b *InMemoryBackend) Set(ctx context.Context, p likes.Principal, path string, value any) error {
	return b.Update(ctx, p, map[string]any{path: value})
}

func (b *InMemoryBackend) Remove(ctx context.Context, p likes.Principal, path string) error {
	return b.Update(ctx, p, map[string]any{path: nil})
}

// Update stages every write against a copy of the touched records and only
// commits when all of them succeeded.
func (b *InMemoryBackend) Update(_ context.Context, p likes.Principal, values map[string]any) error {
	parsed := make(map[string][]string, len(values))
	for path, v := range values {
		segs, err := likes.Authorize(p, path, likes.OpWrite, v)
		if err != nil {
			return err
		}
		parsed[path] = segs
	}
	paths := maps.Keys(values)
	slices.Sort(paths)

	b.mu.Lock()
	defer b.mu.Unlock()
	staged := make(map[recordKey]any, len(paths))
	for _, path := range paths {
		segs := parsed[path]
		rk := recordKey{segs[0], segs[1]}
		current, ok := staged[rk]
		if !ok {
			current = b.tree[rk.collection][rk.key]
		}
		if likes.OwnedRecord(segs) {
			if err := likes.CheckOwner(p, path, current); err != nil {
				return err
			}
		}
		next, err := apply(current, segs, values[path])
		if err != nil {
			return fmt.Errorf("update %q: %w", path, err)
		}
		staged[rk] = next
	}

	for rk, rec := range staged {
		if rec == nil {
			delete(b.tree[rk.collection], rk.key)
			continue
		}
		if b.tree[rk.collection] == nil {
			b.tree[rk.collection] = make(map[string]any)
		}
		b.tree[rk.collection][rk.key] = rec
	}
	return nil
}

func (b *InMemoryBackend) IsReady(_ context.Context) bool {
	return true
}

func apply(current any, segs []string, value any) (any, error) {
	if len(segs) == 2 {
		return copyValue(value), nil
	}

	rec, _ := current.(map[string]any)
	rec = maps.Clone(rec)
	if rec == nil {
		rec = make(map[string]any)
	}
	field := segs[2]
	switch v := value.(type) {
	case nil:
		delete(rec, field)
	case likes.Increment:
		old, exists := rec[field]
		n, ok := likes.AsInt64(old)
		if exists && !ok {
			return nil, fmt.Errorf("cannot increment %T - %w", old, likes.ErrStorage)
		}
		rec[field] = n + int64(v)
	default:
		rec[field] = v
	}
	if len(rec) == 0 {
		return nil, nil
	}
	return rec, nil
}

func copyValue(v any) any {
	if rec, ok := v.(map[string]any); ok {
		return maps.Clone(rec)
	}
	return v
}
