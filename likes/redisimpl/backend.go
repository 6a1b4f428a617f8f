package redisimpl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"x-clone/likes"

	"github.com/redis/go-redis/v9"
	"golang.org/x/exp/slices"
)

// Layout: every collection has a set named after it holding its keys, and
// every record is a hash at "collection:key" whose fields hold JSON values.
//
//	SMEMBERS posts            -> seed_1 seed_2
//	HGETALL  posts:seed_1     -> likeCount "4" text "\"hello\"" ...
//	HGETALL  userLikes:alice  -> seed_1 "true"
func recordKey(collection, key string) string { return collection + ":" + key }

func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

type RedisBackend struct {
	client *redis.Client
}

func storageErr(op string, err error) error {
	return fmt.Errorf("redis %s: %v - %w", op, err, likes.ErrStorage)
}

// List reads the collection index and fetches every record in one pipeline.
func (r *RedisBackend) List(ctx context.Context, p likes.Principal, path string) ([]likes.Record, error) {
	segs, err := likes.Authorize(p, path, likes.OpRead, nil)
	if err != nil {
		return nil, err
	}
	if len(segs) != 1 {
		return nil, fmt.Errorf("list %q: not a collection - %w", path, likes.ErrInvalidPath)
	}
	return r.list(ctx, segs[0])
}

func (r *RedisBackend) list(ctx context.Context, collection string) ([]likes.Record, error) {
	keys, err := r.client.SMembers(ctx, collection).Result()
	if err != nil {
		return nil, storageErr("list", err)
	}
	slices.Sort(keys)

	cmds := make([]*redis.MapStringStringCmd, len(keys))
	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, key := range keys {
			cmds[i] = pipe.HGetAll(ctx, recordKey(collection, key))
		}
		return nil
	})
	if err != nil {
		return nil, storageErr("list", err)
	}

	records := make([]likes.Record, 0, len(keys))
	for i, key := range keys {
		fields := cmds[i].Val()
		// Index entries can outlive a record whose last field was deleted.
		if len(fields) == 0 {
			continue
		}
		records = append(records, likes.Record{Key: key, Value: decodeRecord(fields)})
	}
	return records, nil
}

func (r *RedisBackend) Get(ctx context.Context, p likes.Principal, path string) (any, bool, error) {
	segs, err := likes.Authorize(p, path, likes.OpRead, nil)
	if err != nil {
		return nil, false, err
	}

	switch len(segs) {
	case 1:
		records, err := r.list(ctx, segs[0])
		if err != nil || len(records) == 0 {
			return nil, false, err
		}
		out := make(map[string]any, len(records))
		for _, rec := range records {
			out[rec.Key] = rec.Value
		}
		return out, true, nil
	case 2:
		fields, err := r.client.HGetAll(ctx, recordKey(segs[0], segs[1])).Result()
		if err != nil {
			return nil, false, storageErr("get", err)
		}
		if len(fields) == 0 {
			return nil, false, nil
		}
		return decodeRecord(fields), true, nil
	default:
		raw, err := r.client.HGet(ctx, recordKey(segs[0], segs[1]), segs[2]).Result()
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, storageErr("get", err)
		}
		return decodeValue(raw), true, nil
	}
}

func (r *RedisBackend) Set(ctx context.Context, p likes.Principal, path string, value any) error {
	return r.Update(ctx, p, map[string]any{path: value})
}

func (r *RedisBackend) Remove(ctx context.Context, p likes.Principal, path string) error {
	return r.Update(ctx, p, map[string]any{path: nil})
}

// Update queues all writes in one MULTI/EXEC block. Replacing a post
// WATCHes its hash so the owner check and the write see the same record.
func (r *RedisBackend) Update(ctx context.Context, p likes.Principal, values map[string]any) error {
	parsed := make(map[string][]string, len(values))
	paths := make([]string, 0, len(values))
	owned := make(map[string]string)
	for path, v := range values {
		segs, err := likes.Authorize(p, path, likes.OpWrite, v)
		if err != nil {
			return err
		}
		parsed[path] = segs
		paths = append(paths, path)
		if likes.OwnedRecord(segs) {
			owned[path] = recordKey(segs[0], segs[1])
		}
	}
	slices.Sort(paths)

	queue := func(pipe redis.Pipeliner) error {
		for _, path := range paths {
			if err := queueWrite(ctx, pipe, parsed[path], values[path]); err != nil {
				return err
			}
		}
		return nil
	}

	var err error
	if len(owned) == 0 {
		_, err = r.client.TxPipelined(ctx, queue)
	} else {
		keys := make([]string, 0, len(owned))
		for _, key := range owned {
			keys = append(keys, key)
		}
		err = r.client.Watch(ctx, func(tx *redis.Tx) error {
			for path, key := range owned {
				fields, err := tx.HGetAll(ctx, key).Result()
				if err != nil {
					return err
				}
				var stored any
				if len(fields) > 0 {
					stored = decodeRecord(fields)
				}
				if err := likes.CheckOwner(p, path, stored); err != nil {
					return err
				}
			}
			_, err := tx.TxPipelined(ctx, queue)
			return err
		}, keys...)
	}
	if err != nil {
		if errors.Is(err, likes.ErrStorage) || errors.Is(err, likes.ErrPermissionDenied) {
			return err
		}
		return storageErr("update", err)
	}
	return nil
}

func queueWrite(ctx context.Context, pipe redis.Pipeliner, segs []string, value any) error {
	collection, key := segs[0], segs[1]
	hash := recordKey(collection, key)

	if len(segs) == 2 {
		pipe.Del(ctx, hash)
		rec, _ := value.(map[string]any)
		if len(rec) == 0 {
			pipe.SRem(ctx, collection, key)
			return nil
		}
		fields, err := encodeRecord(rec)
		if err != nil {
			return err
		}
		pipe.HSet(ctx, hash, fields)
		pipe.SAdd(ctx, collection, key)
		return nil
	}

	field := segs[2]
	switch v := value.(type) {
	case nil:
		pipe.HDel(ctx, hash, field)
		return nil
	case likes.Increment:
		pipe.HIncrBy(ctx, hash, field, int64(v))
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return storageErr("encode "+field, err)
		}
		pipe.HSet(ctx, hash, field, string(raw))
	}
	pipe.SAdd(ctx, collection, key)
	return nil
}

func (r *RedisBackend) IsReady(ctx context.Context) bool {
	if r.client == nil {
		return false
	}
	return r.client.Ping(ctx).Err() == nil
}

func encodeRecord(rec map[string]any) (map[string]any, error) {
	fields := make(map[string]any, len(rec))
	for name, v := range rec {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, storageErr("encode "+name, err)
		}
		fields[name] = string(raw)
	}
	return fields, nil
}

func decodeRecord(fields map[string]string) map[string]any {
	rec := make(map[string]any, len(fields))
	for name, raw := range fields {
		rec[name] = decodeValue(raw)
	}
	return rec
}

// decodeValue returns raw itself when it is not JSON, which is how values
// written by other tools show up.
func decodeValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}
