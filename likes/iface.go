package likes

import (
	"context"
	"encoding/json"
	"math"
)

// Post is a shared timeline entry stored under posts/{postId}.
type Post struct {
	PostId     string `json:"id"`
	AuthorId   string `json:"authorId"`
	AuthorName string `json:"authorName"`
	Handle     string `json:"handle"`
	Text       string `json:"text"`
	LikeCount  int64  `json:"likeCount"`
	Timestamp  int64  `json:"timestamp"`
}

// Principal is the authenticated user on whose behalf a backend call runs.
// A zero UserId means nobody is signed in.
type Principal struct {
	UserId      string
	DisplayName string
	Handle      string
}

func (p Principal) Authenticated() bool {
	return p.UserId != ""
}

// Record is one child of a collection as returned by Backend.List.
type Record struct {
	Key   string
	Value any
}

// Increment is a write value that adds to the integer stored at a path
// instead of replacing it. A missing value counts as zero.
type Increment int64

// Backend is a JSON tree database. Paths have the form
// collection[/key[/field]]. Records at depth two are map[string]any,
// leaves are scalars. Writing nil removes the path.
type Backend interface {
	List(ctx context.Context, p Principal, path string) ([]Record, error)
	Get(ctx context.Context, p Principal, path string) (any, bool, error)
	Set(ctx context.Context, p Principal, path string, value any) error
	// Update applies every path/value pair or none of them.
	Update(ctx context.Context, p Principal, values map[string]any) error
	Remove(ctx context.Context, p Principal, path string) error
	IsReady(ctx context.Context) bool
}

// AsInt64 converts the numeric representations produced by the different
// backends (JSON floats, BSON int32/int64) into an int64.
func AsInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case Increment:
		return int64(n), true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

func postRecord(post Post) map[string]any {
	return map[string]any{
		"authorId":   post.AuthorId,
		"authorName": post.AuthorName,
		"handle":     post.Handle,
		"text":       post.Text,
		"likeCount":  post.LikeCount,
		"timestamp":  post.Timestamp,
	}
}

func decodePost(postId string, value any) (Post, bool) {
	fields, ok := value.(map[string]any)
	if !ok {
		return Post{}, false
	}
	post := Post{PostId: postId}
	post.AuthorId, _ = fields["authorId"].(string)
	post.AuthorName, _ = fields["authorName"].(string)
	post.Handle, _ = fields["handle"].(string)
	post.Text, _ = fields["text"].(string)
	post.LikeCount, _ = AsInt64(fields["likeCount"])
	post.Timestamp, _ = AsInt64(fields["timestamp"])
	if post.LikeCount < 0 {
		post.LikeCount = 0
	}
	return post, true
}
