package likes

import (
	"fmt"
	"strings"
)

const (
	PostsPath     = "posts"
	UserLikesPath = "userLikes"

	likeCountField = "likeCount"

	// AuthorField holds the owner of a post record.
	AuthorField = "authorId"
)

func PostPath(postId string) string { return PostsPath + "/" + postId }

func LikeCountPath(postId string) string { return PostPath(postId) + "/" + likeCountField }

func LikeSetPath(userId string) string { return UserLikesPath + "/" + userId }

func LikeMarkPath(userId, postId string) string { return LikeSetPath(userId) + "/" + postId }

type Op int

const (
	OpRead Op = iota
	OpWrite
)

// SplitPath breaks a path into between one and three non-empty segments.
func SplitPath(path string) ([]string, error) {
	segs := strings.Split(strings.Trim(path, "/"), "/")
	if len(segs) > 3 {
		return nil, fmt.Errorf("%q is deeper than collection/key/field - %w", path, ErrInvalidPath)
	}
	for _, seg := range segs {
		if seg == "" {
			return nil, fmt.Errorf("%q has an empty segment - %w", path, ErrInvalidPath)
		}
	}
	return segs, nil
}

// Authorize applies the database rules to one access and returns the parsed
// path. Every backend calls it before touching storage, so the rules hold
// regardless of where the tree lives:
//
//	posts, posts/{id}, posts/{id}/*   readable by any signed in user
//	posts/{id}                        writable whole by its author only
//	                                  (see CheckOwner for existing posts)
//	posts/{id}/likeCount              writable by any signed in user
//	userLikes/{uid}/...               readable and writable by uid only
func Authorize(p Principal, path string, op Op, value any) ([]string, error) {
	segs, err := SplitPath(path)
	if err != nil {
		return nil, err
	}
	if op == OpWrite {
		if err := checkShape(segs, value); err != nil {
			return nil, err
		}
	}
	if !p.Authenticated() {
		return nil, fmt.Errorf("anonymous access to %q - %w", path, ErrPermissionDenied)
	}

	switch segs[0] {
	case PostsPath:
		if op == OpRead {
			return segs, nil
		}
		if len(segs) == 3 && segs[2] == likeCountField {
			return segs, nil
		}
		if len(segs) == 2 {
			if fields, ok := value.(map[string]any); ok && fields[AuthorField] == p.UserId {
				return segs, nil
			}
		}
	case UserLikesPath:
		if len(segs) >= 2 && segs[1] == p.UserId {
			return segs, nil
		}
	}
	return nil, fmt.Errorf("%s denied on %q for %s - %w", op, path, p.UserId, ErrPermissionDenied)
}

// OwnedRecord reports whether writing segs whole replaces a post, which
// backends must confirm with CheckOwner against the stored record.
func OwnedRecord(segs []string) bool {
	return len(segs) == 2 && segs[0] == PostsPath
}

// CheckOwner completes Authorize for an owned record: stored is the record
// currently at path, nil when there is none. Only the stored author may
// replace it.
func CheckOwner(p Principal, path string, stored any) error {
	if stored == nil {
		return nil
	}
	if fields, ok := stored.(map[string]any); ok && fields[AuthorField] == p.UserId {
		return nil
	}
	return fmt.Errorf("%s does not own %q - %w", p.UserId, path, ErrPermissionDenied)
}

func checkShape(segs []string, value any) error {
	switch len(segs) {
	case 1:
		return fmt.Errorf("collection %q cannot be written directly - %w", segs[0], ErrInvalidPath)
	case 2:
		if value == nil {
			return nil
		}
		if _, ok := value.(map[string]any); !ok {
			return fmt.Errorf("record %q must be an object, got %T - %w", strings.Join(segs, "/"), value, ErrInvalidPath)
		}
	case 3:
		if _, ok := value.(map[string]any); ok {
			return fmt.Errorf("field %q must be a scalar - %w", strings.Join(segs, "/"), ErrInvalidPath)
		}
	}
	return nil
}

func (op Op) String() string {
	if op == OpRead {
		return "read"
	}
	return "write"
}
