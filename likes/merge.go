package likes

// LikeSet holds the ids of the posts one user currently likes.
type LikeSet map[string]struct{}

func (s LikeSet) Has(postId string) bool {
	_, ok := s[postId]
	return ok
}

// PostWithLikeState pairs a post with whether the current user likes it.
// It is rebuilt on every refresh and never persisted.
type PostWithLikeState struct {
	Post
	IsLikedByCurrentUser bool `json:"isLikedByCurrentUser"`
}

// Merge joins the shared post list with one user's like set by post id.
// The order of posts is preserved.
func Merge(posts []Post, liked LikeSet) []PostWithLikeState {
	merged := make([]PostWithLikeState, 0, len(posts))
	for _, post := range posts {
		merged = append(merged, PostWithLikeState{Post: post, IsLikedByCurrentUser: liked.Has(post.PostId)})
	}
	return merged
}

// FilterLiked keeps the liked entries in their original relative order.
func FilterLiked(items []PostWithLikeState) []PostWithLikeState {
	liked := make([]PostWithLikeState, 0, len(items))
	for _, item := range items {
		if item.IsLikedByCurrentUser {
			liked = append(liked, item)
		}
	}
	return liked
}
