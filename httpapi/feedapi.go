package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"x-clone/likes"

	"github.com/gorilla/mux"
)

type HTTPHandler struct {
	store     *likes.Store
	sessions  *likes.Sessions
	principal PrincipalResolver
	logger    *slog.Logger
}

type Options struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// JWTSecret switches authentication from the user id header to bearer
	// tokens when set.
	JWTSecret string
	Logger    *slog.Logger
}

func NewHandler(store *likes.Store, sessions *likes.Sessions, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	handler := &HTTPHandler{store: store, sessions: sessions, principal: HeaderPrincipal, logger: logger}
	if opts.JWTSecret != "" {
		handler.principal = BearerPrincipal([]byte(opts.JWTSecret))
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/v1/feed", handler.GetFeed).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/feed", handler.CloseFeed).Methods(http.MethodDelete)
	r.HandleFunc("/api/v1/feed/refresh", handler.RefreshFeed).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/feed/mode", handler.SetDisplayMode).Methods(http.MethodPut)
	r.HandleFunc("/api/v1/posts", handler.CreatePost).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/posts/{postId}/like", handler.ToggleLike).Methods(http.MethodPost)
	r.HandleFunc("/maintenance/ping", handler.CheckIsReady).Methods(http.MethodGet)
	r.Use(handler.logRequests)
	return r
}

func NewServer(store *likes.Store, sessions *likes.Sessions, opts Options) *http.Server {
	if opts.Addr == "" {
		opts.Addr = "0.0.0.0:8080"
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 15 * time.Second
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 15 * time.Second
	}
	return &http.Server{
		Addr:         opts.Addr,
		Handler:      NewHandler(store, sessions, opts),
		WriteTimeout: opts.WriteTimeout,
		ReadTimeout:  opts.ReadTimeout,
	}
}

type CreatePostRequest struct {
	Text string `json:"text"`
}

type SetDisplayModeRequest struct {
	LikedOnly bool `json:"likedOnly"`
}

type PostResponse struct {
	PostId     string `json:"id"`
	AuthorId   string `json:"authorId"`
	AuthorName string `json:"authorName"`
	Handle     string `json:"handle"`
	Text       string `json:"text"`
	LikeCount  int64  `json:"likeCount"`
	Timestamp  int64  `json:"timestamp"`
	IsLiked    bool   `json:"isLikedByCurrentUser"`
}

type FeedResponse struct {
	Status    string         `json:"status"`
	LikedOnly bool           `json:"likedOnly"`
	Posts     []PostResponse `json:"posts"`
	Error     string         `json:"error,omitempty"`
}

func postResponse(item likes.PostWithLikeState) PostResponse {
	return PostResponse{
		PostId:     item.PostId,
		AuthorId:   item.AuthorId,
		AuthorName: item.AuthorName,
		Handle:     item.Handle,
		Text:       item.Text,
		LikeCount:  item.LikeCount,
		Timestamp:  item.Timestamp,
		IsLiked:    item.IsLikedByCurrentUser,
	}
}

func feedResponse(feed *likes.Feed) FeedResponse {
	state := feed.State()
	resp := FeedResponse{
		Status:    state.Status.String(),
		LikedOnly: feed.LikedOnly(),
		Posts:     make([]PostResponse, 0, len(state.Items)),
	}
	for _, item := range state.Items {
		resp.Posts = append(resp.Posts, postResponse(item))
	}
	if state.Err != nil {
		resp.Error = state.Err.Error()
	}
	return resp
}

func (h *HTTPHandler) GetFeed(w http.ResponseWriter, r *http.Request) {
	feed, ok := h.openFeed(w, r)
	if !ok {
		return
	}
	h.writeFeed(w, feed)
}

// CloseFeed ends the caller's feed session, on sign out or when the screen
// showing it goes away.
func (h *HTTPHandler) CloseFeed(w http.ResponseWriter, r *http.Request) {
	p, err := h.principal(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.sessions.Drop(p.UserId)
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) RefreshFeed(w http.ResponseWriter, r *http.Request) {
	feed, ok := h.openFeed(w, r)
	if !ok {
		return
	}
	if err := feed.Refresh(r.Context()); errors.Is(err, likes.ErrClosed) {
		h.writeError(w, err)
		return
	}
	h.writeFeed(w, feed)
}

func (h *HTTPHandler) SetDisplayMode(w http.ResponseWriter, r *http.Request) {
	var body SetDisplayModeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	feed, ok := h.openFeed(w, r)
	if !ok {
		return
	}
	if err := feed.ToggleDisplayMode(r.Context(), body.LikedOnly); errors.Is(err, likes.ErrClosed) {
		h.writeError(w, err)
		return
	}
	h.writeFeed(w, feed)
}

func (h *HTTPHandler) CreatePost(w http.ResponseWriter, r *http.Request) {
	p, err := h.principal(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var body CreatePostRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	post, err := h.store.PublishPost(r.Context(), p, body.Text)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, postResponse(likes.PostWithLikeState{Post: post}))
}

// ToggleLike answers once the change is persisted, or rolled back.
func (h *HTTPHandler) ToggleLike(w http.ResponseWriter, r *http.Request) {
	postId := mux.Vars(r)["postId"]
	feed, ok := h.openFeed(w, r)
	if !ok {
		return
	}

	done, err := feed.ToggleLike(r.Context(), postId)
	if err != nil {
		h.writeError(w, err)
		return
	}
	select {
	case err = <-done:
	case <-r.Context().Done():
		err = r.Context().Err()
	}
	if err != nil {
		h.writeError(w, err)
		return
	}

	entry, found := feed.Entry(postId)
	if !found {
		h.writeError(w, likes.ErrPostNotFound)
		return
	}
	writeJSON(w, http.StatusOK, postResponse(entry))
}

func (h *HTTPHandler) CheckIsReady(w http.ResponseWriter, r *http.Request) {
	if !h.store.IsReady(r.Context()) {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *HTTPHandler) openFeed(w http.ResponseWriter, r *http.Request) (*likes.Feed, bool) {
	p, err := h.principal(r)
	if err != nil {
		h.writeError(w, err)
		return nil, false
	}
	feed, err := h.sessions.Open(r.Context(), p)
	if err != nil {
		h.writeError(w, err)
		return nil, false
	}
	return feed, true
}

func (h *HTTPHandler) writeFeed(w http.ResponseWriter, feed *likes.Feed) {
	resp := feedResponse(feed)
	status := http.StatusOK
	if resp.Status == likes.StatusFailed.String() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case isAuthError(err):
		status = http.StatusUnauthorized
	case errors.Is(err, likes.ErrPermissionDenied):
		status = http.StatusForbidden
	case errors.Is(err, likes.ErrPostNotFound):
		status = http.StatusNotFound
	case errors.Is(err, likes.ErrEmptyText):
		status = http.StatusBadRequest
	case errors.Is(err, likes.ErrBackendUnavailable), errors.Is(err, likes.ErrClosed):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("unexpected error", "error", err)
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	rawResponse, _ := json.Marshal(v)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(rawResponse)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

func (h *HTTPHandler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		h.logger.InfoContext(r.Context(), "request processed",
			slog.Int("status", rec.status),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Duration("latency", time.Since(start)),
		)
	})
}
