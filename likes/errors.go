package likes

import "errors"

var (
	ErrNotAuthenticated   = errors.New("not_authenticated")
	ErrBackendUnavailable = errors.New("backend_unavailable")

	// Backend side causes, wrapped by ErrBackendUnavailable in the store.
	ErrStorage          = errors.New("storage_error")
	ErrPermissionDenied = errors.New("permission_denied")
	ErrInvalidPath      = errors.New("invalid_path")

	ErrPostNotFound = errors.New("post_not_found")
	ErrEmptyText    = errors.New("empty_text")
	ErrClosed       = errors.New("feed_closed")
)
