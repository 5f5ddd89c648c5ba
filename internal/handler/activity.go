package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/smartirrigation/irrigation-api/internal/middleware"
	"github.com/smartirrigation/irrigation-api/internal/model"
	"github.com/smartirrigation/irrigation-api/internal/service"
)

// ActivityHandler handles HTTP requests for the caller's activity log.
type ActivityHandler struct {
	service *service.ActivityService
	logger  *slog.Logger
}

// NewActivityHandler creates a new ActivityHandler.
func NewActivityHandler(svc *service.ActivityService, logger *slog.Logger) *ActivityHandler {
	return &ActivityHandler{service: svc, logger: logger}
}

// HandleCreate handles POST /api/activity requests.
func (h *ActivityHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse("unauthorized"))
		return
	}

	var req model.CreateActivityRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	entry, err := h.service.Create(r.Context(), id.UserID, req, requestMeta(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, entry)
}

// HandleList handles GET /api/activity requests. Optional query parameters:
// limit (1..200, default 50) and before (RFC 3339 timestamp, exclusive).
func (h *ActivityHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse("unauthorized"))
		return
	}

	var opts model.ListActivityOptions
	q := r.URL.Query()

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse("limit must be a positive integer"))
			return
		}
		opts.Limit = n
	}

	if v := q.Get("before"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse("before must be an RFC 3339 timestamp"))
			return
		}
		opts.Before = &t
	}
	opts.BeforeID = q.Get("before_id")

	entries, err := h.service.ListMine(r.Context(), id.UserID, opts)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, entries)
}
