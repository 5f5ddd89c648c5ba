package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/smartirrigation/irrigation-api/internal/model"
	"github.com/smartirrigation/irrigation-api/internal/repository"
)

const (
	DefaultActivityLimit = 50
	MaxActivityLimit     = 200
)

// ActivityService handles the append-only activity log.
type ActivityService struct {
	store  repository.ActivityStore
	logger *slog.Logger
}

// NewActivityService creates a new ActivityService.
func NewActivityService(store repository.ActivityStore, logger *slog.Logger) *ActivityService {
	return &ActivityService{store: store, logger: logger}
}

// Create appends one entry on behalf of userID.
func (s *ActivityService) Create(ctx context.Context, userID string, req model.CreateActivityRequest, meta model.RequestMeta) (model.ActivityLog, error) {
	req.Action = strings.TrimSpace(req.Action)
	if req.Action == "" {
		return model.ActivityLog{}, ErrActionRequired
	}
	if err := validateStruct(req); err != nil {
		return model.ActivityLog{}, err
	}

	entry := model.ActivityLog{
		UserID:    userID,
		Action:    req.Action,
		Metadata:  req.Metadata,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
	}

	if err := s.store.Append(ctx, &entry); err != nil {
		return model.ActivityLog{}, storageError(err)
	}
	return entry, nil
}

// ListMine returns the caller's entries newest first. A zero limit means
// DefaultActivityLimit; larger limits are capped at MaxActivityLimit.
func (s *ActivityService) ListMine(ctx context.Context, userID string, opts model.ListActivityOptions) ([]model.ActivityLog, error) {
	switch {
	case opts.Limit < 0:
		return nil, validationError("limit must not be negative")
	case opts.Limit == 0:
		opts.Limit = DefaultActivityLimit
	case opts.Limit > MaxActivityLimit:
		opts.Limit = MaxActivityLimit
	}
	if opts.BeforeID != "" && opts.Before == nil {
		return nil, validationError("before_id requires before")
	}

	entries, err := s.store.ListByUser(ctx, userID, opts)
	if errors.Is(err, repository.ErrInvalidCursor) {
		return nil, validationError("before_id is not a valid activity id")
	}
	if err != nil {
		return nil, storageError(err)
	}
	return entries, nil
}

// record writes an audit entry for the auth flow. A failure is logged and
// does not fail the caller.
func (s *ActivityService) record(ctx context.Context, userID, action string, meta model.RequestMeta) {
	entry := model.ActivityLog{
		UserID:    userID,
		Action:    action,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
	}
	if err := s.store.Append(ctx, &entry); err != nil {
		s.logger.WarnContext(ctx, "activity append failed", "user_id", userID, "action", action, "error", err)
	}
}
