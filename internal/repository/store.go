// Package repository persists users and activity logs. Each supported
// database driver provides a Store bundling both collections behind a single
// connection handle with an explicit lifecycle.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/smartirrigation/irrigation-api/internal/config"
	"github.com/smartirrigation/irrigation-api/internal/model"
)

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrDuplicateEmail = errors.New("email already exists")
	ErrInvalidCursor  = errors.New("invalid activity cursor")
)

// Supported store drivers.
const (
	DriverMongo  = "mongo"
	DriverMySQL  = "mysql"
	DriverMemory = "memory"
)

// UserStore persists user accounts. Email uniqueness is enforced by the
// store itself: Create returns ErrDuplicateEmail on a violation.
type UserStore interface {
	Create(ctx context.Context, user *model.User) error
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByID(ctx context.Context, id string) (*model.User, error)
	UpdatePasswordHash(ctx context.Context, id, hash string) error
}

// ActivityStore is an append-only log of user actions.
type ActivityStore interface {
	Append(ctx context.Context, entry *model.ActivityLog) error
	// ListByUser returns the user's entries newest first.
	ListByUser(ctx context.Context, userID string, opts model.ListActivityOptions) ([]model.ActivityLog, error)
}

// Store bundles the repositories sharing one database handle.
type Store interface {
	Users() UserStore
	Activity() ActivityStore
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Open connects to the store selected by cfg.Driver and prepares its
// indexes or schema.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case DriverMongo:
		return NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase)
	case DriverMySQL:
		return NewMySQLStore(ctx, cfg.MySQLDSN)
	case DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
