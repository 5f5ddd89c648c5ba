package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/smartirrigation/irrigation-api/internal/crypto"
	"github.com/smartirrigation/irrigation-api/internal/model"
	"github.com/smartirrigation/irrigation-api/internal/repository"
)

var testMeta = model.RequestMeta{IP: "203.0.113.7", UserAgent: "irrigctl/1.0"}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testServices struct {
	store    *repository.MemoryStore
	tokens   *crypto.TokenIssuer
	auth     *AuthService
	activity *ActivityService
}

func newTestServices(t *testing.T) testServices {
	t.Helper()
	store := repository.NewMemoryStore()
	return newTestServicesWith(store.Users(), store.Activity(), store)
}

func newTestServicesWith(users repository.UserStore, activityStore repository.ActivityStore, store *repository.MemoryStore) testServices {
	tokens := crypto.NewTokenIssuer("test-secret", 7*24*time.Hour)
	activity := NewActivityService(activityStore, discardLogger())
	return testServices{
		store:    store,
		tokens:   tokens,
		auth:     NewAuthService(users, activity, tokens, discardLogger()),
		activity: activity,
	}
}

// failingUsers fails every call with err.
type failingUsers struct{ err error }

func (f failingUsers) Create(context.Context, *model.User) error { return f.err }
func (f failingUsers) GetByEmail(context.Context, string) (*model.User, error) {
	return nil, f.err
}
func (f failingUsers) GetByID(context.Context, string) (*model.User, error) { return nil, f.err }
func (f failingUsers) UpdatePasswordHash(context.Context, string, string) error {
	return f.err
}

// failingActivity fails every call with err.
type failingActivity struct{ err error }

func (f failingActivity) Append(context.Context, *model.ActivityLog) error { return f.err }
func (f failingActivity) ListByUser(context.Context, string, model.ListActivityOptions) ([]model.ActivityLog, error) {
	return nil, f.err
}
