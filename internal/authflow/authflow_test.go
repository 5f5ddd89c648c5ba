package authflow

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartirrigation/irrigation-api/internal/client"
	"github.com/smartirrigation/irrigation-api/internal/crypto"
	"github.com/smartirrigation/irrigation-api/internal/model"
	"github.com/smartirrigation/irrigation-api/internal/session"
)

// fakeAPI keeps accounts in a map and answers the way the server does.
type fakeAPI struct {
	mu       sync.Mutex
	accounts map[string]string
	failWith error
	tokens   *crypto.TokenIssuer
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		accounts: map[string]string{},
		tokens:   crypto.NewTokenIssuer("secret", time.Hour),
	}
}

func (a *fakeAPI) Register(_ context.Context, req model.RegisterRequest) (*model.RegisterResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failWith != nil {
		return nil, a.failWith
	}
	if _, ok := a.accounts[req.Email]; ok {
		return nil, &client.APIError{StatusCode: http.StatusConflict, Message: "Email already in use"}
	}
	a.accounts[req.Email] = req.Password
	return &model.RegisterResponse{ID: "u-" + req.Email, Email: req.Email}, nil
}

func (a *fakeAPI) Login(_ context.Context, req model.LoginRequest) (*model.AuthResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failWith != nil {
		return nil, a.failWith
	}
	if pw, ok := a.accounts[req.Email]; !ok || pw != req.Password {
		return nil, &client.APIError{StatusCode: http.StatusUnauthorized, Message: "Invalid credentials"}
	}
	token, _, err := a.tokens.Issue(crypto.Subject{ID: "u-" + req.Email, Email: req.Email})
	if err != nil {
		return nil, err
	}
	return &model.AuthResponse{Token: token, User: model.UserResponse{ID: "u-" + req.Email, Email: req.Email}}, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSubmit_RequiresCredentials(t *testing.T) {
	f := New(newFakeAPI(), WithLogger(quietLogger()))

	f.SetCredentials("", "pw")
	require.NoError(t, f.Submit(context.Background()))
	assert.Equal(t, MsgRequired, f.State().Error)

	f.SetCredentials("a@farm.io", "")
	require.NoError(t, f.Submit(context.Background()))
	assert.Equal(t, MsgRequired, f.State().Error)
}

func TestRegister_SwitchesToLoginAndClearsFields(t *testing.T) {
	f := New(newFakeAPI(), WithLogger(quietLogger()))
	f.Toggle()
	require.Equal(t, ViewRegister, f.State().View)

	f.SetCredentials("a@farm.io", "pw")
	require.NoError(t, f.Submit(context.Background()))

	st := f.State()
	assert.Equal(t, ViewLogin, st.View)
	assert.Equal(t, MsgRegistered, st.Success)
	assert.Empty(t, st.Error)
	assert.Empty(t, st.Email)
	assert.Empty(t, st.Password)
}

func TestRegister_Duplicate(t *testing.T) {
	api := newFakeAPI()
	api.accounts["a@farm.io"] = "pw"

	f := New(api, WithLogger(quietLogger()))
	f.Toggle()
	f.SetCredentials("a@farm.io", "pw")
	require.NoError(t, f.Submit(context.Background()))

	st := f.State()
	assert.Equal(t, ViewRegister, st.View)
	assert.Equal(t, MsgEmailInUse, st.Error)
	assert.Empty(t, st.Success)
}

func TestLogin_FiresCallbackAfterDelay(t *testing.T) {
	api := newFakeAPI()
	api.accounts["a@farm.io"] = "pw"

	var (
		calledAt time.Time
		user     model.UserResponse
	)
	delay := 30 * time.Millisecond
	store := session.NewFileStore(filepath.Join(t.TempDir(), "session.json"))

	f := New(api,
		WithLogger(quietLogger()),
		WithLoginDelay(delay),
		WithSessionStore(store, "http://localhost:4000"),
		WithOnLogin(func(u model.UserResponse) {
			calledAt = time.Now()
			user = u
		}),
	)
	f.SetCredentials("a@farm.io", "pw")

	start := time.Now()
	require.NoError(t, f.Submit(context.Background()))

	assert.Equal(t, MsgLoggedIn, f.State().Success)
	require.False(t, calledAt.IsZero(), "OnLogin not called")
	assert.GreaterOrEqual(t, calledAt.Sub(start), delay)
	assert.Equal(t, "a@farm.io", user.Email)

	saved, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "a@farm.io", saved.Email)
	assert.Equal(t, "http://localhost:4000", saved.APIURL)
	assert.NotEmpty(t, saved.Token)
	assert.False(t, saved.ExpiresAt.IsZero())
}

func TestLogin_CancelledBeforeCallback(t *testing.T) {
	api := newFakeAPI()
	api.accounts["a@farm.io"] = "pw"

	called := false
	f := New(api,
		WithLogger(quietLogger()),
		WithLoginDelay(time.Hour),
		WithOnLogin(func(model.UserResponse) { called = true }),
	)
	f.SetCredentials("a@farm.io", "pw")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := f.Submit(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, called)
	assert.Equal(t, MsgLoggedIn, f.State().Success)
}

func TestLogin_Failures(t *testing.T) {
	tests := []struct {
		name     string
		password string
		failWith error
		want     string
	}{
		{"wrong password", "nope", nil, MsgInvalidLogin},
		{"unknown status", "pw", &client.APIError{StatusCode: http.StatusInternalServerError, Message: "internal server error"}, MsgGenericFailure},
		{"network", "pw", errors.New("connection refused"), MsgGenericFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeAPI()
			api.accounts["a@farm.io"] = "pw"
			api.failWith = tt.failWith

			called := false
			f := New(api, WithLogger(quietLogger()), WithOnLogin(func(model.UserResponse) { called = true }))
			f.SetCredentials("a@farm.io", tt.password)
			require.NoError(t, f.Submit(context.Background()))

			st := f.State()
			assert.Equal(t, tt.want, st.Error)
			assert.Empty(t, st.Success)
			assert.False(t, st.Busy)
			assert.False(t, called)
		})
	}
}

func TestToggle_ClearsMessages(t *testing.T) {
	f := New(newFakeAPI(), WithLogger(quietLogger()))
	f.SetCredentials("", "")
	require.NoError(t, f.Submit(context.Background()))
	require.NotEmpty(t, f.State().Error)

	f.Toggle()
	st := f.State()
	assert.Equal(t, ViewRegister, st.View)
	assert.Empty(t, st.Error)
	assert.Empty(t, st.Success)

	f.Toggle()
	assert.Equal(t, ViewLogin, f.State().View)
}

func TestOnChange_SeesBusyState(t *testing.T) {
	var seen []State
	f := New(newFakeAPI(), WithLogger(quietLogger()), WithOnChange(func(s State) { seen = append(seen, s) }))
	f.Toggle()
	f.SetCredentials("a@farm.io", "pw")
	require.NoError(t, f.Submit(context.Background()))

	require.GreaterOrEqual(t, len(seen), 4)
	assert.True(t, seen[len(seen)-2].Busy)
	assert.False(t, seen[len(seen)-1].Busy)
}
