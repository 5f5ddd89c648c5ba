// Package authflow drives the login/register form against the API: it holds
// the current view, the entered credentials and the message shown to the
// user, and reports a successful login through a callback.
package authflow

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/smartirrigation/irrigation-api/internal/client"
	"github.com/smartirrigation/irrigation-api/internal/model"
	"github.com/smartirrigation/irrigation-api/internal/session"
)

// View is the form currently shown.
type View int

const (
	ViewLogin View = iota
	ViewRegister
)

func (v View) String() string {
	if v == ViewRegister {
		return "Register"
	}
	return "Login"
}

// Messages shown to the user.
const (
	MsgRequired       = "Email and password are required."
	MsgEmailInUse     = "Email already in use."
	MsgRegistered     = "Registration successful! Please log in."
	MsgLoggedIn       = "Login successful!"
	MsgInvalidLogin   = "Invalid email or password."
	MsgGenericFailure = "An error occurred. Please try again."
)

// DefaultLoginDelay is how long the success message stays up before OnLogin
// fires.
const DefaultLoginDelay = time.Second

// API is the subset of the client the flow needs.
type API interface {
	Register(ctx context.Context, req model.RegisterRequest) (*model.RegisterResponse, error)
	Login(ctx context.Context, req model.LoginRequest) (*model.AuthResponse, error)
}

// State is a snapshot of the form.
type State struct {
	View     View
	Email    string
	Password string
	Error    string
	Success  string
	Busy     bool
}

// Flow is safe for concurrent use.
type Flow struct {
	api      API
	apiURL   string
	sessions session.Store
	delay    time.Duration
	onLogin  func(model.UserResponse)
	onChange func(State)
	logger   *slog.Logger

	mu    sync.Mutex
	state State
}

// Option configures a Flow.
type Option func(*Flow)

// WithSessionStore persists the token on successful login. apiURL is
// recorded alongside it.
func WithSessionStore(store session.Store, apiURL string) Option {
	return func(f *Flow) {
		f.sessions = store
		f.apiURL = apiURL
	}
}

// WithLoginDelay overrides DefaultLoginDelay.
func WithLoginDelay(d time.Duration) Option {
	return func(f *Flow) { f.delay = d }
}

// WithOnLogin sets the callback fired after a successful login.
func WithOnLogin(fn func(model.UserResponse)) Option {
	return func(f *Flow) { f.onLogin = fn }
}

// WithOnChange is called with every new state.
func WithOnChange(fn func(State)) Option {
	return func(f *Flow) { f.onChange = fn }
}

// WithLogger sets the logger for unexpected failures.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Flow) { f.logger = logger }
}

// New creates a Flow starting on the Login view.
func New(api API, opts ...Option) *Flow {
	f := &Flow{
		api:    api,
		delay:  DefaultLoginDelay,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// State returns the current snapshot.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// SetCredentials replaces the entered email and password.
func (f *Flow) SetCredentials(email, password string) {
	f.update(func(s *State) {
		s.Email = email
		s.Password = password
	})
}

// Toggle switches between Login and Register and clears any message.
func (f *Flow) Toggle() {
	f.update(func(s *State) {
		if s.View == ViewLogin {
			s.View = ViewRegister
		} else {
			s.View = ViewLogin
		}
		s.Error = ""
		s.Success = ""
	})
}

// Submit runs the action for the current view. Outcomes the user should see
// land in State; the returned error is non-nil only when ctx ends while
// waiting to fire OnLogin.
func (f *Flow) Submit(ctx context.Context) error {
	var (
		snap State
		busy bool
	)
	f.update(func(s *State) {
		if s.Busy {
			busy = true
			return
		}
		s.Error = ""
		s.Success = ""
		if strings.TrimSpace(s.Email) == "" || s.Password == "" {
			s.Error = MsgRequired
			return
		}
		s.Busy = true
		snap = *s
	})
	if busy || !snap.Busy {
		return nil
	}

	if snap.View == ViewRegister {
		f.register(ctx, snap)
		return nil
	}
	return f.login(ctx, snap)
}

func (f *Flow) register(ctx context.Context, snap State) {
	_, err := f.api.Register(ctx, model.RegisterRequest{Email: snap.Email, Password: snap.Password})

	f.update(func(s *State) {
		s.Busy = false
		switch {
		case err == nil:
			s.Success = MsgRegistered
			s.View = ViewLogin
			s.Email = ""
			s.Password = ""
		case statusOf(err) == http.StatusConflict:
			s.Error = MsgEmailInUse
		default:
			f.logger.WarnContext(ctx, "register failed", "error", err)
			s.Error = MsgGenericFailure
		}
	})
}

func (f *Flow) login(ctx context.Context, snap State) error {
	resp, err := f.api.Login(ctx, model.LoginRequest{Email: snap.Email, Password: snap.Password})
	if err == nil && f.sessions != nil {
		if serr := f.sessions.Save(session.New(f.apiURL, resp.User.Email, resp.Token)); serr != nil {
			err = serr
		}
	}

	f.update(func(s *State) {
		s.Busy = false
		switch {
		case err == nil:
			s.Success = MsgLoggedIn
			s.Password = ""
		case statusOf(err) == http.StatusUnauthorized:
			s.Error = MsgInvalidLogin
		default:
			f.logger.WarnContext(ctx, "login failed", "error", err)
			s.Error = MsgGenericFailure
		}
	})
	if err != nil {
		return nil
	}

	timer := time.NewTimer(f.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	if f.onLogin != nil {
		f.onLogin(resp.User)
	}
	return nil
}

func (f *Flow) update(fn func(*State)) {
	f.mu.Lock()
	fn(&f.state)
	snap := f.state
	f.mu.Unlock()

	if f.onChange != nil {
		f.onChange(snap)
	}
}

func statusOf(err error) int {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
