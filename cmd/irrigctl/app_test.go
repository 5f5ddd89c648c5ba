package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartirrigation/irrigation-api/internal/crypto"
	"github.com/smartirrigation/irrigation-api/internal/handler"
	"github.com/smartirrigation/irrigation-api/internal/repository"
	"github.com/smartirrigation/irrigation-api/internal/service"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := repository.NewMemoryStore()
	tokens := crypto.NewTokenIssuer("test-secret", time.Hour)
	activity := service.NewActivityService(store.Activity(), logger)

	srv := httptest.NewServer(handler.NewRouter(handler.RouterDeps{
		Auth:     service.NewAuthService(store.Users(), activity, tokens, logger),
		Activity: activity,
		Tokens:   tokens,
		Store:    store,
		Logger:   logger,
	}))
	t.Cleanup(srv.Close)
	return srv
}

func stubPassword(t *testing.T, pw string) {
	t.Helper()
	orig := readPassword
	readPassword = func(int) ([]byte, error) { return []byte(pw), nil }
	t.Cleanup(func() { readPassword = orig })
}

type cli struct {
	apiURL  string
	session string
}

func (c cli) run(t *testing.T, stdin string, args ...string) (int, string, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	a := newApp(strings.NewReader(stdin), &out, &errOut)
	a.loginDelay = 0
	code := a.run(context.Background(), append([]string{"-api", c.apiURL, "-session", c.session}, args...))
	return code, out.String(), errOut.String()
}

func TestCLI_EndToEnd(t *testing.T) {
	srv := newTestServer(t)
	c := cli{apiURL: srv.URL, session: filepath.Join(t.TempDir(), "session.json")}
	stubPassword(t, "s3cret!")

	code, out, _ := c.run(t, "", "health")
	require.Equal(t, 0, code)
	assert.Equal(t, "ok\n", out)

	code, out, _ = c.run(t, "grower@farm.io\n", "register")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "Registration successful! Please log in.")

	code, _, errOut := c.run(t, "", "register", "-email", "grower@farm.io")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "Email already in use.")

	code, _, errOut = c.run(t, "", "whoami")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "not logged in")

	code, out, _ = c.run(t, "", "login", "-email", "grower@farm.io")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "Login successful!")
	assert.Contains(t, out, "Signed in as grower@farm.io")

	code, out, _ = c.run(t, "", "whoami")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "email: grower@farm.io")

	code, out, _ = c.run(t, "", "activity", "add", "-action", "valve_opened", "-meta", "zone=north")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "recorded valve_opened")

	code, out, _ = c.run(t, "", "activity", "list", "-limit", "2")
	require.Equal(t, 0, code)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "valve_opened")
	assert.Contains(t, lines[0], "zone=north")
	assert.Contains(t, lines[1], "login")

	code, _, errOut = c.run(t, "", "activity", "list", "-limit", "2")
	require.Equal(t, 0, code)
	next := strings.Fields(strings.TrimPrefix(strings.TrimSpace(errOut), "next page: "))
	require.Len(t, next, 4)
	code, out, _ = c.run(t, "", append([]string{"activity", "list", "-limit", "2"}, next...)...)
	require.Equal(t, 0, code)
	assert.Contains(t, out, "register")

	code, out, _ = c.run(t, "", "logout")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "Logged out.")

	code, _, _ = c.run(t, "", "activity", "list")
	assert.Equal(t, 1, code)
}

func TestCLI_BadLogin(t *testing.T) {
	srv := newTestServer(t)
	c := cli{apiURL: srv.URL, session: filepath.Join(t.TempDir(), "session.json")}
	stubPassword(t, "wrong")

	code, _, errOut := c.run(t, "", "login", "-email", "ghost@farm.io")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "Invalid email or password.")
}

func TestCLI_Usage(t *testing.T) {
	c := cli{apiURL: "http://127.0.0.1:1", session: filepath.Join(t.TempDir(), "session.json")}

	code, _, errOut := c.run(t, "")
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "usage: irrigctl")

	code, _, errOut = c.run(t, "", "sprinkle")
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, `unknown command "sprinkle"`)
}

func TestMetaFlag(t *testing.T) {
	m := metaFlag{}
	require.NoError(t, m.Set("zone=north"))
	require.NoError(t, m.Set("minutes=15"))
	assert.Error(t, m.Set("novalue"))
	assert.Equal(t, "minutes=15 zone=north", m.String())
}
