package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/smartirrigation/irrigation-api/internal/authflow"
	"github.com/smartirrigation/irrigation-api/internal/client"
	"github.com/smartirrigation/irrigation-api/internal/config"
	"github.com/smartirrigation/irrigation-api/internal/logging"
	"github.com/smartirrigation/irrigation-api/internal/model"
	"github.com/smartirrigation/irrigation-api/internal/session"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = func(fd int) ([]byte, error) { return term.ReadPassword(fd) }

const usage = `usage: irrigctl [-api URL] [-session FILE] <command> [flags]

commands:
  register [-email EMAIL]          create an account
  login [-email EMAIL]             log in and store the session
  logout                           forget the stored session
  whoami                           show the logged-in account
  health                           check the API
  activity add -action NAME [-meta k=v ...]
  activity list [-limit N] [-before RFC3339 [-before-id ID]]
`

type app struct {
	in         *bufio.Reader
	stdinFd    int
	out        io.Writer
	errOut     io.Writer
	loginDelay time.Duration

	api      *client.Client
	sessions *session.FileStore
	logger   *slog.Logger
}

func newApp(stdin io.Reader, stdout, stderr io.Writer) *app {
	a := &app{
		in:         bufio.NewReader(stdin),
		out:        stdout,
		errOut:     stderr,
		loginDelay: authflow.DefaultLoginDelay,
	}
	if f, ok := stdin.(*os.File); ok {
		a.stdinFd = int(f.Fd())
	}
	return a
}

func (a *app) run(ctx context.Context, args []string) int {
	cfg := config.LoadClient()

	global := flag.NewFlagSet("irrigctl", flag.ContinueOnError)
	global.SetOutput(a.errOut)
	global.Usage = func() { fmt.Fprint(a.errOut, usage) }
	apiURL := global.String("api", cfg.APIURL, "API base URL")
	sessionFile := global.String("session", cfg.SessionFile, "session file")
	verbose := global.Bool("v", false, "log request failures")
	if err := global.Parse(args); err != nil {
		return 2
	}

	rest := global.Args()
	if len(rest) == 0 {
		global.Usage()
		return 2
	}

	path := *sessionFile
	if path == "" {
		p, err := session.DefaultPath()
		if err != nil {
			fmt.Fprintln(a.errOut, err)
			return 1
		}
		path = p
	}

	level := "error"
	if *verbose {
		level = "debug"
	}
	a.logger = logging.New(a.errOut, level, "text")
	a.api = client.New(*apiURL)
	a.sessions = session.NewFileStore(path)

	var err error
	switch cmd, cmdArgs := rest[0], rest[1:]; cmd {
	case "register":
		err = a.register(ctx, cmdArgs)
	case "login":
		err = a.login(ctx, cmdArgs)
	case "logout":
		err = a.logout()
	case "whoami":
		err = a.whoami(ctx)
	case "health":
		err = a.health(ctx)
	case "activity":
		err = a.activity(ctx, cmdArgs)
	case "help":
		global.Usage()
		return 0
	default:
		fmt.Fprintf(a.errOut, "unknown command %q\n", cmd)
		global.Usage()
		return 2
	}

	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(a.errOut, "error:", err)
		}
		return 1
	}
	return 0
}

func (a *app) register(ctx context.Context, args []string) error {
	return a.runFlow(ctx, "register", args, authflow.ViewRegister)
}

func (a *app) login(ctx context.Context, args []string) error {
	return a.runFlow(ctx, "login", args, authflow.ViewLogin)
}

// runFlow drives the shared auth flow for one submit and prints the message
// it ends with.
func (a *app) runFlow(ctx context.Context, name string, args []string, view authflow.View) error {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.errOut)
	email := fs.String("email", "", "account email")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *email == "" {
		v, err := a.prompt("Email: ")
		if err != nil {
			return err
		}
		*email = v
	}
	password, err := a.password()
	if err != nil {
		return err
	}

	var loggedIn *model.UserResponse
	flow := authflow.New(a.api,
		authflow.WithLogger(a.logger),
		authflow.WithSessionStore(a.sessions, a.api.BaseURL()),
		authflow.WithLoginDelay(a.loginDelay),
		authflow.WithOnLogin(func(u model.UserResponse) { loggedIn = &u }),
	)
	if view == authflow.ViewRegister {
		flow.Toggle()
	}
	flow.SetCredentials(*email, password)

	if err := flow.Submit(ctx); err != nil {
		return err
	}

	st := flow.State()
	if st.Error != "" {
		return errors.New(st.Error)
	}
	fmt.Fprintln(a.out, st.Success)
	if loggedIn != nil {
		fmt.Fprintf(a.out, "Signed in as %s\n", loggedIn.Email)
	}
	return nil
}

func (a *app) logout() error {
	if err := a.sessions.Clear(); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Logged out.")
	return nil
}

func (a *app) whoami(ctx context.Context) error {
	s, err := a.session()
	if err != nil {
		return err
	}
	me, err := a.api.Me(ctx, s.Token)
	if err != nil {
		return a.authError(err)
	}

	fmt.Fprintf(a.out, "id:    %s\nemail: %s\nroles: %s\n", me.ID, me.Email, strings.Join(me.Roles, ","))
	if me.Name != "" {
		fmt.Fprintf(a.out, "name:  %s\n", me.Name)
	}
	if !s.ExpiresAt.IsZero() {
		fmt.Fprintf(a.out, "token expires %s\n", s.ExpiresAt.Local().Format(time.RFC1123))
	}
	return nil
}

func (a *app) health(ctx context.Context) error {
	status, err := a.api.Health(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, status)
	return nil
}

func (a *app) activity(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("activity: expected add or list")
	}

	s, err := a.session()
	if err != nil {
		return err
	}

	switch args[0] {
	case "add":
		return a.activityAdd(ctx, s, args[1:])
	case "list":
		return a.activityList(ctx, s, args[1:])
	default:
		return fmt.Errorf("activity: unknown subcommand %q", args[0])
	}
}

func (a *app) activityAdd(ctx context.Context, s session.Session, args []string) error {
	fs := flag.NewFlagSet("activity add", flag.ContinueOnError)
	fs.SetOutput(a.errOut)
	action := fs.String("action", "", "action name, e.g. valve_opened")
	meta := metaFlag{}
	fs.Var(meta, "meta", "metadata key=value (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	req := model.CreateActivityRequest{Action: *action}
	if len(meta) > 0 {
		req.Metadata = meta
	}

	entry, err := a.api.CreateActivity(ctx, s.Token, req)
	if err != nil {
		return a.authError(err)
	}
	fmt.Fprintf(a.out, "recorded %s (%s)\n", entry.Action, entry.ID)
	return nil
}

func (a *app) activityList(ctx context.Context, s session.Session, args []string) error {
	fs := flag.NewFlagSet("activity list", flag.ContinueOnError)
	fs.SetOutput(a.errOut)
	limit := fs.Int("limit", 0, "maximum entries")
	before := fs.String("before", "", "only entries older than this RFC 3339 time")
	beforeID := fs.String("before-id", "", "with -before, also entries at that time with a lower id")
	if err := fs.Parse(args); err != nil {
		return err
	}

	opts := model.ListActivityOptions{Limit: *limit, BeforeID: *beforeID}
	if *before != "" {
		t, err := time.Parse(time.RFC3339Nano, *before)
		if err != nil {
			return fmt.Errorf("invalid -before: %w", err)
		}
		opts.Before = &t
	}

	entries, err := a.api.ListActivity(ctx, s.Token, opts)
	if err != nil {
		return a.authError(err)
	}
	if len(entries) == 0 {
		fmt.Fprintln(a.out, "no activity")
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(a.out, "%s  %-16s %s\n", e.CreatedAt.Local().Format(time.RFC3339), e.Action, formatMeta(e.Metadata))
	}
	if opts.Limit > 0 && len(entries) == opts.Limit {
		last := entries[len(entries)-1]
		fmt.Fprintf(a.errOut, "next page: -before %s -before-id %s\n", last.CreatedAt.UTC().Format(time.RFC3339Nano), last.ID)
	}
	return nil
}

func (a *app) session() (session.Session, error) {
	s, err := a.sessions.Load()
	if errors.Is(err, session.ErrNoSession) {
		return session.Session{}, errors.New("not logged in, run: irrigctl login")
	}
	return s, err
}

// authError turns a rejected token into a hint to log in again.
func (a *app) authError(err error) error {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
		_ = a.sessions.Clear()
		return fmt.Errorf("session rejected (%s), run: irrigctl login", apiErr.Message)
	}
	return err
}

func (a *app) prompt(label string) (string, error) {
	fmt.Fprint(a.out, label)
	line, err := a.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (a *app) password() (string, error) {
	fmt.Fprint(a.out, "Password: ")
	pw, err := readPassword(a.stdinFd)
	fmt.Fprintln(a.out)
	if err != nil {
		return "", err
	}
	return string(pw), nil
}

// metaFlag collects repeated -meta key=value pairs.
type metaFlag map[string]any

func (m metaFlag) String() string { return formatMeta(m) }

func (m metaFlag) Set(v string) error {
	key, val, ok := strings.Cut(v, "=")
	if !ok || strings.TrimSpace(key) == "" {
		return fmt.Errorf("expected key=value, got %q", v)
	}
	m[strings.TrimSpace(key)] = val
	return nil
}

func formatMeta(m map[string]any) string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, m[k]))
	}
	return strings.Join(parts, " ")
}
