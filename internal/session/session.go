// Package session holds the signed-in user for this device and moves between
// loading, authenticated and unauthenticated.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dukerupert/cohabit/internal/api"
	"github.com/dukerupert/cohabit/internal/model"
	"github.com/dukerupert/cohabit/internal/store"
	"github.com/golang-jwt/jwt/v5"
)

type State int

const (
	StateLoading State = iota
	StateAuthenticated
	StateUnauthenticated
)

func (s State) String() string {
	switch s {
	case StateAuthenticated:
		return "authenticated"
	case StateUnauthenticated:
		return "unauthenticated"
	default:
		return "loading"
	}
}

const (
	savedEmailKey = "auth:saved_email"
	rememberKey   = "auth:remember_me"
)

// Login failure messages shown inline on the login form.
const (
	MsgMissingCredentials = "Enter your email and password."
	MsgInvalidCredentials = "Incorrect email or password."
	MsgLoginFailed        = "Something went wrong while signing in. Try again."
)

// Backend is the subset of the api client the session needs.
type Backend interface {
	Login(ctx context.Context, creds api.Credentials) (*api.LoginResult, error)
	AutoLogin(ctx context.Context) (model.User, bool, error)
}

// Tokens stores the bearer token.
type Tokens interface {
	Token() (string, error)
	SetToken(token string) error
	ClearToken() error
}

type Credentials struct {
	Email    string
	Password string
	Remember bool
}

// Snapshot is the state passed to observers.
type Snapshot struct {
	State State
	User  *model.User
}

// Manager owns the session. All methods are safe for concurrent use.
type Manager struct {
	backend Backend
	tokens  Tokens
	kv      *store.KVStore
	logger  *slog.Logger

	// Now is the clock used for token expiry checks.
	Now func() time.Time

	mu        sync.RWMutex
	state     State
	user      *model.User
	observers map[int]func(Snapshot)
	nextObs   int
}

func NewManager(backend Backend, tokens Tokens, kv *store.KVStore, logger *slog.Logger) *Manager {
	return &Manager{
		backend:   backend,
		tokens:    tokens,
		kv:        kv,
		logger:    logger.With("component", "session"),
		Now:       time.Now,
		state:     StateLoading,
		observers: make(map[int]func(Snapshot)),
	}
}

// Init restores the session from a stored token. It always ends in
// authenticated or unauthenticated.
func (m *Manager) Init(ctx context.Context) {
	token, err := m.tokens.Token()
	if err != nil {
		m.logger.Error("read stored token", "error", err)
	}
	if token == "" {
		m.set(StateUnauthenticated, nil)
		return
	}

	if expired(token, m.Now()) {
		m.logger.Info("stored token expired, skipping auto-login")
		m.clearToken()
		m.set(StateUnauthenticated, nil)
		return
	}

	user, ok, err := m.backend.AutoLogin(ctx)
	if err != nil || !ok {
		if err != nil {
			m.logger.Warn("auto-login failed", "error", err)
		} else {
			m.logger.Info("auto-login rejected")
		}
		m.clearToken()
		m.set(StateUnauthenticated, nil)
		return
	}

	m.logger.Info("session restored", "user_id", user.ID)
	m.set(StateAuthenticated, &user)
}

// expired reports whether token is a JWT whose exp claim has passed. Tokens
// that do not parse are left for the backend to judge.
func expired(token string, now time.Time) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !exp.After(now)
}

// Login signs in. It never returns an error: failure comes back as ok=false
// and a message for the form.
func (m *Manager) Login(ctx context.Context, creds Credentials) (ok bool, message string) {
	email := strings.TrimSpace(creds.Email)
	if email == "" || creds.Password == "" {
		return false, MsgMissingCredentials
	}

	m.saveRemember(email, creds.Remember)

	res, err := m.backend.Login(ctx, api.Credentials{Email: email, Password: creds.Password})
	if err != nil {
		m.logger.Warn("login failed", "email", email, "error", err)
		return false, loginMessage(err)
	}

	if err := m.tokens.SetToken(res.Token); err != nil {
		m.logger.Error("store token", "error", err)
		return false, MsgLoginFailed
	}

	user := res.User
	m.logger.Info("signed in", "user_id", user.ID)
	m.set(StateAuthenticated, &user)
	return true, ""
}

func loginMessage(err error) string {
	if errors.Is(err, api.ErrUnauthorized) {
		return MsgInvalidCredentials
	}
	var se *api.StatusError
	if errors.As(err, &se) && se.Status >= 400 && se.Status < 500 {
		return MsgInvalidCredentials
	}
	return MsgLoginFailed
}

func (m *Manager) saveRemember(email string, remember bool) {
	var err error
	if remember {
		if err = m.kv.Set(savedEmailKey, email); err == nil {
			err = m.kv.Set(rememberKey, "true")
		}
	} else {
		if err = m.kv.Delete(savedEmailKey); err == nil {
			err = m.kv.Delete(rememberKey)
		}
	}
	if err != nil {
		m.logger.Error("save remember-login", "error", err)
	}
}

// RememberedEmail returns the saved email when remember-login is on.
func (m *Manager) RememberedEmail() string {
	flag, ok, err := m.kv.Get(rememberKey)
	if err != nil || !ok || flag != "true" {
		return ""
	}
	email, _, err := m.kv.Get(savedEmailKey)
	if err != nil {
		return ""
	}
	return email
}

// Logout clears the token and user. No network call.
func (m *Manager) Logout() {
	m.clearToken()
	m.set(StateUnauthenticated, nil)
}

// HandleUnauthorized is the api client's 401 hook.
func (m *Manager) HandleUnauthorized() {
	m.logger.Info("backend returned 401, signing out")
	m.Logout()
}

func (m *Manager) clearToken() {
	if err := m.tokens.ClearToken(); err != nil {
		m.logger.Error("clear token", "error", err)
	}
}

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Current returns the signed-in user.
func (m *Manager) Current() (model.User, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.user == nil {
		return model.User{}, false
	}
	return *m.user, true
}

// Subscribe registers fn for state changes and returns its cancel func.
func (m *Manager) Subscribe(fn func(Snapshot)) func() {
	m.mu.Lock()
	id := m.nextObs
	m.nextObs++
	m.observers[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.observers, id)
		m.mu.Unlock()
	}
}

func (m *Manager) set(state State, user *model.User) {
	m.mu.Lock()
	m.state = state
	m.user = user
	snap := Snapshot{State: state}
	if user != nil {
		u := *user
		snap.User = &u
	}
	fns := make([]func(Snapshot), 0, len(m.observers))
	for _, fn := range m.observers {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}
