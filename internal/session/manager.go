// Package session owns the operator's authentication lifecycle: the persisted
// bearer credential, the derived authenticated flag, the last-login timestamp
// and the loading flag shown while a session operation is in flight.
//
// The Manager is the only writer of the credential. Every other component reads
// it through State or Credential and may Subscribe to changes.
package session

import (
	"context"
	stderrors "errors"
	"sync"

	"github.com/anstrom/scanconsole/internal/backend"
	"github.com/anstrom/scanconsole/internal/errors"
	"github.com/anstrom/scanconsole/internal/logging"
	"github.com/anstrom/scanconsole/internal/metrics"
	"github.com/anstrom/scanconsole/internal/storage"
)

// Session operations, used as metric labels.
const (
	OpLogin    = "login"
	OpRegister = "register"
	OpVerify   = "verify"
	OpLogout   = "logout"
)

// AuthClient is the part of the backend the manager talks to.
type AuthClient interface {
	Register(ctx context.Context, email, password string) (*backend.Outcome, error)
	VerifyOTP(ctx context.Context, email, otp string) (*backend.Outcome, error)
	Login(ctx context.Context, email, password string) (*backend.LoginResponse, error)
}

// State is a read-only snapshot of the session.
type State struct {
	IsAuthenticated bool   `json:"is_authenticated"`
	LastLoginAt     string `json:"last_login_at,omitempty"`
	IsLoading       bool   `json:"is_loading"`
}

// IsFirstLogin reports whether the backend has no previous login on record.
// Only meaningful while authenticated.
func (s State) IsFirstLogin() bool {
	return s.LastLoginAt == ""
}

// LastLoginDisplay returns the last login or the first-login sentinel.
func (s State) LastLoginDisplay() string {
	if s.IsFirstLogin() {
		return "First login"
	}
	return s.LastLoginAt
}

// Outcome is the result of Register and Verify. Failures are data, not errors.
type Outcome struct {
	Success bool             `json:"success"`
	Message string           `json:"message"`
	Code    errors.ErrorCode `json:"code,omitempty"`
}

// Manager holds the session and persists it through a storage.Store.
type Manager struct {
	mu          sync.RWMutex
	store       storage.Store
	client      AuthClient
	credential  string
	lastLoginAt string
	loading     int

	subMu       sync.Mutex
	subscribers map[int]func(State)
	nextSubID   int

	recorder metrics.Recorder
	logger   *logging.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates an unauthenticated manager. Call Initialize to hydrate it
// from the store.
func NewManager(store storage.Store, client AuthClient, opts ...Option) *Manager {
	m := &Manager{
		store:       store,
		client:      client,
		subscribers: make(map[int]func(State)),
		recorder:    metrics.Noop{},
		logger:      logging.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.WithComponent("session")
	return m
}

// Initialize reads the persisted credential and last login. No backend call is
// made; an expired credential is only discovered by the next scan.
func (m *Manager) Initialize(ctx context.Context) error {
	credential, ok, err := m.store.Get(ctx, storage.KeyCredential)
	if err != nil {
		return err
	}
	lastLogin, _, err := m.store.Get(ctx, storage.KeyLastLogin)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if ok && credential != "" {
		m.credential = credential
		m.lastLoginAt = lastLogin
	} else {
		m.credential = ""
		m.lastLoginAt = ""
	}
	m.mu.Unlock()

	m.notify()
	return nil
}

// Login exchanges identity and secret for a credential. On failure nothing is
// persisted and the returned *errors.AuthError carries the backend's message.
// The returned State is taken after the loading flag has been cleared.
func (m *Manager) Login(ctx context.Context, identity, secret string) (State, error) {
	err := func() error {
		m.beginLoading()
		defer m.endLoading()
		return m.login(ctx, identity, secret)
	}()
	return m.State(), err
}

func (m *Manager) login(ctx context.Context, identity, secret string) error {
	resp, err := m.client.Login(ctx, identity, secret)
	if err == nil && resp.Token == "" {
		err = stderrors.New("login response carried no token")
	}
	if err != nil {
		m.recorder.SessionOperation(OpLogin, metrics.OutcomeFailure)
		m.logger.ErrorSession("login failed", err)
		return loginError(err)
	}

	if err := m.store.Set(ctx, storage.KeyCredential, resp.Token); err != nil {
		m.recorder.SessionOperation(OpLogin, metrics.OutcomeFailure)
		return err
	}
	lastLogin := ""
	if resp.LastLogin != nil {
		lastLogin = *resp.LastLogin
	}
	if lastLogin != "" {
		err = m.store.Set(ctx, storage.KeyLastLogin, lastLogin)
	} else {
		err = m.store.Delete(ctx, storage.KeyLastLogin)
	}
	if err != nil {
		_ = m.store.Delete(ctx, storage.KeyCredential)
		m.recorder.SessionOperation(OpLogin, metrics.OutcomeFailure)
		return err
	}

	m.mu.Lock()
	m.credential = resp.Token
	m.lastLoginAt = lastLogin
	m.mu.Unlock()

	m.recorder.SessionOperation(OpLogin, metrics.OutcomeSuccess)
	m.logger.InfoSession("logged in", "first_login", lastLogin == "")
	m.notify()
	return nil
}

func loginError(err error) *errors.AuthError {
	var apiErr *backend.APIError
	if stderrors.As(err, &apiErr) && apiErr.Message != "" {
		return errors.WrapAuthError(errors.CodeAuthFailed, apiErr.Message, err)
	}
	return errors.WrapAuthError(errors.CodeAuthFailed, errors.MsgLoginFailed, err)
}

// Register creates an account. Only the loading flag changes.
func (m *Manager) Register(ctx context.Context, identity, secret string) Outcome {
	m.beginLoading()
	defer m.endLoading()

	resp, err := m.client.Register(ctx, identity, secret)
	return m.outcome(OpRegister, resp, err, "Registration failed")
}

// Verify confirms a registration with the one-time code. Only the loading flag
// changes; the operator logs in afterwards.
func (m *Manager) Verify(ctx context.Context, identity, code string) Outcome {
	m.beginLoading()
	defer m.endLoading()

	resp, err := m.client.VerifyOTP(ctx, identity, code)
	return m.outcome(OpVerify, resp, err, "Verification failed")
}

func (m *Manager) outcome(op string, resp *backend.Outcome, err error, fallback string) Outcome {
	if err != nil {
		m.recorder.SessionOperation(op, metrics.OutcomeFailure)
		m.logger.ErrorSession(op+" failed", err)

		msg := fallback
		var apiErr *backend.APIError
		if stderrors.As(err, &apiErr) && apiErr.Message != "" {
			msg = apiErr.Message
		}
		return Outcome{Success: false, Message: msg, Code: errors.CodeAuthFailed}
	}

	out := Outcome{Success: resp.Success, Message: resp.Message}
	if out.Success {
		m.recorder.SessionOperation(op, metrics.OutcomeSuccess)
	} else {
		if out.Message == "" {
			out.Message = fallback
		}
		out.Code = errors.CodeAuthFailed
		m.recorder.SessionOperation(op, metrics.OutcomeFailure)
	}
	return out
}

// Logout clears the persisted credential and last login. No backend call.
// The in-memory session is reset even when the store fails.
func (m *Manager) Logout(ctx context.Context) error {
	errCred := m.store.Delete(ctx, storage.KeyCredential)
	errLast := m.store.Delete(ctx, storage.KeyLastLogin)

	m.mu.Lock()
	m.credential = ""
	m.lastLoginAt = ""
	m.mu.Unlock()

	m.recorder.SessionOperation(OpLogout, metrics.OutcomeSuccess)
	m.logger.InfoSession("logged out")
	m.notify()

	if errCred != nil {
		return errCred
	}
	return errLast
}

// State returns a snapshot of the session.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stateLocked()
}

func (m *Manager) stateLocked() State {
	return State{
		IsAuthenticated: m.credential != "",
		LastLoginAt:     m.lastLoginAt,
		IsLoading:       m.loading > 0,
	}
}

// IsAuthenticated reports whether a credential is present.
func (m *Manager) IsAuthenticated() bool {
	return m.State().IsAuthenticated
}

// Credential returns the bearer credential and whether one is present.
func (m *Manager) Credential() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.credential, m.credential != ""
}

// Subscribe registers fn to receive every state change. The returned function
// removes the subscription. fn is called outside the manager's lock.
func (m *Manager) Subscribe(fn func(State)) func() {
	m.subMu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.subscribers[id] = fn
	m.subMu.Unlock()

	return func() {
		m.subMu.Lock()
		delete(m.subscribers, id)
		m.subMu.Unlock()
	}
}

func (m *Manager) notify() {
	state := m.State()

	m.subMu.Lock()
	fns := make([]func(State), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		fns = append(fns, fn)
	}
	m.subMu.Unlock()

	for _, fn := range fns {
		fn(state)
	}
}

func (m *Manager) beginLoading() {
	m.mu.Lock()
	m.loading++
	m.mu.Unlock()
	m.notify()
}

func (m *Manager) endLoading() {
	m.mu.Lock()
	if m.loading > 0 {
		m.loading--
	}
	m.mu.Unlock()
	m.notify()
}
