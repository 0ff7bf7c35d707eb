// Package session holds the authenticated identity every other component syncs for.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo"

	"ailearning/client/internal/auth"
	"ailearning/client/internal/durable"
	"ailearning/client/internal/model"
)

var logger = loggo.GetLogger("ailearning.client.session")

const (
	keyToken  = "token"
	keyRole   = "role"
	keyStatus = "status"
	keyUserID = "userId"
	keyEmail  = "email"
	keyName   = "name"
)

var persistedKeys = []string{keyToken, keyRole, keyStatus, keyUserID, keyEmail, keyName}

// Reason says why a session ended.
type Reason string

const (
	ReasonLogout   Reason = "logout"
	ReasonIdle     Reason = "idle"
	ReasonRejected Reason = "rejected"
	ReasonExpired  Reason = "expired"
	ReasonReplaced Reason = "replaced"
)

// Forced reports whether the user did not ask for the session to end.
func (r Reason) Forced() bool {
	return r != ReasonLogout && r != ReasonReplaced
}

type Identity struct {
	UserID      string
	Email       string
	DisplayName string
	Role        model.Role
	Status      model.AccountStatus
	Credential  string
	ExpiresAt   time.Time
}

// Principal is the name the push topic is addressed by.
func (i Identity) Principal() string {
	if i.Email != "" {
		return i.Email
	}
	return i.UserID
}

// Same reports whether two identities belong to the same user and credential.
func (i Identity) Same(other Identity) bool {
	return i.UserID == other.UserID && i.Credential == other.Credential
}

// FromLogin builds an identity from a login response, filling gaps from the token.
func FromLogin(res model.LoginResult) Identity {
	id := Identity{
		UserID:      res.UserID,
		Email:       res.Email,
		DisplayName: res.Name,
		Role:        model.ParseRole(res.Role),
		Status:      model.AccountStatus(res.Status),
		Credential:  res.Token,
	}
	if claims, err := auth.ParseClaims(res.Token); err == nil {
		id.ExpiresAt = claims.Expiry()
		if id.UserID == "" {
			id.UserID = claims.UserID
		}
		if id.Email == "" {
			id.Email = claims.Email
		}
		if id.DisplayName == "" {
			id.DisplayName = claims.Name
		}
	}
	return id
}

type (
	StartFunc func(Identity)
	EndFunc   func(Identity, Reason)
)

// Manager owns the session lifecycle: anonymous -> active -> ended. At most one
// identity is active; ending is idempotent.
type Manager struct {
	store durable.Store
	clock clock.Clock

	mu          sync.Mutex
	current     *Identity
	expiryTimer clock.Timer
	onStart     []StartFunc
	onEnd       []EndFunc
}

func NewManager(store durable.Store, clk clock.Clock) *Manager {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Manager{store: store, clock: clk}
}

// OnStart and OnEnd callbacks run synchronously, in registration order, on the
// goroutine that changed the session.
func (m *Manager) OnStart(fn StartFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStart = append(m.onStart, fn)
}

func (m *Manager) OnEnd(fn EndFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEnd = append(m.onEnd, fn)
}

func (m *Manager) Current() (Identity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return Identity{Role: model.RoleAnonymous}, false
	}
	return *m.current, true
}

// Credential returns the bearer token of the active session, or "".
func (m *Manager) Credential() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return ""
	}
	return m.current.Credential
}

// Begin activates id. Blocked accounts are refused. An active session for a
// different identity is ended first so no state leaks across users.
func (m *Manager) Begin(ctx context.Context, id Identity) error {
	if id.Credential == "" {
		return errors.NotValidf("identity without credential")
	}
	if id.Status != model.StatusActive {
		return errors.Unauthorizedf("account %s is %s", id.UserID, id.Status)
	}
	if !id.ExpiresAt.IsZero() && !m.clock.Now().Before(id.ExpiresAt) {
		return errors.Unauthorizedf("credential expired at %s", id.ExpiresAt.Format(time.RFC3339))
	}
	if current, ok := m.Current(); ok {
		if current.Same(id) {
			return nil
		}
		m.End(ctx, ReasonReplaced)
	}
	if err := m.persist(ctx, id); err != nil {
		return errors.Annotate(err, "persisting session")
	}

	m.mu.Lock()
	active := id
	m.current = &active
	if !id.ExpiresAt.IsZero() {
		m.expiryTimer = m.clock.AfterFunc(id.ExpiresAt.Sub(m.clock.Now()), func() {
			m.endIf(context.Background(), active, ReasonExpired)
		})
	}
	listeners := append([]StartFunc(nil), m.onStart...)
	m.mu.Unlock()

	logger.Infof("session started for %s (%s)", id.UserID, id.Role)
	for _, fn := range listeners {
		fn(id)
	}
	return nil
}

// Restore resumes the session persisted by a previous process, if any.
func (m *Manager) Restore(ctx context.Context) (Identity, bool, error) {
	values := map[string]string{}
	for _, key := range persistedKeys {
		val, ok, err := m.store.Get(ctx, key)
		if err != nil {
			return Identity{}, false, errors.Annotatef(err, "reading %s", key)
		}
		if ok {
			values[key] = val
		}
	}
	if values[keyToken] == "" {
		return Identity{}, false, nil
	}
	id := FromLogin(model.LoginResult{
		Token:  values[keyToken],
		Role:   values[keyRole],
		Status: values[keyStatus],
		UserID: values[keyUserID],
		Email:  values[keyEmail],
		Name:   values[keyName],
	})
	if err := m.Begin(ctx, id); err != nil {
		logger.Infof("discarding persisted session: %v", err)
		if err := m.store.Delete(ctx, persistedKeys...); err != nil {
			return Identity{}, false, errors.Trace(err)
		}
		return Identity{}, false, nil
	}
	return id, true, nil
}

// End destroys the active session and reports whether there was one.
func (m *Manager) End(ctx context.Context, reason Reason) bool {
	m.mu.Lock()
	if m.current == nil {
		m.mu.Unlock()
		return false
	}
	return m.endLocked(ctx, reason)
}

// endIf ends the session only if it still belongs to id, so a timer armed for an
// earlier session cannot end a later one.
func (m *Manager) endIf(ctx context.Context, id Identity, reason Reason) bool {
	m.mu.Lock()
	if m.current == nil || !m.current.Same(id) {
		m.mu.Unlock()
		return false
	}
	return m.endLocked(ctx, reason)
}

// EndIfCredential ends the session only while credential is still the active
// one. A refusal of an earlier session's token leaves a newer session alone.
func (m *Manager) EndIfCredential(ctx context.Context, credential string, reason Reason) bool {
	m.mu.Lock()
	if m.current == nil || credential == "" || m.current.Credential != credential {
		m.mu.Unlock()
		return false
	}
	return m.endLocked(ctx, reason)
}

// endLocked is entered with m.mu held and releases it.
func (m *Manager) endLocked(ctx context.Context, reason Reason) bool {
	ended := *m.current
	m.current = nil
	if m.expiryTimer != nil {
		m.expiryTimer.Stop()
		m.expiryTimer = nil
	}
	listeners := append([]EndFunc(nil), m.onEnd...)
	m.mu.Unlock()

	if err := m.store.Delete(ctx, persistedKeys...); err != nil {
		logger.Errorf("clearing persisted session: %v", err)
	}
	logger.Infof("session for %s ended: %s", ended.UserID, reason)
	for _, fn := range listeners {
		fn(ended, reason)
	}
	return true
}

func (m *Manager) persist(ctx context.Context, id Identity) error {
	values := map[string]string{
		keyToken:  id.Credential,
		keyRole:   string(id.Role),
		keyStatus: string(id.Status),
		keyUserID: id.UserID,
		keyEmail:  id.Email,
		keyName:   id.DisplayName,
	}
	for _, key := range persistedKeys {
		if values[key] == "" {
			if err := m.store.Delete(ctx, key); err != nil {
				return err
			}
			continue
		}
		if err := m.store.Set(ctx, key, values[key]); err != nil {
			return err
		}
	}
	return nil
}
