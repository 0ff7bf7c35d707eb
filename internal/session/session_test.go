package session

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/juju/clock/testclock"
	"github.com/juju/errors"

	"ailearning/client/internal/auth"
	"ailearning/client/internal/durable"
	"ailearning/client/internal/model"
)

var epoch = time.Date(2026, 1, 25, 9, 0, 0, 0, time.UTC)

func token(t *testing.T, userID string, exp time.Time) string {
	t.Helper()
	claims := auth.Claims{
		UserID: userID,
		Email:  userID + "@demo.local",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("k"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func activeIdentity(t *testing.T, userID string) Identity {
	return FromLogin(model.LoginResult{
		Token:  token(t, userID, epoch.Add(time.Hour)),
		Role:   "STUDENT",
		Status: "ACTIVE",
		UserID: userID,
	})
}

type recorder struct {
	started []string
	ended   []Reason
}

func newManager(t *testing.T) (*Manager, *durable.MemoryStore, *testclock.Clock, *recorder) {
	t.Helper()
	store := durable.NewMemoryStore()
	clk := testclock.NewClock(epoch)
	m := NewManager(store, clk)
	rec := &recorder{}
	m.OnStart(func(id Identity) { rec.started = append(rec.started, id.UserID) })
	m.OnEnd(func(_ Identity, reason Reason) { rec.ended = append(rec.ended, reason) })
	return m, store, clk, rec
}

func TestBeginPersistsAndEndClears(t *testing.T) {
	ctx := context.Background()
	m, store, _, rec := newManager(t)

	id := activeIdentity(t, "u1")
	if id.Email != "u1@demo.local" {
		t.Fatalf("expected email from token claims, got %q", id.Email)
	}
	if err := m.Begin(ctx, id); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if m.Credential() != id.Credential {
		t.Fatalf("expected credential of active session")
	}
	for _, key := range []string{keyToken, keyRole, keyStatus, keyUserID, keyEmail} {
		if _, ok, _ := store.Get(ctx, key); !ok {
			t.Fatalf("expected %s persisted", key)
		}
	}

	if !m.End(ctx, ReasonLogout) {
		t.Fatalf("expected end to report an active session")
	}
	if m.End(ctx, ReasonLogout) {
		t.Fatalf("expected second end to be a no-op")
	}
	if _, ok := m.Current(); ok {
		t.Fatalf("expected no current session")
	}
	if m.Credential() != "" {
		t.Fatalf("expected empty credential after end")
	}
	if _, ok, _ := store.Get(ctx, keyToken); ok {
		t.Fatalf("expected persisted token cleared")
	}
	if len(rec.started) != 1 || len(rec.ended) != 1 || rec.ended[0] != ReasonLogout {
		t.Fatalf("unexpected lifecycle %+v", rec)
	}
}

func TestBeginRejectsBlockedAccount(t *testing.T) {
	m, _, _, rec := newManager(t)
	id := activeIdentity(t, "u1")
	id.Status = model.StatusBlocked
	err := m.Begin(context.Background(), id)
	if !errors.Is(err, errors.Unauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if len(rec.started) != 0 {
		t.Fatalf("expected no start callback")
	}
}

func TestBeginDifferentUserEndsPrevious(t *testing.T) {
	ctx := context.Background()
	m, _, _, rec := newManager(t)
	if err := m.Begin(ctx, activeIdentity(t, "u1")); err != nil {
		t.Fatalf("begin u1: %v", err)
	}
	same, _ := m.Current()
	if err := m.Begin(ctx, same); err != nil {
		t.Fatalf("begin same: %v", err)
	}
	if len(rec.started) != 1 {
		t.Fatalf("expected same identity to be a no-op, got %v", rec.started)
	}
	if err := m.Begin(ctx, activeIdentity(t, "u2")); err != nil {
		t.Fatalf("begin u2: %v", err)
	}
	if len(rec.ended) != 1 || rec.ended[0] != ReasonReplaced {
		t.Fatalf("expected previous session replaced, got %v", rec.ended)
	}
	current, _ := m.Current()
	if current.UserID != "u2" {
		t.Fatalf("expected u2 active, got %s", current.UserID)
	}
}

func TestEndIfCredentialSparesNewerSession(t *testing.T) {
	ctx := context.Background()
	m, _, _, _ := newManager(t)

	first := activeIdentity(t, "u1")
	if err := m.Begin(ctx, first); err != nil {
		t.Fatalf("begin: %v", err)
	}
	m.End(ctx, ReasonLogout)
	second := activeIdentity(t, "u2")
	if err := m.Begin(ctx, second); err != nil {
		t.Fatalf("begin: %v", err)
	}

	if m.EndIfCredential(ctx, first.Credential, ReasonRejected) {
		t.Fatalf("expected an old credential to leave the session alone")
	}
	if m.EndIfCredential(ctx, "", ReasonRejected) {
		t.Fatalf("expected an empty credential to be ignored")
	}
	if current, ok := m.Current(); !ok || current.UserID != "u2" {
		t.Fatalf("expected u2 still signed in, got %+v", current)
	}
	if !m.EndIfCredential(ctx, second.Credential, ReasonRejected) {
		t.Fatalf("expected the active credential to end the session")
	}
}

func TestCredentialExpiryEndsSession(t *testing.T) {
	clk := testclock.NewClock(epoch)
	m := NewManager(durable.NewMemoryStore(), clk)
	ended := make(chan Reason, 1)
	m.OnEnd(func(_ Identity, reason Reason) { ended <- reason })

	if err := m.Begin(context.Background(), activeIdentity(t, "u1")); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := clk.WaitAdvance(time.Hour, time.Second, 1); err != nil {
		t.Fatalf("advance: %v", err)
	}
	select {
	case reason := <-ended:
		if reason != ReasonExpired {
			t.Fatalf("expected expired reason, got %s", reason)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("session did not end at credential expiry")
	}
	if _, ok := m.Current(); ok {
		t.Fatalf("expected no current session")
	}
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	m, store, _, rec := newManager(t)

	if _, ok, err := m.Restore(ctx); err != nil || ok {
		t.Fatalf("expected nothing to restore, ok=%v err=%v", ok, err)
	}

	id := activeIdentity(t, "u1")
	_ = store.Set(ctx, keyToken, id.Credential)
	_ = store.Set(ctx, keyRole, "TEACHER")
	_ = store.Set(ctx, keyStatus, "ACTIVE")
	_ = store.Set(ctx, keyUserID, "u1")

	restored, ok, err := m.Restore(ctx)
	if err != nil || !ok {
		t.Fatalf("expected restore, ok=%v err=%v", ok, err)
	}
	if restored.Role != model.RoleTeacher || restored.UserID != "u1" || restored.ExpiresAt.IsZero() {
		t.Fatalf("unexpected identity %+v", restored)
	}
	if len(rec.started) != 1 {
		t.Fatalf("expected start callback on restore")
	}
}

func TestRestoreDiscardsExpiredCredential(t *testing.T) {
	ctx := context.Background()
	m, store, _, _ := newManager(t)
	_ = store.Set(ctx, keyToken, token(t, "u1", epoch.Add(-time.Minute)))
	_ = store.Set(ctx, keyStatus, "ACTIVE")
	_ = store.Set(ctx, keyUserID, "u1")

	if _, ok, err := m.Restore(ctx); err != nil || ok {
		t.Fatalf("expected expired session discarded, ok=%v err=%v", ok, err)
	}
	if _, ok, _ := store.Get(ctx, keyToken); ok {
		t.Fatalf("expected stale token removed")
	}
}

func TestPrincipal(t *testing.T) {
	if (Identity{UserID: "u1", Email: "a@b.c"}).Principal() != "a@b.c" {
		t.Fatalf("expected email principal")
	}
	if (Identity{UserID: "u1"}).Principal() != "u1" {
		t.Fatalf("expected user id fallback")
	}
	if !ReasonIdle.Forced() || ReasonLogout.Forced() {
		t.Fatalf("unexpected forced classification")
	}
}
