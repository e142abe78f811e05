package impl

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	"authgate/internal/domain"
	"authgate/internal/privacy"
	"authgate/internal/service"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// memorySessionStore implements the session store seams against a map,
// mirroring what the gorm store does against postgres.
type memorySessionStore struct {
	txMu     sync.Mutex // serializes transactions, like the row locks do
	mu       sync.Mutex
	byHash   map[string]*domain.Session
	deleted  int64
	failNext error
}

func newMemorySessionStore() *memorySessionStore {
	return &memorySessionStore{byHash: make(map[string]*domain.Session)}
}

func (m *memorySessionStore) Sessions() sessionStore { return m }

func (m *memorySessionStore) WithTx(ctx context.Context, fn func(tx sessionTx) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return fn(m)
}

func (m *memorySessionStore) takeErr() error {
	err := m.failNext
	m.failNext = nil
	return err
}

func (m *memorySessionStore) Create(_ context.Context, s *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeErr(); err != nil {
		return err
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	cp := *s
	m.byHash[s.TokenHash] = &cp
	return nil
}

func (m *memorySessionStore) GetByTokenHash(_ context.Context, hash string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeErr(); err != nil {
		return nil, err
	}
	s, ok := m.byHash[hash]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memorySessionStore) ListActiveForUpdate(_ context.Context, userID domain.UserID, now time.Time, inactivity time.Duration) ([]domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Session
	for _, s := range m.byHash {
		if s.UserID == userID && s.Active(now, inactivity) {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *memorySessionStore) Touch(_ context.Context, id domain.SessionID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.byHash {
		if s.ID == id {
			s.LastUsedAt = at
		}
	}
	return nil
}

func (m *memorySessionStore) Revoke(_ context.Context, id domain.SessionID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.byHash {
		if s.ID == id && s.RevokedAt == nil {
			t := at
			s.RevokedAt = &t
		}
	}
	return nil
}

func (m *memorySessionStore) RevokeByTokenHash(_ context.Context, hash string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byHash[hash]
	if !ok || s.RevokedAt != nil {
		return 0, nil
	}
	t := at
	s.RevokedAt = &t
	return 1, nil
}

func (m *memorySessionStore) RevokeAllForUser(_ context.Context, userID domain.UserID, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, s := range m.byHash {
		if s.UserID == userID && s.RevokedAt == nil {
			t := at
			s.RevokedAt = &t
			n++
		}
	}
	return n, nil
}

func (m *memorySessionStore) DeleteDefunctBefore(_ context.Context, cutoff time.Time, limit int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for hash, s := range m.byHash {
		if int(n) >= limit {
			break
		}
		if s.ExpiresAt.Before(cutoff) || (s.RevokedAt != nil && s.RevokedAt.Before(cutoff)) {
			delete(m.byHash, hash)
			n++
		}
	}
	m.deleted += n
	return n, nil
}

func testSessionConfig() SessionConfig {
	return SessionConfig{
		SessionTTL:     time.Hour,
		RememberTTL:    24 * time.Hour,
		InactivityTTL:  30 * time.Minute,
		MaxPerUser:     3,
		CookieName:     "refresh_token",
		CookiePath:     "/v1/auth",
		CSRFCookieName: "XSRF-TOKEN",
		SameSite:       http.SameSiteLaxMode,
	}
}

func newTestSessionService(st *memorySessionStore) *SessionServiceImpl {
	return newSessionService(testSessionConfig(), st, nil)
}

func TestCreateAndFindActive(t *testing.T) {
	ctx := context.Background()
	st := newMemorySessionStore()
	svc := newTestSessionService(st)
	userID := uuid.New()

	issued, err := svc.Create(ctx, userID, false, privacy.StorageView{IP: "203.0.113.0/24"})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if issued.RawToken == "" || issued.Persistent {
		t.Fatalf("unexpected issue: %+v", issued)
	}

	sess, err := svc.FindActive(ctx, issued.RawToken)
	if err != nil {
		t.Fatalf("FindActive error: %v", err)
	}
	if sess == nil || sess.UserID != userID {
		t.Fatalf("expected active session for user, got %+v", sess)
	}

	// The raw token must never be stored.
	if _, ok := st.byHash[issued.RawToken]; ok {
		t.Fatal("raw token used as storage key")
	}
}

func TestFindActiveRejectsExpiredRevokedIdle(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()

	cases := []struct {
		name   string
		mutate func(s *domain.Session)
	}{
		{name: "expired", mutate: func(s *domain.Session) {
			s.ExpiresAt = time.Now().UTC().Add(-time.Second)
		}},
		{name: "revoked", mutate: func(s *domain.Session) {
			at := time.Now().UTC()
			s.RevokedAt = &at
		}},
		{name: "idle past inactivity window", mutate: func(s *domain.Session) {
			s.LastUsedAt = time.Now().UTC().Add(-31 * time.Minute)
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := newMemorySessionStore()
			svc := newTestSessionService(st)
			issued, err := svc.Create(ctx, userID, false, privacy.StorageView{})
			if err != nil {
				t.Fatalf("Create error: %v", err)
			}
			for _, s := range st.byHash {
				tc.mutate(s)
			}
			sess, err := svc.FindActive(ctx, issued.RawToken)
			if err != nil {
				t.Fatalf("FindActive error: %v", err)
			}
			if sess != nil {
				t.Fatal("session should not be active even though the row exists")
			}
		})
	}
}

func TestFindActiveUnknownTokenIsNotAnError(t *testing.T) {
	svc := newTestSessionService(newMemorySessionStore())
	sess, err := svc.FindActive(context.Background(), "no-such-token")
	if err != nil {
		t.Fatalf("unknown token must not error: %v", err)
	}
	if sess != nil {
		t.Fatal("expected nil session")
	}
}

func TestFindActiveDoesNotTouchLastUsed(t *testing.T) {
	ctx := context.Background()
	st := newMemorySessionStore()
	svc := newTestSessionService(st)
	issued, _ := svc.Create(ctx, uuid.New(), false, privacy.StorageView{})

	before, _ := svc.FindActive(ctx, issued.RawToken)
	time.Sleep(5 * time.Millisecond)
	after, _ := svc.FindActive(ctx, issued.RawToken)
	if !after.LastUsedAt.Equal(before.LastUsedAt) {
		t.Fatal("FindActive must not update last-used time")
	}

	if err := svc.Touch(ctx, issued.SessionID); err != nil {
		t.Fatalf("Touch error: %v", err)
	}
	touched, _ := svc.FindActive(ctx, issued.RawToken)
	if !touched.LastUsedAt.After(before.LastUsedAt) {
		t.Fatal("Touch should advance last-used time")
	}
}

func TestCreateEnforcesPerUserCap(t *testing.T) {
	ctx := context.Background()
	st := newMemorySessionStore()
	svc := newTestSessionService(st) // cap 3
	userID := uuid.New()

	var tokens []string
	for i := 0; i < 5; i++ {
		// Distinct creation instants make eviction order observable.
		issued, err := svc.Create(ctx, userID, false, privacy.StorageView{})
		if err != nil {
			t.Fatalf("Create #%d error: %v", i, err)
		}
		tokens = append(tokens, issued.RawToken)
		time.Sleep(2 * time.Millisecond)
	}

	now := time.Now().UTC()
	active, err := st.ListActiveForUpdate(ctx, userID, now, svc.cfg.InactivityTTL)
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	if len(active) != 3 {
		t.Fatalf("expected cap of 3 active sessions, got %d", len(active))
	}

	// Oldest-first eviction: the first two tokens must be dead, the last
	// three alive.
	for i, raw := range tokens {
		sess, err := svc.FindActive(ctx, raw)
		if err != nil {
			t.Fatalf("FindActive error: %v", err)
		}
		if i < 2 && sess != nil {
			t.Fatalf("token #%d should have been evicted", i)
		}
		if i >= 2 && sess == nil {
			t.Fatalf("token #%d should still be active", i)
		}
	}
}

func TestConcurrentCreatesRespectCap(t *testing.T) {
	ctx := context.Background()
	st := newMemorySessionStore()
	svc := newTestSessionService(st)
	userID := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Create(ctx, userID, false, privacy.StorageView{}); err != nil {
				t.Errorf("Create error: %v", err)
			}
		}()
	}
	wg.Wait()

	active, _ := st.ListActiveForUpdate(ctx, userID, time.Now().UTC(), svc.cfg.InactivityTTL)
	if len(active) > svc.cfg.MaxPerUser {
		t.Fatalf("cap violated after settling: %d active", len(active))
	}
}

func TestRotateInvalidatesOldToken(t *testing.T) {
	ctx := context.Background()
	st := newMemorySessionStore()
	svc := newTestSessionService(st)
	userID := uuid.New()

	old, err := svc.Create(ctx, userID, true, privacy.StorageView{})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	next, err := svc.Rotate(ctx, old.RawToken, privacy.StorageView{})
	if err != nil {
		t.Fatalf("Rotate error: %v", err)
	}
	if next == nil {
		t.Fatal("expected a replacement session")
	}
	if next.UserID != userID || !next.Persistent {
		t.Fatalf("replacement must keep user and remember flag: %+v", next)
	}

	if sess, _ := svc.FindActive(ctx, old.RawToken); sess != nil {
		t.Fatal("rotated-away token must be permanently rejected")
	}
	if sess, _ := svc.FindActive(ctx, next.RawToken); sess == nil {
		t.Fatal("replacement token must be active")
	}

	// Replaying the old token cannot rotate again.
	again, err := svc.Rotate(ctx, old.RawToken, privacy.StorageView{})
	if err != nil {
		t.Fatalf("Rotate error: %v", err)
	}
	if again != nil {
		t.Fatal("replayed rotation must fail as not-authenticated")
	}
}

// staleReadStore serves a frozen active snapshot for one token hash while
// writes go to the live store, reproducing two read-committed transactions
// that both read the session before either revocation lands.
type staleReadStore struct {
	*memorySessionStore
	staleHash string
	snapshot  domain.Session
}

func (s *staleReadStore) Sessions() sessionStore { return s }

func (s *staleReadStore) WithTx(_ context.Context, fn func(tx sessionTx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return fn(s)
}

func (s *staleReadStore) GetByTokenHash(ctx context.Context, hash string) (*domain.Session, error) {
	if hash == s.staleHash {
		cp := s.snapshot
		return &cp, nil
	}
	return s.memorySessionStore.GetByTokenHash(ctx, hash)
}

func TestRotateIsSingleUseUnderStaleReads(t *testing.T) {
	ctx := context.Background()
	st := newMemorySessionStore()
	seed := newTestSessionService(st)
	userID := uuid.New()

	issued, err := seed.Create(ctx, userID, false, privacy.StorageView{})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	hash := hashToken(issued.RawToken)
	snap := *st.byHash[hash]

	stale := &staleReadStore{memorySessionStore: st, staleHash: hash, snapshot: snap}
	svc := newSessionService(testSessionConfig(), stale, nil)

	first, err := svc.Rotate(ctx, issued.RawToken, privacy.StorageView{})
	if err != nil {
		t.Fatalf("first Rotate error: %v", err)
	}
	if first == nil {
		t.Fatal("first rotation must win")
	}

	// The second rotation still reads the token as active, as a concurrent
	// transaction would before the first one commits.
	second, err := svc.Rotate(ctx, issued.RawToken, privacy.StorageView{})
	if err != nil {
		t.Fatalf("second Rotate error: %v", err)
	}
	if second != nil {
		t.Fatal("second rotation of the same token must not mint a session")
	}

	if sess, _ := seed.FindActive(ctx, first.RawToken); sess == nil {
		t.Fatal("winner's replacement must stay active")
	}
}

func TestRevokeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := newMemorySessionStore()
	svc := newTestSessionService(st)

	issued, _ := svc.Create(ctx, uuid.New(), false, privacy.StorageView{})
	if err := svc.Revoke(ctx, issued.RawToken); err != nil {
		t.Fatalf("Revoke error: %v", err)
	}
	if err := svc.Revoke(ctx, issued.RawToken); err != nil {
		t.Fatalf("second Revoke must be a no-op: %v", err)
	}
	if err := svc.Revoke(ctx, "unknown-token"); err != nil {
		t.Fatalf("revoking an unknown token must be a no-op: %v", err)
	}
}

func TestRevokeEmitsAuditEvent(t *testing.T) {
	ctx := context.Background()
	st := newMemorySessionStore()
	events := &recordingEvents{}
	svc := newSessionService(testSessionConfig(), st, events)
	userID := uuid.New()

	issued, _ := svc.Create(ctx, userID, false, privacy.StorageView{})
	if err := svc.Revoke(ctx, issued.RawToken); err != nil {
		t.Fatalf("Revoke error: %v", err)
	}

	got := events.byType(domain.EventSessionRevoked)
	if len(got) != 1 {
		t.Fatalf("expected one revocation event, got %d", len(got))
	}
	if got[0].UserID == nil || *got[0].UserID != userID {
		t.Fatalf("event should name the user, got %+v", got[0])
	}

	// Idempotent revoke leaves the audit trail alone.
	_ = svc.Revoke(ctx, issued.RawToken)
	if n := len(events.byType(domain.EventSessionRevoked)); n != 1 {
		t.Fatalf("second revoke must not duplicate events, got %d", n)
	}
}

func TestRevokeAllForUser(t *testing.T) {
	ctx := context.Background()
	st := newMemorySessionStore()
	svc := newTestSessionService(st)
	userID := uuid.New()
	other := uuid.New()

	a, _ := svc.Create(ctx, userID, false, privacy.StorageView{})
	b, _ := svc.Create(ctx, userID, false, privacy.StorageView{})
	c, _ := svc.Create(ctx, other, false, privacy.StorageView{})

	n, err := svc.RevokeAllForUser(ctx, userID)
	if err != nil {
		t.Fatalf("RevokeAllForUser error: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 revocations, got %d", n)
	}
	for _, raw := range []string{a.RawToken, b.RawToken} {
		if sess, _ := svc.FindActive(ctx, raw); sess != nil {
			t.Fatal("user session should be revoked")
		}
	}
	if sess, _ := svc.FindActive(ctx, c.RawToken); sess == nil {
		t.Fatal("other user's session must be untouched")
	}
}

func TestStorageFaultSurfaces(t *testing.T) {
	ctx := context.Background()
	st := newMemorySessionStore()
	svc := newTestSessionService(st)

	st.failNext = context.DeadlineExceeded
	if _, err := svc.Create(ctx, uuid.New(), false, privacy.StorageView{}); err == nil {
		t.Fatal("storage fault on create must surface, not silently allow")
	}

	issued, _ := svc.Create(ctx, uuid.New(), false, privacy.StorageView{})
	st.failNext = context.DeadlineExceeded
	if _, err := svc.FindActive(ctx, issued.RawToken); err == nil {
		t.Fatal("storage fault on lookup must surface")
	}
}

func issuedFixture(persistent bool) *service.IssuedSession {
	return &service.IssuedSession{
		SessionID:  uuid.New(),
		UserID:     uuid.New(),
		RawToken:   "raw-token",
		ExpiresAt:  time.Now().UTC().Add(24 * time.Hour),
		Persistent: persistent,
	}
}

func TestRefreshCookie(t *testing.T) {
	svc := newTestSessionService(newMemorySessionStore())

	persistent := svc.RefreshCookie(issuedFixture(true), false)
	if !persistent.HttpOnly {
		t.Fatal("refresh cookie must be http-only")
	}
	if persistent.Path != "/v1/auth" {
		t.Fatalf("unexpected path %q", persistent.Path)
	}
	if persistent.MaxAge <= 0 {
		t.Fatal("remember-me cookie must carry Max-Age")
	}

	session := svc.RefreshCookie(issuedFixture(false), false)
	if session.MaxAge != 0 {
		t.Fatal("non-remember cookie must omit Max-Age")
	}

	if c := svc.RefreshCookie(issuedFixture(false), true); !c.Secure {
		t.Fatal("TLS request must force Secure")
	}
}

func TestCSRFCookieIndependentAndScriptReadable(t *testing.T) {
	svc := newTestSessionService(newMemorySessionStore())
	c1, err := svc.CSRFCookie(false)
	if err != nil {
		t.Fatalf("CSRFCookie error: %v", err)
	}
	c2, _ := svc.CSRFCookie(false)
	if c1.HttpOnly {
		t.Fatal("CSRF cookie must be readable by scripts")
	}
	if c1.Value == c2.Value {
		t.Fatal("CSRF values must be random per issue")
	}
}

func TestClearCookiesExpireBoth(t *testing.T) {
	svc := newTestSessionService(newMemorySessionStore())
	cleared := svc.ClearCookies(false)
	if len(cleared) != 2 {
		t.Fatalf("expected both cookies cleared, got %d", len(cleared))
	}
	for _, c := range cleared {
		if c.MaxAge != -1 || c.Value != "" {
			t.Fatalf("cookie %q not expired: %+v", c.Name, c)
		}
	}
}

func TestLazyCleanupDeletesDefunctRows(t *testing.T) {
	ctx := context.Background()
	st := newMemorySessionStore()
	cfg := testSessionConfig()
	cfg.Retention = time.Hour
	svc := newSessionService(cfg, st, nil)

	// Plant a long-dead session.
	dead := &domain.Session{
		ID:         uuid.New(),
		UserID:     uuid.New(),
		TokenHash:  "deadhash",
		CreatedAt:  time.Now().UTC().Add(-48 * time.Hour),
		LastUsedAt: time.Now().UTC().Add(-48 * time.Hour),
		ExpiresAt:  time.Now().UTC().Add(-24 * time.Hour),
	}
	_ = st.Create(ctx, dead)

	if _, err := svc.Create(ctx, uuid.New(), false, privacy.StorageView{}); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if st.deleted == 0 {
		t.Fatal("create should opportunistically delete defunct rows")
	}
}
