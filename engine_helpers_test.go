package handshake

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/handshake/store"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var testEpoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock { return &testClock{now: testEpoch} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type identityKey struct{ provider, subject string }

type fakeDirectory struct {
	mu         sync.Mutex
	byIdentity map[identityKey]string
	users      map[string]UserProfile
	resolveErr error
	getErr     error
	resolves   atomic.Int32
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		byIdentity: map[identityKey]string{},
		users:      map[string]UserProfile{},
	}
}

func (d *fakeDirectory) ResolveOrCreate(_ context.Context, identity ExternalIdentity) (UserProfile, error) {
	d.resolves.Add(1)
	if d.resolveErr != nil {
		return UserProfile{}, d.resolveErr
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	key := identityKey{identity.Provider, identity.ProviderSubjectID}
	if id, ok := d.byIdentity[key]; ok {
		return d.users[id], nil
	}
	id := "user-" + strconv.Itoa(len(d.users)+1)
	onboarded := testEpoch.Add(-24 * time.Hour)
	profile := UserProfile{
		UserID:                id,
		Email:                 identity.Email,
		DisplayName:           identity.DisplayName,
		Role:                  RoleUser,
		OnboardingCompletedAt: &onboarded,
	}
	d.byIdentity[key] = id
	d.users[id] = profile
	return profile, nil
}

func (d *fakeDirectory) GetUser(_ context.Context, userID string) (UserProfile, error) {
	if d.getErr != nil {
		return UserProfile{}, d.getErr
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	profile, ok := d.users[userID]
	if !ok {
		return UserProfile{}, errors.New("user not found")
	}
	return profile, nil
}

func (d *fakeDirectory) put(profile UserProfile) {
	d.mu.Lock()
	d.users[profile.UserID] = profile
	d.mu.Unlock()
}

type fakeSessions struct {
	calls atomic.Int32
	err   error
}

func (s *fakeSessions) IssueSession(_ context.Context, profile UserProfile) (SessionGrant, error) {
	n := s.calls.Add(1)
	if s.err != nil {
		return SessionGrant{}, s.err
	}
	return SessionGrant{
		UserID:      profile.UserID,
		SessionID:   "sess-" + strconv.Itoa(int(n)),
		AccessToken: "token",
		ExpiresAt:   testEpoch.Add(time.Hour),
	}, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (n *recordingNotifier) Send(ctx context.Context, msg Message) error {
	if n.err != nil {
		return n.err
	}
	n.mu.Lock()
	n.sent = append(n.sent, msg)
	n.mu.Unlock()
	return nil
}

var codePattern = regexp.MustCompile(`\b\d{6}\b`)

func (n *recordingNotifier) lastCode(t *testing.T) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		t.Fatal("no message sent")
	}
	code := codePattern.FindString(n.sent[len(n.sent)-1].Text)
	if code == "" {
		t.Fatalf("no code in message: %q", n.sent[len(n.sent)-1].Text)
	}
	return code
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type fakeProvider struct {
	name     string
	identity ExternalIdentity
	err      error
	block    bool

	mu        sync.Mutex
	exchanges []ExchangeRequest
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) AuthCodeURL(req AuthRequest) string {
	return "https://idp.example.com/authorize?state=" + req.State + "&nonce=" + req.Nonce
}

func (p *fakeProvider) Exchange(ctx context.Context, req ExchangeRequest) (ExternalIdentity, error) {
	p.mu.Lock()
	p.exchanges = append(p.exchanges, req)
	p.mu.Unlock()

	if p.block {
		<-ctx.Done()
		return ExternalIdentity{}, ctx.Err()
	}
	if p.err != nil {
		return ExternalIdentity{}, p.err
	}
	return p.identity, nil
}

type testHarness struct {
	engine     *Engine
	clock      *testClock
	directory  *fakeDirectory
	sessions   *fakeSessions
	notifier   *recordingNotifier
	provider   *fakeProvider
	challenges *store.MemoryChallengeStore
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Redirect.FrontendURL = "https://app.example.com"
	return cfg
}

func newHarness(t *testing.T, mutate func(*Config), extra ...func(*Builder)) *testHarness {
	t.Helper()

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	h := &testHarness{
		clock:      newTestClock(),
		directory:  newFakeDirectory(),
		sessions:   &fakeSessions{},
		notifier:   &recordingNotifier{},
		challenges: store.NewMemoryChallengeStore(cfg.Challenge.RecordRetention),
		provider: &fakeProvider{
			name: "google",
			identity: ExternalIdentity{
				Provider:          "google",
				ProviderSubjectID: "sub-1",
				Email:             "ana@example.com",
				EmailVerified:     true,
				DisplayName:       "Ana",
			},
		},
	}

	b := New().
		WithConfig(cfg).
		WithClock(h.clock.Now).
		WithChallengeStore(h.challenges).
		WithProviders(h.provider).
		WithDirectory(h.directory).
		WithSessionIssuer(h.sessions).
		WithNotifier(h.notifier).
		WithMetricsEnabled(true)
	for _, fn := range extra {
		fn(b)
	}

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)
	h.engine = engine
	return h
}

// onboardedUser registers a user directly in the directory.
func (h *testHarness) onboardedUser(id string) UserProfile {
	done := testEpoch.Add(-time.Hour)
	profile := UserProfile{
		UserID:                id,
		Email:                 id + "@example.com",
		Role:                  RoleUser,
		OnboardingCompletedAt: &done,
	}
	h.directory.put(profile)
	return profile
}

func newTestRedis(tb testing.TB) (*miniredis.Miniredis, *redis.Client) {
	tb.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		tb.Fatalf("miniredis: %v", err)
	}
	tb.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	tb.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}
