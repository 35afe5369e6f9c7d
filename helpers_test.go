package authkeep

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()

	srv, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(srv.Close)

	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return srv, client
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.AccessSecret = []byte("test-access-secret-0123456789abcdefghij")
	cfg.JWT.RefreshSecret = []byte("test-refresh-secret-0123456789abcdefghi")
	cfg.SignedTokens.EmailSecret = []byte("test-email-secret-0123456789abcdefghijk")
	cfg.SignedTokens.ResetSecret = []byte("test-reset-secret-0123456789abcdefghijl")
	cfg.Password.Cost = 10
	cfg.Security.EnumerationDelay = time.Millisecond
	return cfg
}

const (
	testClientIP  = "198.51.100.7"
	testUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 Chrome/120.0 Safari/537.36"
)

func testContext() context.Context {
	ctx := WithClientIP(context.Background(), testClientIP)
	return WithUserAgent(ctx, testUserAgent)
}

/*
====================================
MOCKS
====================================
*/

type mockUserProvider struct {
	mu      sync.Mutex
	byEmail map[string]UserRecord
	byID    map[string]UserRecord
	nextID  int

	createErr error
}

func newMockUserProvider() *mockUserProvider {
	return &mockUserProvider{
		byEmail: map[string]UserRecord{},
		byID:    map[string]UserRecord{},
	}
}

// addUser seeds an account with the given plaintext password and returns
// its ID. The hash uses a low cost; Verify accepts any cost.
func (m *mockUserProvider) addUser(t *testing.T, email, plaintext string) string {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash test password: %v", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := "user-" + strconv.Itoa(m.nextID)
	rec := UserRecord{
		UserID:       id,
		Email:        email,
		PasswordHash: string(hash),
		Role:         "user",
		Plan:         "trial",
	}
	m.byEmail[email] = rec
	m.byID[id] = rec
	return id
}

func (m *mockUserProvider) update(t *testing.T, userID string, mutate func(*UserRecord)) {
	t.Helper()

	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[userID]
	if !ok {
		t.Fatalf("no such test user %q", userID)
	}
	mutate(&rec)
	m.byID[userID] = rec
	m.byEmail[rec.Email] = rec
}

func (m *mockUserProvider) get(t *testing.T, userID string) UserRecord {
	t.Helper()

	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[userID]
	if !ok {
		t.Fatalf("no such test user %q", userID)
	}
	return rec
}

func (m *mockUserProvider) GetUserByEmail(_ context.Context, email string) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byEmail[email]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return rec, nil
}

func (m *mockUserProvider) GetUserByID(_ context.Context, userID string) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[userID]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return rec, nil
}

func (m *mockUserProvider) CreateUser(_ context.Context, input CreateUserInput) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return UserRecord{}, m.createErr
	}
	if _, exists := m.byEmail[input.Email]; exists {
		return UserRecord{}, ErrConflict
	}
	m.nextID++
	rec := UserRecord{
		UserID:       "user-" + strconv.Itoa(m.nextID),
		Email:        input.Email,
		PasswordHash: input.PasswordHash,
		Role:         input.Role,
		Plan:         input.Plan,
	}
	m.byEmail[input.Email] = rec
	m.byID[rec.UserID] = rec
	return rec, nil
}

func (m *mockUserProvider) UpdatePasswordHash(_ context.Context, userID, newHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[userID]
	if !ok {
		return ErrUserNotFound
	}
	rec.PasswordHash = newHash
	m.byID[userID] = rec
	m.byEmail[rec.Email] = rec
	return nil
}

func (m *mockUserProvider) MarkEmailVerified(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[userID]
	if !ok {
		return ErrUserNotFound
	}
	rec.EmailVerified = true
	m.byID[userID] = rec
	m.byEmail[rec.Email] = rec
	return nil
}

// mockTrialHistory returns fixed counts per query; tests set the field they
// want the rule under test to trip on.
type mockTrialHistory struct {
	ipCount     int
	aliasCount  int
	deviceCount int
}

func (m *mockTrialHistory) CountTrialUsersByIP(context.Context, string, time.Time) (int, error) {
	return m.ipCount, nil
}

func (m *mockTrialHistory) CountUsersByEmailBase(context.Context, string, string, time.Time) (int, error) {
	return m.aliasCount, nil
}

func (m *mockTrialHistory) CountSignupsByDevice(context.Context, string, string, time.Time) (int, error) {
	return m.deviceCount, nil
}

type sentMail struct {
	email string
	token string
}

type mockMailer struct {
	mu            sync.Mutex
	verifications []sentMail
	resets        []sentMail
}

func (m *mockMailer) SendVerificationEmail(_ context.Context, email, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifications = append(m.verifications, sentMail{email: email, token: token})
	return nil
}

func (m *mockMailer) SendPasswordResetEmail(_ context.Context, email, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets = append(m.resets, sentMail{email: email, token: token})
	return nil
}

func (m *mockMailer) lastVerification(t *testing.T) sentMail {
	t.Helper()

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.verifications) == 0 {
		t.Fatal("no verification email was sent")
	}
	return m.verifications[len(m.verifications)-1]
}

func (m *mockMailer) lastReset(t *testing.T) sentMail {
	t.Helper()

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.resets) == 0 {
		t.Fatal("no reset email was sent")
	}
	return m.resets[len(m.resets)-1]
}

/*
====================================
ENGINE FIXTURE
====================================
*/

type testFixture struct {
	engine  *Engine
	users   *mockUserProvider
	history *mockTrialHistory
	mailer  *mockMailer
	redis   *miniredis.Miniredis
}

func newTestEngine(t *testing.T, mutate ...func(*Config)) *testFixture {
	t.Helper()

	srv, client := newTestRedis(t)

	cfg := testConfig()
	for _, fn := range mutate {
		fn(&cfg)
	}

	users := newMockUserProvider()
	history := &mockTrialHistory{}
	mailer := &mockMailer{}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(client).
		WithUserProvider(users).
		WithTrialHistory(history).
		WithMailer(mailer).
		WithMetricsEnabled(true).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testFixture{
		engine:  engine,
		users:   users,
		history: history,
		mailer:  mailer,
		redis:   srv,
	}
}
