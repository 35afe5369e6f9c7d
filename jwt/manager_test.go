package jwt

import (
	"strings"
	"testing"
	"time"
)

func testManagerConfig() Config {
	return Config{
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
		AccessSecret:  []byte("test-access-secret-0123456789abcdefghij"),
		RefreshSecret: []byte("test-refresh-secret-0123456789abcdefghi"),
		Issuer:        "authkeep-test",
	}
}

func newTestManager(t *testing.T, mutate ...func(*Config)) *Manager {
	t.Helper()

	cfg := testManagerConfig()
	for _, fn := range mutate {
		fn(&cfg)
	}
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestNewManagerRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero access ttl", func(c *Config) { c.AccessTTL = 0 }},
		{"short access secret", func(c *Config) { c.AccessSecret = []byte("short") }},
		{"short refresh secret", func(c *Config) { c.RefreshSecret = []byte("short") }},
		{"identical secrets", func(c *Config) { c.RefreshSecret = c.AccessSecret }},
		{"negative leeway", func(c *Config) { c.Leeway = -time.Second }},
		{"excessive leeway", func(c *Config) { c.Leeway = time.Hour }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testManagerConfig()
			tc.mutate(&cfg)
			if _, err := NewManager(cfg); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestAccessTokenRoundTrip(t *testing.T) {
	m := newTestManager(t)

	signed, expiry, err := m.CreateAccess("user-1", "dana@example.com", "admin", "pro", "sess-1", "device-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !expiry.After(time.Now().Add(14 * time.Minute)) {
		t.Errorf("expiry = %v, want roughly now+15m", expiry)
	}

	claims, err := m.ParseAccess(signed)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "user-1" || claims.Email != "dana@example.com" {
		t.Errorf("identity claims = %q/%q", claims.Subject, claims.Email)
	}
	if claims.Role != "admin" || claims.Plan != "pro" {
		t.Errorf("role/plan = %q/%q", claims.Role, claims.Plan)
	}
	if claims.SessionID != "sess-1" || claims.DeviceFingerprint != "device-1" {
		t.Errorf("session binding = %q/%q", claims.SessionID, claims.DeviceFingerprint)
	}
	if claims.Issuer != "authkeep-test" {
		t.Errorf("issuer = %q", claims.Issuer)
	}
}

func TestAccessTokensAreUniquePerMint(t *testing.T) {
	m := newTestManager(t)

	a, _, err := m.CreateAccess("user-1", "dana@example.com", "user", "trial", "sess-1", "device-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	b, _, err := m.CreateAccess("user-1", "dana@example.com", "user", "trial", "sess-1", "device-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if a == b {
		t.Fatal("two mints with identical claims produced identical tokens")
	}
}

func TestRefreshTokenRoundTrip(t *testing.T) {
	m := newTestManager(t)

	signed, _, err := m.CreateRefresh("user-1", "sess-1", "fam-1", "row-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	claims, err := m.ParseRefresh(signed)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "user-1" || claims.SessionID != "sess-1" {
		t.Errorf("identity = %q/%q", claims.Subject, claims.SessionID)
	}
	if claims.Family != "fam-1" || claims.ID != "row-1" {
		t.Errorf("family/id = %q/%q", claims.Family, claims.ID)
	}
}

func TestSecretsDoNotCrossValidate(t *testing.T) {
	m := newTestManager(t)

	access, _, err := m.CreateAccess("user-1", "dana@example.com", "user", "trial", "sess-1", "device-1")
	if err != nil {
		t.Fatalf("create access: %v", err)
	}
	refresh, _, err := m.CreateRefresh("user-1", "sess-1", "fam-1", "row-1")
	if err != nil {
		t.Fatalf("create refresh: %v", err)
	}

	if _, err := m.ParseRefresh(access); err == nil {
		t.Error("access token passed refresh validation")
	}
	if _, err := m.ParseAccess(refresh); err == nil {
		t.Error("refresh token passed access validation")
	}
}

func TestParseRejectsTamperedToken(t *testing.T) {
	m := newTestManager(t)

	signed, _, err := m.CreateAccess("user-1", "dana@example.com", "user", "trial", "sess-1", "device-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	parts := strings.Split(signed, ".")
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))
	if _, err := m.ParseAccess(tampered); err == nil {
		t.Error("tampered signature accepted")
	}
}

func TestParseRejectsForeignSecret(t *testing.T) {
	m := newTestManager(t)
	other := newTestManager(t, func(c *Config) {
		c.AccessSecret = []byte("other-access-secret-0123456789abcdefghi")
	})

	signed, _, err := other.CreateAccess("user-1", "dana@example.com", "user", "trial", "sess-1", "device-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := m.ParseAccess(signed); err == nil {
		t.Error("token signed under a different secret accepted")
	}
}

func TestParseRejectsExpiredToken(t *testing.T) {
	m := newTestManager(t, func(c *Config) {
		c.AccessTTL = time.Millisecond
		c.Leeway = 0
	})

	signed, _, err := m.CreateAccess("user-1", "dana@example.com", "user", "trial", "sess-1", "device-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	time.Sleep(1100 * time.Millisecond)
	if _, err := m.ParseAccess(signed); err == nil {
		t.Error("expired token accepted")
	}
}

func TestParseRejectsWrongIssuer(t *testing.T) {
	minted := newTestManager(t, func(c *Config) { c.Issuer = "someone-else" })
	m := newTestManager(t)

	signed, _, err := minted.CreateAccess("user-1", "dana@example.com", "user", "trial", "sess-1", "device-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := m.ParseAccess(signed); err == nil {
		t.Error("token with wrong issuer accepted")
	}
}
