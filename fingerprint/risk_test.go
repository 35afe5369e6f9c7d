package fingerprint

import (
	"testing"
	"time"
)

func TestRiskScoreNoHistory(t *testing.T) {
	got := RiskScore(nil, Sample{IP: "203.0.113.42", UserAgent: chromeOnMac})
	if got != riskNoRecentActivity {
		t.Fatalf("score = %d, want %d", got, riskNoRecentActivity)
	}
}

func TestRiskScoreConsistentClient(t *testing.T) {
	now := time.Now()
	previous := []Sample{
		{IP: "203.0.113.42", UserAgent: chromeOnMac, Seen: now.Add(-2 * time.Hour)},
		{IP: "203.0.113.42", UserAgent: chromeOnMac, Seen: now.Add(-30 * time.Minute)},
	}

	got := RiskScore(previous, Sample{IP: "203.0.113.42", UserAgent: chromeOnMac, Seen: now})
	if got != 0 {
		t.Fatalf("score = %d, want 0", got)
	}
}

func TestRiskScoreRules(t *testing.T) {
	now := time.Now()
	baseline := Sample{IP: "203.0.113.42", UserAgent: chromeOnMac, Seen: now.Add(-time.Hour)}

	cases := []struct {
		name     string
		previous []Sample
		current  Sample
		want     int
	}{
		{
			name:     "ip changed",
			previous: []Sample{baseline},
			current:  Sample{IP: "198.51.100.9", UserAgent: chromeOnMac, Seen: now},
			want:     riskIPChanged,
		},
		{
			name:     "browser changed",
			previous: []Sample{baseline},
			current:  Sample{IP: "203.0.113.42", UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) Gecko/20100101 Firefox/127.0", Seen: now},
			want:     riskBrowserChanged,
		},
		{
			name:     "os changed",
			previous: []Sample{baseline},
			current:  Sample{IP: "203.0.113.42", UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/126.0.0.0 Safari/537.36", Seen: now},
			want:     riskOSChanged,
		},
		{
			name: "rapid ip change",
			previous: []Sample{
				{IP: "203.0.113.42", UserAgent: chromeOnMac, Seen: now.Add(-time.Minute)},
			},
			current: Sample{IP: "198.51.100.9", UserAgent: chromeOnMac, Seen: now},
			want:    riskIPChanged + riskRapidIPChange,
		},
		{
			name: "many distinct ips",
			previous: []Sample{
				{IP: "203.0.113.1", UserAgent: chromeOnMac, Seen: now.Add(-4 * time.Hour)},
				{IP: "203.0.113.2", UserAgent: chromeOnMac, Seen: now.Add(-3 * time.Hour)},
				{IP: "203.0.113.3", UserAgent: chromeOnMac, Seen: now.Add(-2 * time.Hour)},
				{IP: "203.0.113.4", UserAgent: chromeOnMac, Seen: now.Add(-time.Hour)},
			},
			current: Sample{IP: "203.0.113.4", UserAgent: chromeOnMac, Seen: now},
			want:    riskManyDistinctIPs,
		},
		{
			name: "stale history counts as no recent activity",
			previous: []Sample{
				{IP: "203.0.113.42", UserAgent: chromeOnMac, Seen: now.Add(-48 * time.Hour)},
			},
			current: Sample{IP: "203.0.113.42", UserAgent: chromeOnMac, Seen: now},
			want:    riskNoRecentActivity,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := RiskScore(tc.previous, tc.current); got != tc.want {
				t.Fatalf("score = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestRiskScoreCapped(t *testing.T) {
	now := time.Now()

	// Every rule fires at once: stale-plus-rapid history from four IPs,
	// then a fifth IP with a new browser and OS seconds later.
	previous := []Sample{
		{IP: "203.0.113.1", UserAgent: chromeOnMac, Seen: now.Add(-20 * time.Minute)},
		{IP: "203.0.113.2", UserAgent: chromeOnMac, Seen: now.Add(-15 * time.Minute)},
		{IP: "203.0.113.3", UserAgent: chromeOnMac, Seen: now.Add(-10 * time.Minute)},
		{IP: "203.0.113.4", UserAgent: chromeOnMac, Seen: now.Add(-time.Minute)},
	}
	current := Sample{
		IP:        "198.51.100.9",
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Gecko/20100101 Firefox/127.0",
		Seen:      now,
	}

	if got := RiskScore(previous, current); got != MaxRiskScore {
		t.Fatalf("score = %d, want %d", got, MaxRiskScore)
	}
}

func TestRiskScoreZeroSeenDefaultsToNow(t *testing.T) {
	previous := []Sample{
		{IP: "203.0.113.42", UserAgent: chromeOnMac, Seen: time.Now().Add(-time.Hour)},
	}

	got := RiskScore(previous, Sample{IP: "203.0.113.42", UserAgent: chromeOnMac})
	if got != 0 {
		t.Fatalf("score = %d, want 0", got)
	}
}
