package fingerprint

import "time"

// Sample is one historical login observation fed to RiskScore.
type Sample struct {
	IP        string
	UserAgent string
	Seen      time.Time
}

// Risk rule weights. Rules are additive and the total is capped at
// MaxRiskScore; the score is advisory and never blocks a login by itself.
const (
	MaxRiskScore = 100

	riskNoRecentActivity = 20
	riskIPChanged        = 30
	riskBrowserChanged   = 40
	riskOSChanged        = 50
	riskRapidIPChange    = 60
	riskManyDistinctIPs  = 25

	recentActivityWindow = 24 * time.Hour
	rapidChangeWindow    = 5 * time.Minute
	distinctIPThreshold  = 3
)

// RiskScore rates how anomalous the current login looks against the
// user's prior samples. 0 means consistent with history; 100 means almost
// everything about the client changed at once.
func RiskScore(previous []Sample, current Sample) int {
	if current.Seen.IsZero() {
		current.Seen = time.Now()
	}

	recent := samplesSince(previous, current.Seen.Add(-recentActivityWindow))

	score := 0
	if len(recent) == 0 {
		score += riskNoRecentActivity
	}

	last := latest(previous)
	if last != nil {
		if last.IP != "" && current.IP != "" && last.IP != current.IP {
			score += riskIPChanged
			if current.Seen.Sub(last.Seen) < rapidChangeWindow {
				score += riskRapidIPChange
			}
		}
		if BrowserFamily(last.UserAgent) != BrowserFamily(current.UserAgent) {
			score += riskBrowserChanged
		}
		if OSFamily(last.UserAgent) != OSFamily(current.UserAgent) {
			score += riskOSChanged
		}
	}

	if distinctIPs(recent) > distinctIPThreshold {
		score += riskManyDistinctIPs
	}

	if score > MaxRiskScore {
		return MaxRiskScore
	}
	return score
}

func samplesSince(samples []Sample, cutoff time.Time) []Sample {
	out := make([]Sample, 0, len(samples))
	for _, s := range samples {
		if s.Seen.After(cutoff) {
			out = append(out, s)
		}
	}
	return out
}

func latest(samples []Sample) *Sample {
	var best *Sample
	for i := range samples {
		if best == nil || samples[i].Seen.After(best.Seen) {
			best = &samples[i]
		}
	}
	return best
}

func distinctIPs(samples []Sample) int {
	seen := make(map[string]struct{}, len(samples))
	for _, s := range samples {
		if s.IP != "" {
			seen[s.IP] = struct{}{}
		}
	}
	return len(seen)
}
